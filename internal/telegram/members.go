package telegram

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/harun/standup/pkg/chat"
	"github.com/harun/standup/pkg/view"
)

// memberBook is the roster of each chat as far as the bot has seen it. The
// Bot API cannot enumerate group members, so members are learned from
// messages and join/leave events and seeded once from the administrators.
type memberBook struct {
	mu    sync.RWMutex
	chats map[int64]map[string]chat.Member
	// seeded marks chats whose administrators were merged in.
	seeded map[int64]bool
	// left holds members seen leaving, so seeding does not bring them back.
	left map[int64]map[string]bool
}

func newMemberBook() *memberBook {
	return &memberBook{
		chats:  make(map[int64]map[string]chat.Member),
		seeded: make(map[int64]bool),
		left:   make(map[int64]map[string]bool),
	}
}

func (b *memberBook) learn(chatID int64, m chat.Member) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(chatID, m)
	delete(b.left[chatID], m.ID)
}

func (b *memberBook) add(chatID int64, m chat.Member) {
	members, ok := b.chats[chatID]
	if !ok {
		members = make(map[string]chat.Member)
		b.chats[chatID] = members
	}
	members[m.ID] = m
}

func (b *memberBook) forget(chatID int64, memberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.chats[chatID], memberID)
	if b.left[chatID] == nil {
		b.left[chatID] = make(map[string]bool)
	}
	b.left[chatID][memberID] = true
}

func (b *memberBook) isSeeded(chatID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seeded[chatID]
}

// seed merges admins into the chat without overriding what was learned
// since, and marks the chat seeded.
func (b *memberBook) seed(chatID int64, admins []chat.Member) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range admins {
		if b.left[chatID][m.ID] {
			continue
		}
		if _, ok := b.chats[chatID][m.ID]; ok {
			continue
		}
		b.add(chatID, m)
	}
	b.seeded[chatID] = true
}

// list returns the chat's members ordered by id.
func (b *memberBook) list(chatID int64) []chat.Member {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]chat.Member, 0, len(b.chats[chatID]))
	for _, m := range b.chats[chatID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// formBook remembers the member map of the last scrum prompt posted in each
// chat, so text submissions can carry it like a card submit would.
type formBook struct {
	mu        sync.RWMutex
	snapshots map[int64]string
}

func newFormBook() *formBook {
	return &formBook{snapshots: make(map[int64]string)}
}

// observe records the member map embedded in p's cards and reports whether
// there was one.
func (f *formBook) observe(chatID int64, p chat.Payload) bool {
	for _, card := range p.Cards {
		var doc interface{}
		if err := json.Unmarshal(card, &doc); err != nil {
			continue
		}
		if snapshot, ok := findString(doc, view.FieldMembers); ok {
			f.mu.Lock()
			f.snapshots[chatID] = snapshot
			f.mu.Unlock()
			return true
		}
	}
	return false
}

func (f *formBook) submission(chatID int64, fields map[string]string) json.RawMessage {
	f.mu.RLock()
	snapshot := f.snapshots[chatID]
	f.mu.RUnlock()
	return marshalSubmission(snapshot, fields)
}

// findString walks a decoded JSON document for the first string under key.
func findString(doc interface{}, key string) (string, bool) {
	switch v := doc.(type) {
	case map[string]interface{}:
		if s, ok := v[key].(string); ok {
			return s, true
		}
		for _, child := range v {
			if s, ok := findString(child, key); ok {
				return s, true
			}
		}
	case []interface{}:
		for _, child := range v {
			if s, ok := findString(child, key); ok {
				return s, true
			}
		}
	}
	return "", false
}
