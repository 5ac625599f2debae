// Package chattest provides an in-memory chat.Messenger for tests.
package chattest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/harun/standup/pkg/chat"
)

// Call kinds recorded by Messenger.
const (
	CallSend   = "send"
	CallMember = "member"
	CallUpdate = "update"
	CallTyping = "typing"
	CallList   = "list"
)

// Call is one recorded messenger call.
type Call struct {
	Kind           string
	ConversationID string
	Member         chat.Member
	Handle         chat.Handle
	Payload        chat.Payload
}

// Messenger records every call and serves member pages from Pages.
// Fail, when set, is consulted before each call; a non-nil error fails it.
type Messenger struct {
	mu    sync.Mutex
	calls []Call
	seq   int

	// Pages maps a page token ("" for the first page) to a page.
	Pages map[string]Page

	Fail func(c Call) error
}

// Page is one ListMembers response.
type Page struct {
	Members []chat.Member
	Next    string
	Err     error
}

// New returns a messenger serving members as a single page.
func New(members ...chat.Member) *Messenger {
	return &Messenger{Pages: map[string]Page{"": {Members: members}}}
}

// Paged returns a messenger serving members in pages of size n.
func Paged(n int, members ...chat.Member) *Messenger {
	pages := map[string]Page{}
	token := ""
	for i := 0; i < len(members) || i == 0; i += n {
		end := i + n
		if end > len(members) {
			end = len(members)
		}
		next := ""
		if end < len(members) {
			next = "page-" + strconv.Itoa(end)
		}
		pages[token] = Page{Members: members[i:end], Next: next}
		token = next
		if next == "" {
			break
		}
	}
	return &Messenger{Pages: pages}
}

func (m *Messenger) record(c Call) error {
	m.mu.Lock()
	fail := m.Fail
	m.calls = append(m.calls, c)
	m.mu.Unlock()

	if fail != nil {
		return fail(c)
	}
	return nil
}

func (m *Messenger) nextHandle() chat.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return chat.Handle(fmt.Sprintf("msg-%d", m.seq))
}

// SendToConversation implements chat.Messenger.
func (m *Messenger) SendToConversation(_ context.Context, conversationID string, p chat.Payload) (chat.Handle, error) {
	if err := m.record(Call{Kind: CallSend, ConversationID: conversationID, Payload: p}); err != nil {
		return "", err
	}
	return m.nextHandle(), nil
}

// SendToMember implements chat.Messenger.
func (m *Messenger) SendToMember(_ context.Context, conversationID string, member chat.Member, p chat.Payload) (chat.Handle, error) {
	if err := m.record(Call{Kind: CallMember, ConversationID: conversationID, Member: member, Payload: p}); err != nil {
		return "", err
	}
	return m.nextHandle(), nil
}

// Update implements chat.Messenger.
func (m *Messenger) Update(_ context.Context, conversationID string, h chat.Handle, p chat.Payload) error {
	return m.record(Call{Kind: CallUpdate, ConversationID: conversationID, Handle: h, Payload: p})
}

// Typing implements chat.Messenger.
func (m *Messenger) Typing(_ context.Context, conversationID string) error {
	return m.record(Call{Kind: CallTyping, ConversationID: conversationID})
}

// ListMembers implements chat.Messenger.
func (m *Messenger) ListMembers(_ context.Context, conversationID, pageToken string) ([]chat.Member, string, error) {
	if err := m.record(Call{Kind: CallList, ConversationID: conversationID, Handle: chat.Handle(pageToken)}); err != nil {
		return nil, "", err
	}
	m.mu.Lock()
	page, ok := m.Pages[pageToken]
	m.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("unknown page token %q", pageToken)
	}
	return page.Members, page.Next, page.Err
}

// Calls returns a copy of the recorded calls, optionally filtered by kind.
func (m *Messenger) Calls(kinds ...string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Call
	for _, c := range m.calls {
		if len(kinds) == 0 {
			out = append(out, c)
			continue
		}
		for _, k := range kinds {
			if c.Kind == k {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Reset forgets recorded calls.
func (m *Messenger) Reset() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

// Members builds n members named member-1..member-n.
func Members(n int) []chat.Member {
	out := make([]chat.Member, n)
	for i := range out {
		id := strconv.Itoa(i + 1)
		out[i] = chat.Member{ID: "member-" + id, Name: "Member " + id}
	}
	return out
}
