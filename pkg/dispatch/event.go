package dispatch

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/harun/standup/pkg/chat"
)

// Kind classifies an inbound event.
type Kind string

const (
	KindMessage      Kind = "message"
	KindMembersAdded Kind = "members_added"
	KindInvokeFetch  Kind = "invoke_fetch"
	KindInvokeSubmit Kind = "invoke_submit"
	KindOther        Kind = "other"
)

// Conversation types.
const (
	ConversationGroup    = "groupChat"
	ConversationPersonal = "personal"
	ConversationChannel  = "channel"
)

// Event is one inbound activity, normalized by the channel that received it.
type Event struct {
	// ID identifies the activity; redeliveries carry the same ID.
	ID               string
	Kind             Kind
	Channel          string
	TenantID         string
	ConversationID   string
	ConversationType string
	From             chat.Member
	// Recipient is the bot itself.
	Recipient    chat.Member
	Text         string
	MembersAdded []chat.Member
	// Submission is the raw data posted by a card action.
	Submission json.RawMessage
}

// IsInvoke reports whether the sender waits for an InvokeResponse.
func (e Event) IsInvoke() bool {
	return e.Kind == KindInvokeFetch || e.Kind == KindInvokeSubmit
}

// InvokeResponse is the synchronous reply to an invoke event.
type InvokeResponse struct {
	Status int
	View   *chat.Payload
}

var atTag = regexp.MustCompile(`(?is)<at>.*?</at>`)

// Command returns the keyword text of a message: mentions removed, trimmed
// and lower-cased.
func Command(text, botName string) string {
	text = atTag.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if botName != "" {
		prefix := "@" + botName
		if len(text) >= len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) {
			rest := text[len(prefix):]
			if rest == "" || rest[0] == ' ' {
				text = rest
			}
		}
	}

	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
