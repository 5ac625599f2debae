// Package chat holds the types shared by everything that talks to a chat
// platform: members, message handles, rendered payloads and the Messenger
// boundary implemented by each transport.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Member is a participant of a conversation.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Handle identifies a sent message so it can be updated in place.
type Handle string

// Payload is a rendered message. Transports pick the representation they
// understand: a card attachment, or the plain text fallback.
type Payload struct {
	Text  string            `json:"text,omitempty"`
	Cards []json.RawMessage `json:"cards,omitempty"`

	// Layout hints a carousel when there is more than one card.
	Layout string `json:"layout,omitempty"`

	// Mention, when set, tags the member in the message.
	Mention *Member `json:"mention,omitempty"`

	// Title and Size are used by transports that open the payload in a
	// dialog rather than posting it.
	Title string `json:"title,omitempty"`
	Size  string `json:"size,omitempty"`
}

// Messenger is the outbound side of a chat transport.
type Messenger interface {
	// SendToConversation posts a payload to the conversation.
	SendToConversation(ctx context.Context, conversationID string, p Payload) (Handle, error)

	// SendToMember posts a payload to the conversation tagging one member.
	SendToMember(ctx context.Context, conversationID string, member Member, p Payload) (Handle, error)

	// Update replaces the content of a previously sent message.
	Update(ctx context.Context, conversationID string, h Handle, p Payload) error

	// Typing shows a typing indicator.
	Typing(ctx context.Context, conversationID string) error

	// ListMembers returns one page of members and the token of the next
	// page. An empty token means the listing is complete.
	ListMembers(ctx context.Context, conversationID, pageToken string) ([]Member, string, error)
}

// ErrThrottled is wrapped by transports when the platform rejected a call
// because of rate limiting.
var ErrThrottled = errors.New("chat: throttled")

// ThrottleError carries the platform's retry hint, if it sent one.
type ThrottleError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: throttled, retry after %s", e.Op, e.RetryAfter)
	}
	return fmt.Sprintf("%s: throttled", e.Op)
}

// Is reports ErrThrottled so callers can use errors.Is.
func (e *ThrottleError) Is(target error) bool {
	return target == ErrThrottled
}

// RetryAfter extracts the retry hint from err, or zero.
func RetryAfter(err error) time.Duration {
	var te *ThrottleError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}
