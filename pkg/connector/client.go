// Package connector implements chat.Messenger over a Bot Framework style
// REST connector.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/standup/pkg/chat"
)

const adaptiveCardContentType = "application/vnd.microsoft.card.adaptive"

// ErrNoServiceURL is returned when no endpoint is known for a conversation.
var ErrNoServiceURL = errors.New("connector: no service url for conversation")

// StatusError is a non-2xx response other than throttling.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// Options configures a Client.
type Options struct {
	// ServiceURL is used for conversations whose activities did not carry
	// one.
	ServiceURL string
	Token      string
	PageSize   int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the connector service.
type Client struct {
	opts   Options
	http   *http.Client
	logger zerolog.Logger

	mu   sync.RWMutex
	urls map[string]string
}

var _ chat.Messenger = (*Client)(nil)

// New creates a Client.
func New(opts Options, logger zerolog.Logger) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		opts:   opts,
		http:   hc,
		logger: logger.With().Str("component", "connector").Logger(),
		urls:   make(map[string]string),
	}
}

// Remember records the service url a conversation's activities arrived from.
func (c *Client) Remember(conversationID, serviceURL string) {
	serviceURL = strings.TrimRight(serviceURL, "/")
	if conversationID == "" || serviceURL == "" {
		return
	}
	c.mu.Lock()
	c.urls[conversationID] = serviceURL
	c.mu.Unlock()
}

func (c *Client) baseURL(conversationID string) (string, error) {
	c.mu.RLock()
	u, ok := c.urls[conversationID]
	c.mu.RUnlock()
	if ok {
		return u, nil
	}
	if c.opts.ServiceURL != "" {
		return strings.TrimRight(c.opts.ServiceURL, "/"), nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoServiceURL, conversationID)
}

type attachment struct {
	ContentType string          `json:"contentType"`
	Content     json.RawMessage `json:"content"`
}

type mentionEntity struct {
	Type      string      `json:"type"`
	Mentioned chat.Member `json:"mentioned"`
	Text      string      `json:"text"`
}

type outgoing struct {
	Type             string          `json:"type"`
	Text             string          `json:"text,omitempty"`
	TextFormat       string          `json:"textFormat,omitempty"`
	Attachments      []attachment    `json:"attachments,omitempty"`
	AttachmentLayout string          `json:"attachmentLayout,omitempty"`
	Entities         []mentionEntity `json:"entities,omitempty"`
}

func toActivity(p chat.Payload) outgoing {
	a := outgoing{Type: "message", Text: p.Text, AttachmentLayout: p.Layout}
	for _, card := range p.Cards {
		a.Attachments = append(a.Attachments, attachment{ContentType: adaptiveCardContentType, Content: card})
	}
	if p.Mention != nil {
		tag := "<at>" + p.Mention.Name + "</at>"
		a.Text = tag + " " + a.Text
		a.TextFormat = "xml"
		a.Entities = []mentionEntity{{Type: "mention", Mentioned: *p.Mention, Text: tag}}
	}
	return a
}

type resourceResponse struct {
	ID string `json:"id"`
}

func activitiesPath(conversationID string) string {
	return "/v3/conversations/" + url.PathEscape(conversationID) + "/activities"
}

// SendToConversation implements chat.Messenger.
func (c *Client) SendToConversation(ctx context.Context, conversationID string, p chat.Payload) (chat.Handle, error) {
	var res resourceResponse
	if err := c.do(ctx, "send_to_conversation", http.MethodPost, conversationID, activitiesPath(conversationID), toActivity(p), &res); err != nil {
		return "", err
	}
	return chat.Handle(res.ID), nil
}

// SendToMember implements chat.Messenger.
func (c *Client) SendToMember(ctx context.Context, conversationID string, member chat.Member, p chat.Payload) (chat.Handle, error) {
	p.Mention = &member
	var res resourceResponse
	if err := c.do(ctx, "send_to_member", http.MethodPost, conversationID, activitiesPath(conversationID), toActivity(p), &res); err != nil {
		return "", err
	}
	return chat.Handle(res.ID), nil
}

// Update implements chat.Messenger.
func (c *Client) Update(ctx context.Context, conversationID string, h chat.Handle, p chat.Payload) error {
	path := activitiesPath(conversationID) + "/" + url.PathEscape(string(h))
	return c.do(ctx, "update", http.MethodPut, conversationID, path, toActivity(p), nil)
}

// Typing implements chat.Messenger.
func (c *Client) Typing(ctx context.Context, conversationID string) error {
	return c.do(ctx, "typing", http.MethodPost, conversationID, activitiesPath(conversationID), outgoing{Type: "typing"}, nil)
}

type pagedMembers struct {
	Members           []chat.Member `json:"members"`
	ContinuationToken string        `json:"continuationToken"`
}

// ListMembers implements chat.Messenger.
func (c *Client) ListMembers(ctx context.Context, conversationID, pageToken string) ([]chat.Member, string, error) {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(c.opts.PageSize))
	if pageToken != "" {
		q.Set("continuationToken", pageToken)
	}
	path := "/v3/conversations/" + url.PathEscape(conversationID) + "/pagedmembers?" + q.Encode()

	var res pagedMembers
	if err := c.do(ctx, "list_members", http.MethodGet, conversationID, path, nil, &res); err != nil {
		return nil, "", err
	}
	return res.Members, res.ContinuationToken, nil
}

func (c *Client) do(ctx context.Context, op, method, conversationID, path string, body, out interface{}) error {
	base, err := c.baseURL(conversationID)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &chat.ThrottleError{Op: op, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("Connector call failed")
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
