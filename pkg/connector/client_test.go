package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/standup/pkg/chat"
)

type captured struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]interface{}
}

type fakeService struct {
	mu       sync.Mutex
	requests []captured
	respond  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := captured{Method: r.Method, Path: r.URL.EscapedPath(), Query: r.URL.RawQuery, Auth: r.Header.Get("Authorization")}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &c.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, c)
	f.mu.Unlock()

	if f.respond != nil {
		f.respond(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"id":"act-42"}`))
}

func (f *fakeService) last(t *testing.T) captured {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newClient(t *testing.T, svc *fakeService) *Client {
	t.Helper()
	ts := httptest.NewServer(svc)
	t.Cleanup(ts.Close)
	c := New(Options{Token: "tok", PageSize: 2}, zerolog.Nop())
	c.Remember("19:team@thread", ts.URL+"/")
	return c
}

func TestSendToConversation(t *testing.T) {
	svc := &fakeService{}
	c := newClient(t, svc)

	card := json.RawMessage(`{"type":"AdaptiveCard"}`)
	h, err := c.SendToConversation(context.Background(), "19:team@thread", chat.Payload{Text: "hello", Cards: []json.RawMessage{card}})
	require.NoError(t, err)
	assert.Equal(t, chat.Handle("act-42"), h)

	req := svc.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/v3/conversations/19:team@thread/activities", req.Path)
	assert.Equal(t, "Bearer tok", req.Auth)
	assert.Equal(t, "message", req.Body["type"])
	assert.Equal(t, "hello", req.Body["text"])

	attachments := req.Body["attachments"].([]interface{})
	require.Len(t, attachments, 1)
	assert.Equal(t, adaptiveCardContentType, attachments[0].(map[string]interface{})["contentType"])
}

func TestSendToMemberMentions(t *testing.T) {
	svc := &fakeService{}
	c := newClient(t, svc)

	_, err := c.SendToMember(context.Background(), "19:team@thread", chat.Member{ID: "29:alice", Name: "Alice"}, chat.Payload{Text: "your turn"})
	require.NoError(t, err)

	req := svc.last(t)
	assert.Equal(t, "<at>Alice</at> your turn", req.Body["text"])
	entities := req.Body["entities"].([]interface{})
	require.Len(t, entities, 1)
	entity := entities[0].(map[string]interface{})
	assert.Equal(t, "mention", entity["type"])
	assert.Equal(t, "29:alice", entity["mentioned"].(map[string]interface{})["id"])
}

func TestUpdateAndTyping(t *testing.T) {
	svc := &fakeService{}
	c := newClient(t, svc)

	require.NoError(t, c.Update(context.Background(), "19:team@thread", "act-7", chat.Payload{Text: "edited"}))
	req := svc.last(t)
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/v3/conversations/19:team@thread/activities/act-7", req.Path)

	require.NoError(t, c.Typing(context.Background(), "19:team@thread"))
	assert.Equal(t, "typing", svc.last(t).Body["type"])
}

func TestListMembersPaging(t *testing.T) {
	svc := &fakeService{respond: func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("continuationToken") == "" {
			_, _ = w.Write([]byte(`{"members":[{"id":"a","name":"A"},{"id":"b","name":"B"}],"continuationToken":"next"}`))
			return
		}
		_, _ = w.Write([]byte(`{"members":[{"id":"c","name":"C"}]}`))
	}}
	c := newClient(t, svc)

	members, next, err := c.ListMembers(context.Background(), "19:team@thread", "")
	require.NoError(t, err)
	assert.Len(t, members, 2)
	assert.Equal(t, "next", next)
	assert.Contains(t, svc.last(t).Query, "pageSize=2")

	members, next, err = c.ListMembers(context.Background(), "19:team@thread", next)
	require.NoError(t, err)
	assert.Equal(t, []chat.Member{{ID: "c", Name: "C"}}, members)
	assert.Empty(t, next)
}

func TestThrottled(t *testing.T) {
	svc := &fakeService{respond: func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}}
	c := newClient(t, svc)

	_, err := c.SendToConversation(context.Background(), "19:team@thread", chat.Payload{Text: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrThrottled)

	var te *chat.ThrottleError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3*time.Second, te.RetryAfter)
	assert.Equal(t, "send_to_conversation", te.Op)
}

func TestStatusError(t *testing.T) {
	svc := &fakeService{respond: func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "conversation not found", http.StatusNotFound)
	}}
	c := newClient(t, svc)

	err := c.Typing(context.Background(), "19:team@thread")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Contains(t, se.Body, "not found")
	assert.NotErrorIs(t, err, chat.ErrThrottled)
}

func TestNoServiceURL(t *testing.T) {
	c := New(Options{}, zerolog.Nop())
	_, err := c.SendToConversation(context.Background(), "unknown", chat.Payload{})
	assert.ErrorIs(t, err, ErrNoServiceURL)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-1", now))
	assert.Equal(t, 10*time.Second, parseRetryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
}
