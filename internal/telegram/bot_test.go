package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/standup/internal/config"
	"github.com/harun/standup/pkg/chat"
	"github.com/harun/standup/pkg/dispatch"
	"github.com/harun/standup/pkg/view"
)

const chatID int64 = -100123

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	admins   []tgbotapi.ChatMember
	adminReq int
	sendErr  error
	reqErr   error
	nextID   int
	updates  chan tgbotapi.Update
	stopOnce sync.Once
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 8), nextID: 100}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	if f.reqErr != nil {
		return nil, f.reqErr
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.stopOnce.Do(func() { close(f.updates) })
}

func (f *fakeAPI) GetChatAdministrators(tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adminReq++
	return f.admins, nil
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

var self = tgbotapi.User{ID: 42, UserName: "standup_bot", IsBot: true}

func newBot(api *fakeAPI, allowed ...int64) *Bot {
	return NewWithAPI(api, self, Options{TenantID: "tenant-1", AllowedChats: allowed}, zerolog.Nop())
}

func group() *tgbotapi.Chat { return &tgbotapi.Chat{ID: chatID, Type: "supergroup"} }

func alice() *tgbotapi.User { return &tgbotapi.User{ID: 7, FirstName: "Alice", LastName: "Liddell"} }

func command(text string) *tgbotapi.Message {
	cmd := text
	for i, r := range text {
		if r == ' ' {
			cmd = text[:i]
			break
		}
	}
	return &tgbotapi.Message{
		MessageID: 5,
		From:      alice(),
		Chat:      group(),
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

func TestNew(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		bot, err := New(nil, "t", zerolog.Nop())
		assert.Error(t, err)
		assert.Nil(t, bot)
		assert.Contains(t, err.Error(), "config is required")
	})

	t.Run("empty bot token", func(t *testing.T) {
		bot, err := New(&config.TelegramConfig{}, "t", zerolog.Nop())
		assert.Error(t, err)
		assert.Nil(t, bot)
		assert.Contains(t, err.Error(), "bot token is required")
	})
}

func TestValidateTokenEmpty(t *testing.T) {
	assert.Error(t, ValidateToken(""))
}

func TestConversationID(t *testing.T) {
	id := ConversationID(chatID)
	assert.Equal(t, "telegram:-100123", id)

	got, err := ParseConversationID(id)
	require.NoError(t, err)
	assert.Equal(t, chatID, got)

	_, err = ParseConversationID("19:team@thread")
	assert.ErrorIs(t, err, ErrForeignConversation)
	_, err = ParseConversationID("telegram:abc")
	assert.ErrorIs(t, err, ErrForeignConversation)
}

func TestToEvent(t *testing.T) {
	b := newBot(newFakeAPI())

	t.Run("plain text", func(t *testing.T) {
		ev, ok := b.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{MessageID: 9, From: alice(), Chat: group(), Text: "start scrum"}})
		require.True(t, ok)
		assert.Equal(t, dispatch.KindMessage, ev.Kind)
		assert.Equal(t, ChannelName, ev.Channel)
		assert.Equal(t, "tenant-1", ev.TenantID)
		assert.Equal(t, "-100123:9", ev.ID)
		assert.Equal(t, dispatch.ConversationGroup, ev.ConversationType)
		assert.Equal(t, chat.Member{ID: "7", Name: "Alice Liddell"}, ev.From)
		assert.Equal(t, "42", ev.Recipient.ID)
	})

	t.Run("commands map to keywords", func(t *testing.T) {
		for text, want := range map[string]string{
			"/startscrum":             view.CommandStart,
			"/endscrum":               view.CommandEnd,
			"/tour":                   view.CommandTour,
			"/startscrum@standup_bot": view.CommandStart,
			"/whatever":               view.CommandHelp,
		} {
			ev, ok := b.toEvent(tgbotapi.Update{Message: command(text)})
			require.True(t, ok, text)
			assert.Equal(t, want, ev.Text, text)
		}
	})

	t.Run("private chat", func(t *testing.T) {
		ev, ok := b.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{From: alice(), Chat: &tgbotapi.Chat{ID: 7, Type: "private"}, Text: "hi"}})
		require.True(t, ok)
		assert.Equal(t, dispatch.ConversationPersonal, ev.ConversationType)
	})

	t.Run("bot added", func(t *testing.T) {
		ev, ok := b.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{
			From:           alice(),
			Chat:           group(),
			NewChatMembers: []tgbotapi.User{self, {ID: 8, FirstName: "Bob"}},
		}})
		require.True(t, ok)
		assert.Equal(t, dispatch.KindMembersAdded, ev.Kind)
		assert.Equal(t, []chat.Member{{ID: "42", Name: "standup_bot"}, {ID: "8", Name: "Bob"}}, ev.MembersAdded)
	})

	t.Run("ignored", func(t *testing.T) {
		_, ok := b.toEvent(tgbotapi.Update{})
		assert.False(t, ok)
		_, ok = b.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{From: alice(), Chat: group()}})
		assert.False(t, ok)
	})
}

func TestTenantFromAllowedChats(t *testing.T) {
	b := newBot(newFakeAPI(), 1, 2)
	ev, ok := b.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{From: alice(), Chat: group(), Text: "help"}})
	require.True(t, ok)
	assert.Empty(t, ev.TenantID)

	b = newBot(newFakeAPI(), chatID)
	ev, _ = b.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{From: alice(), Chat: group(), Text: "help"}})
	assert.Equal(t, "tenant-1", ev.TenantID)
}

func TestUpdateCommandCarriesSnapshot(t *testing.T) {
	api := newFakeAPI()
	b := newBot(api)

	card := json.RawMessage(`{"type":"AdaptiveCard","actions":[{"data":{"membersActivityIdMap":"{\"7\":\"101\"}"}}]}`)
	_, err := b.SendToConversation(context.Background(), ConversationID(chatID), chat.Payload{Text: "Scrum started", Cards: []json.RawMessage{card}})
	require.NoError(t, err)
	msgs := api.messages()
	require.Len(t, msgs, 1)
	assert.NotNil(t, msgs[0].ReplyMarkup, "prompt offers the update button")

	ev, ok := b.toEvent(tgbotapi.Update{Message: command("/update fixed bug | write tests | none")})
	require.True(t, ok)
	assert.Equal(t, dispatch.KindInvokeSubmit, ev.Kind)

	var data map[string]string
	require.NoError(t, json.Unmarshal(ev.Submission, &data))
	assert.Equal(t, map[string]string{
		view.FieldYesterday: "fixed bug",
		view.FieldToday:     "write tests",
		view.FieldBlockers:  "none",
		view.FieldMembers:   `{"7":"101"}`,
	}, data)

	ev, _ = b.toEvent(tgbotapi.Update{Message: command("/update")})
	assert.Equal(t, dispatch.KindInvokeFetch, ev.Kind)

	ev, ok = b.toEvent(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb1", From: alice(), Message: &tgbotapi.Message{Chat: group()}, Data: callbackFetch,
	}})
	require.True(t, ok)
	assert.Equal(t, dispatch.KindInvokeFetch, ev.Kind)
	assert.Contains(t, string(ev.Submission), "membersActivityIdMap")
}

func TestSendToMemberMentions(t *testing.T) {
	api := newFakeAPI()
	b := newBot(api)

	h, err := b.SendToMember(context.Background(), ConversationID(chatID), chat.Member{ID: "7", Name: "Alice <3"}, chat.Payload{Text: "your turn"})
	require.NoError(t, err)
	assert.Equal(t, chat.Handle("101"), h)

	msgs := api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, chatID, msgs[0].ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, msgs[0].ParseMode)
	assert.Equal(t, `<a href="tg://user?id=7">Alice &lt;3</a> your turn`, msgs[0].Text)
	assert.Nil(t, msgs[0].ReplyMarkup)
}

func TestUpdateEditsMessage(t *testing.T) {
	api := newFakeAPI()
	b := newBot(api)

	require.NoError(t, b.Update(context.Background(), ConversationID(chatID), "55", chat.Payload{Text: "done"}))
	require.Len(t, api.requests, 1)
	edit, ok := api.requests[0].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, 55, edit.MessageID)
	assert.Equal(t, "done", edit.Text)

	assert.Error(t, b.Update(context.Background(), ConversationID(chatID), "not-a-number", chat.Payload{}))

	api.reqErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}
	assert.NoError(t, b.Update(context.Background(), ConversationID(chatID), "55", chat.Payload{Text: "done"}))
}

func TestThrottleMapping(t *testing.T) {
	api := newFakeAPI()
	api.sendErr = &tgbotapi.Error{Code: http.StatusTooManyRequests, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 4}}
	b := newBot(api)

	_, err := b.SendToConversation(context.Background(), ConversationID(chatID), chat.Payload{Text: "x"})
	require.ErrorIs(t, err, chat.ErrThrottled)
	assert.Equal(t, 4*time.Second, chat.RetryAfter(err))

	api.sendErr = errors.New("network down")
	_, err = b.SendToConversation(context.Background(), ConversationID(chatID), chat.Payload{Text: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, chat.ErrThrottled)

	_, err = b.SendToConversation(context.Background(), "19:team@thread", chat.Payload{})
	assert.ErrorIs(t, err, ErrForeignConversation)
}

func TestListMembers(t *testing.T) {
	api := newFakeAPI()
	api.admins = []tgbotapi.ChatMember{
		{User: &tgbotapi.User{ID: 9, FirstName: "Carol"}},
		{User: &tgbotapi.User{ID: 99, UserName: "otherbot", IsBot: true}},
	}
	b := newBot(api)
	conv := ConversationID(chatID)

	members, next, err := b.ListMembers(context.Background(), conv, "")
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.Equal(t, []chat.Member{{ID: "9", Name: "Carol"}}, members)

	// Senders and joiners are learned; leavers are forgotten.
	b.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{From: alice(), Chat: group(), Text: "hi"}})
	b.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{From: alice(), Chat: group(), NewChatMembers: []tgbotapi.User{{ID: 8, FirstName: "Bob"}}}})
	b.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{From: alice(), Chat: group(), LeftChatMember: &tgbotapi.User{ID: 9}}})

	members, _, err = b.ListMembers(context.Background(), conv, "")
	require.NoError(t, err)
	assert.Equal(t, []chat.Member{{ID: "7", Name: "Alice Liddell"}, {ID: "8", Name: "Bob"}}, members)
}

func TestListMembersSeedsAdminsAfterSender(t *testing.T) {
	api := newFakeAPI()
	api.admins = []tgbotapi.ChatMember{
		{User: &tgbotapi.User{ID: 9, FirstName: "Carol"}},
		{User: &tgbotapi.User{ID: 10, FirstName: "Dave"}},
	}
	b := newBot(api)
	conv := ConversationID(chatID)

	// The sender is learned before the first listing, as on a fresh
	// "start scrum"; Dave leaves before anyone lists the chat.
	b.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{From: alice(), Chat: group(), Text: "start scrum"}})
	b.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{From: alice(), Chat: group(), LeftChatMember: &tgbotapi.User{ID: 10}}})

	members, _, err := b.ListMembers(context.Background(), conv, "")
	require.NoError(t, err)
	assert.Equal(t, []chat.Member{{ID: "7", Name: "Alice Liddell"}, {ID: "9", Name: "Carol"}}, members)

	_, _, err = b.ListMembers(context.Background(), conv, "")
	require.NoError(t, err)
	assert.Equal(t, 1, api.adminReq, "administrators fetched once per chat")
}

func TestTyping(t *testing.T) {
	api := newFakeAPI()
	b := newBot(api)
	require.NoError(t, b.Typing(context.Background(), ConversationID(chatID)))
	require.Len(t, api.requests, 1)
	assert.IsType(t, tgbotapi.ChatActionConfig{}, api.requests[0])
}

type handlerFunc func(context.Context, dispatch.Event) (*dispatch.InvokeResponse, error)

func (f handlerFunc) Handle(ctx context.Context, ev dispatch.Event) (*dispatch.InvokeResponse, error) {
	return f(ctx, ev)
}

func TestStartDispatchesAndStop(t *testing.T) {
	api := newFakeAPI()
	b := newBot(api)

	got := make(chan dispatch.Event, 1)
	h := handlerFunc(func(_ context.Context, ev dispatch.Event) (*dispatch.InvokeResponse, error) {
		got <- ev
		p := chat.Payload{Text: "form"}
		return &dispatch.InvokeResponse{Status: http.StatusOK, View: &p}, nil
	})

	assert.Error(t, b.Start(context.Background(), nil))
	require.NoError(t, b.Start(context.Background(), h))
	assert.True(t, b.IsRunning())
	assert.Error(t, b.Start(context.Background(), h))

	api.updates <- tgbotapi.Update{UpdateID: 1, Message: command("/update")}

	select {
	case ev := <-got:
		assert.Equal(t, dispatch.KindInvokeFetch, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("update not dispatched")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Stop(ctx))
	assert.False(t, b.IsRunning())
	assert.Error(t, b.Stop(ctx))

	msgs := api.messages()
	require.Len(t, msgs, 1, "invoke view is posted in the chat")
	assert.Equal(t, "form", msgs[0].Text)
}
