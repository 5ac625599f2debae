// Package telegram runs the scrum bot in Telegram group chats. The Bot is
// both the inbound channel (long polling) and the outbound chat.Messenger
// for conversations it owns.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/harun/standup/internal/config"
	"github.com/harun/standup/pkg/channels"
	"github.com/harun/standup/pkg/chat"
)

// ChannelName is stamped on every event the bot produces.
const ChannelName = "telegram"

// API is the part of tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(u tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetChatAdministrators(c tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error)
}

// Options configures a Bot.
type Options struct {
	// TenantID is stamped on events from allowed chats. Events from other
	// chats carry no tenant and are turned away by the dispatcher.
	TenantID     string
	AllowedChats []int64
	PollTimeout  int
	// TurnTimeout bounds one update's handling.
	TurnTimeout time.Duration
}

// Bot represents a Telegram bot instance
type Bot struct {
	api    API
	self   tgbotapi.User
	opts   Options
	logger zerolog.Logger

	allowed map[int64]bool
	members *memberBook
	forms   *formBook

	mu       sync.Mutex
	running  bool
	handler  channels.Handler
	inFlight sync.WaitGroup
	done     chan struct{}
}

var (
	_ channels.Channel = (*Bot)(nil)
	_ chat.Messenger   = (*Bot)(nil)
)

// New authenticates against the Bot API and creates a Bot.
func New(cfg *config.TelegramConfig, tenantID string, logger zerolog.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	return NewWithAPI(api, api.Self, Options{
		TenantID:     tenantID,
		AllowedChats: cfg.AllowedChats,
		PollTimeout:  cfg.PollTimeout,
	}, logger), nil
}

// NewWithAPI creates a Bot over an already authenticated API.
func NewWithAPI(api API, self tgbotapi.User, opts Options, logger zerolog.Logger) *Bot {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 30 * time.Second
	}
	allowed := make(map[int64]bool, len(opts.AllowedChats))
	for _, id := range opts.AllowedChats {
		allowed[id] = true
	}

	b := &Bot{
		api:     api,
		self:    self,
		opts:    opts,
		logger:  logger.With().Str("component", "telegram").Logger(),
		allowed: allowed,
		members: newMemberBook(),
		forms:   newFormBook(),
	}
	b.logger.Info().
		Str("username", self.UserName).
		Int64("id", self.ID).
		Msg("Telegram bot authenticated")
	return b
}

// Name implements channels.Channel.
func (b *Bot) Name() string { return ChannelName }

// Start begins long polling and hands each update to h.
func (b *Bot) Start(_ context.Context, h channels.Handler) error {
	if h == nil {
		return fmt.Errorf("handler is required")
	}

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot is already running")
	}
	b.running = true
	b.handler = h
	b.done = make(chan struct{})
	b.mu.Unlock()

	b.logger.Info().Msg("Starting Telegram bot")

	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(BotCommands()...)); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to register bot commands")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.opts.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	go b.processUpdates(updates)

	b.logger.Info().Msg("Telegram bot started")
	return nil
}

// Stop stops polling and waits for updates being handled.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot is not running")
	}
	b.running = false
	done := b.done
	b.mu.Unlock()

	b.logger.Info().Msg("Stopping Telegram bot")
	b.api.StopReceivingUpdates()

	waited := make(chan struct{})
	go func() {
		<-done
		b.inFlight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return fmt.Errorf("telegram stop: %w", ctx.Err())
	}

	b.logger.Info().Msg("Telegram bot stopped")
	return nil
}

// IsRunning returns whether the bot is polling.
func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Bot) processUpdates(updates tgbotapi.UpdatesChannel) {
	defer close(b.done)
	for update := range updates {
		update := update
		if !b.IsRunning() {
			return
		}
		b.inFlight.Add(1)
		go func() {
			defer b.inFlight.Done()
			b.handleUpdate(update)
		}()
	}
}

// handleUpdate turns one update into an event and dispatches it.
func (b *Bot) handleUpdate(update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.TurnTimeout)
	defer cancel()

	if update.CallbackQuery != nil {
		// The spinner on the pressed button stays until answered.
		if _, err := b.api.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
			b.logger.Debug().Err(err).Msg("Failed to answer callback query")
		}
	}

	ev, ok := b.toEvent(update)
	if !ok {
		return
	}

	logger := b.logger.With().
		Int("update_id", update.UpdateID).
		Str("kind", string(ev.Kind)).
		Str("conversation_id", ev.ConversationID).
		Logger()

	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()

	resp, err := h.Handle(ctx, ev)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to handle update")
		return
	}

	// Telegram has no dialogs; interactive replies are posted in the chat.
	if resp != nil && resp.View != nil {
		if _, err := b.SendToConversation(ctx, ev.ConversationID, *resp.View); err != nil {
			logger.Warn().Err(err).Msg("Failed to post interactive reply")
		}
	}
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

func toMember(u *tgbotapi.User) chat.Member {
	return chat.Member{ID: fmt.Sprintf("%d", u.ID), Name: displayName(u)}
}

// ValidateToken validates a bot token by attempting to authenticate
func ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("bot token is empty")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return fmt.Errorf("invalid bot token: %w", err)
	}

	if api.Self.UserName == "" {
		return fmt.Errorf("failed to get bot info")
	}

	return nil
}
