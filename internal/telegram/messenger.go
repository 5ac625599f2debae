package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/harun/standup/pkg/chat"
)

// render turns a payload into HTML text. Cards have no Telegram
// equivalent; their plain text fallback is posted instead.
func render(p chat.Payload) string {
	var sb strings.Builder
	if p.Mention != nil {
		fmt.Fprintf(&sb, `<a href="tg://user?id=%s">%s</a> `, html.EscapeString(p.Mention.ID), html.EscapeString(p.Mention.Name))
	}
	if p.Title != "" {
		sb.WriteString("<b>" + html.EscapeString(p.Title) + "</b>\n")
	}
	text := p.Text
	if text == "" && len(p.Cards) > 0 {
		text = "(open in a client that supports cards)"
	}
	sb.WriteString(html.EscapeString(text))
	return sb.String()
}

// keyboard offers the update button under messages that carry a form
// launcher.
func (b *Bot) keyboard(chatID int64, p chat.Payload) *tgbotapi.InlineKeyboardMarkup {
	if !b.forms.observe(chatID, p) {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Post update", callbackFetch)),
	)
	return &markup
}

func (b *Bot) send(op string, conversationID string, p chat.Payload) (chat.Handle, error) {
	chatID, err := ParseConversationID(conversationID)
	if err != nil {
		return "", err
	}
	msg := tgbotapi.NewMessage(chatID, render(p))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if kb := b.keyboard(chatID, p); kb != nil {
		msg.ReplyMarkup = kb
	}

	sent, err := b.api.Send(msg)
	if err != nil {
		return "", classify(op, err)
	}
	b.logger.Debug().Int64("chat_id", chatID).Int("message_id", sent.MessageID).Msg("Message sent")
	return chat.Handle(strconv.Itoa(sent.MessageID)), nil
}

// SendToConversation implements chat.Messenger.
func (b *Bot) SendToConversation(_ context.Context, conversationID string, p chat.Payload) (chat.Handle, error) {
	return b.send("send_to_conversation", conversationID, p)
}

// SendToMember implements chat.Messenger.
func (b *Bot) SendToMember(_ context.Context, conversationID string, member chat.Member, p chat.Payload) (chat.Handle, error) {
	p.Mention = &member
	return b.send("send_to_member", conversationID, p)
}

// Update implements chat.Messenger.
func (b *Bot) Update(_ context.Context, conversationID string, h chat.Handle, p chat.Payload) error {
	chatID, err := ParseConversationID(conversationID)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(string(h))
	if err != nil {
		return fmt.Errorf("update: invalid handle %q: %w", h, err)
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, render(p))
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = b.keyboard(chatID, p)

	if _, err := b.api.Request(edit); err != nil {
		if isNotModified(err) {
			return nil
		}
		return classify("update", err)
	}
	return nil
}

// Typing implements chat.Messenger.
func (b *Bot) Typing(_ context.Context, conversationID string) error {
	chatID, err := ParseConversationID(conversationID)
	if err != nil {
		return err
	}
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return classify("typing", err)
	}
	return nil
}

// ListMembers implements chat.Messenger. The whole known roster is one
// page; administrators seed it the first time a chat is listed.
func (b *Bot) ListMembers(_ context.Context, conversationID, _ string) ([]chat.Member, string, error) {
	chatID, err := ParseConversationID(conversationID)
	if err != nil {
		return nil, "", err
	}

	if !b.members.isSeeded(chatID) {
		admins, err := b.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
			ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		})
		if err != nil {
			return nil, "", classify("list_members", err)
		}
		seed := make([]chat.Member, 0, len(admins))
		for _, a := range admins {
			if a.User == nil || a.User.IsBot {
				continue
			}
			seed = append(seed, toMember(a.User))
		}
		b.members.seed(chatID, seed)
	}
	return b.members.list(chatID), "", nil
}

// classify maps Bot API rate limiting onto chat.ThrottleError.
func classify(op string, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return &chat.ThrottleError{Op: op, RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotModified(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "message is not modified")
}
