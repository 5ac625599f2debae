package telegram

import (
	"encoding/json"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/harun/standup/pkg/chat"
	"github.com/harun/standup/pkg/dispatch"
	"github.com/harun/standup/pkg/view"
)

// callbackFetch is the callback data of the "Post update" button.
const callbackFetch = "standup:fetch"

// commands maps slash commands to the keywords the dispatcher routes on.
var commands = map[string]string{
	"startscrum":  view.CommandStart,
	"start_scrum": view.CommandStart,
	"endscrum":    view.CommandEnd,
	"end_scrum":   view.CommandEnd,
	"tour":        view.CommandTour,
	"help":        view.CommandHelp,
}

// BotCommands lists the commands registered with Telegram.
func BotCommands() []tgbotapi.BotCommand {
	return []tgbotapi.BotCommand{
		{Command: "startscrum", Description: "Start the daily scrum"},
		{Command: "endscrum", Description: "End the running scrum"},
		{Command: "update", Description: "Post your update: yesterday | today | blockers"},
		{Command: "tour", Description: "Take a tour"},
		{Command: "help", Description: "Show what I can do"},
	}
}

func conversationType(c *tgbotapi.Chat) string {
	switch {
	case c.IsGroup(), c.IsSuperGroup():
		return dispatch.ConversationGroup
	case c.IsChannel():
		return dispatch.ConversationChannel
	default:
		return dispatch.ConversationPersonal
	}
}

// toEvent translates an update. Updates that carry nothing the bot acts on
// report false.
func (b *Bot) toEvent(update tgbotapi.Update) (dispatch.Event, bool) {
	if q := update.CallbackQuery; q != nil {
		if q.Message == nil || q.Message.Chat == nil || q.From == nil || q.Data != callbackFetch {
			return dispatch.Event{}, false
		}
		ev := b.baseEvent(q.Message.Chat, q.From)
		ev.ID = "cb-" + q.ID
		ev.Kind = dispatch.KindInvokeFetch
		ev.Submission = b.forms.submission(q.Message.Chat.ID, nil)
		return ev, true
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return dispatch.Event{}, false
	}
	chatID := msg.Chat.ID

	ev := b.baseEvent(msg.Chat, msg.From)
	// Message ids are only unique within a chat.
	ev.ID = strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(msg.MessageID)

	if !msg.From.IsBot {
		b.members.learn(chatID, toMember(msg.From))
	}

	if left := msg.LeftChatMember; left != nil {
		b.members.forget(chatID, strconv.FormatInt(left.ID, 10))
		ev.Kind = dispatch.KindOther
		return ev, true
	}

	if len(msg.NewChatMembers) > 0 {
		ev.Kind = dispatch.KindMembersAdded
		for i := range msg.NewChatMembers {
			u := &msg.NewChatMembers[i]
			m := toMember(u)
			if !u.IsBot {
				b.members.learn(chatID, m)
			}
			ev.MembersAdded = append(ev.MembersAdded, m)
		}
		return ev, true
	}

	if msg.IsCommand() {
		name := msg.Command()
		if name == "update" {
			return b.updateCommand(ev, chatID, msg.CommandArguments()), true
		}
		ev.Kind = dispatch.KindMessage
		if kw, ok := commands[name]; ok {
			ev.Text = kw
		} else {
			ev.Text = view.CommandHelp
		}
		return ev, true
	}

	if msg.Text == "" {
		return dispatch.Event{}, false
	}
	ev.Kind = dispatch.KindMessage
	ev.Text = msg.Text
	return ev, true
}

// updateCommand turns "/update yesterday | today | blockers" into a form
// submission. Without arguments it asks for the form instead.
func (b *Bot) updateCommand(ev dispatch.Event, chatID int64, args string) dispatch.Event {
	args = strings.TrimSpace(args)
	if args == "" {
		ev.Kind = dispatch.KindInvokeFetch
		ev.Submission = b.forms.submission(chatID, nil)
		return ev
	}

	parts := strings.SplitN(args, "|", 3)
	fields := map[string]string{view.FieldYesterday: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		fields[view.FieldToday] = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		fields[view.FieldBlockers] = strings.TrimSpace(parts[2])
	}
	ev.Kind = dispatch.KindInvokeSubmit
	ev.Submission = b.forms.submission(chatID, fields)
	return ev
}

func (b *Bot) baseEvent(c *tgbotapi.Chat, from *tgbotapi.User) dispatch.Event {
	ev := dispatch.Event{
		Channel:          ChannelName,
		ConversationID:   ConversationID(c.ID),
		ConversationType: conversationType(c),
		From:             toMember(from),
		Recipient:        chat.Member{ID: strconv.FormatInt(b.self.ID, 10), Name: b.self.UserName},
	}
	if len(b.allowed) == 0 || b.allowed[c.ID] {
		ev.TenantID = b.opts.TenantID
	}
	return ev
}

// marshalSubmission encodes form fields the way a card submit does.
func marshalSubmission(snapshot string, fields map[string]string) json.RawMessage {
	data := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		data[k] = v
	}
	if snapshot != "" {
		data[view.FieldMembers] = snapshot
	}
	raw, _ := json.Marshal(data)
	return raw
}
