// Package view renders the bot's messages. Every payload carries an
// Adaptive Card for transports that render cards, and a plain text
// fallback for those that do not.
package view

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/standup/pkg/chat"
	"github.com/harun/standup/pkg/scrum"
)

// Commands understood by the bot.
const (
	CommandStart = "start scrum"
	CommandEnd   = "end scrum"
	CommandTour  = "take a tour"
	CommandHelp  = "help"
)

// Submission input ids and action data keys.
const (
	FieldYesterday = "yesterday"
	FieldToday     = "today"
	FieldBlockers  = "blockers"
	FieldMembers   = "membersActivityIdMap"
)

// Validation markers shown next to empty required fields.
const (
	YesterdayValidationText = "Please tell us what you did yesterday."
	TodayValidationText     = "Please tell us what you will do today."
)

// Dialog sizes.
const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"
)

// Renderer builds payloads.
type Renderer struct {
	baseURL string
}

var _ scrum.Renderer = (*Renderer)(nil)

// New creates a renderer resolving asset paths against baseURL.
func New(baseURL string) *Renderer {
	return &Renderer{baseURL: strings.TrimRight(baseURL, "/")}
}

func (r *Renderer) asset(base, name string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = r.baseURL
	}
	return base + "/content/" + name
}

// Help lists the commands.
func (r *Renderer) Help() chat.Payload {
	c := newCard().
		text("Here is what I can do", bold, large).
		text("Type **start scrum** to start a daily scrum. Every member gets a prompt to post what they did yesterday, what they will do today and anything blocking them.").
		text("Type **end scrum** to close the running scrum.").
		text("Type **take a tour** to see how it works.").
		submit("Start scrum", imBack(CommandStart)).
		submit("End scrum", imBack(CommandEnd)).
		submit("Take a tour", imBack(CommandTour))

	return chat.Payload{
		Text:  "Commands: start scrum, end scrum, take a tour.",
		Cards: []json.RawMessage{c.json()},
	}
}

type tourStep struct {
	title string
	text  string
	image string
}

var tourSteps = []tourStep{
	{"Start a scrum", "Type start scrum in the group chat. Everyone in the chat gets their own prompt.", "tour-start.png"},
	{"Post your update", "Click Update on your prompt and fill in yesterday, today and any blockers.", "tour-update.png"},
	{"Follow along", "The trail message records who started, who updated and who ended the scrum.", "tour-trail.png"},
	{"End the scrum", "Type end scrum once everyone has posted.", "tour-end.png"},
}

// Tour returns the onboarding carousel.
func (r *Renderer) Tour(baseURL string) chat.Payload {
	cards := make([]json.RawMessage, 0, len(tourSteps))
	lines := make([]string, 0, len(tourSteps))
	for i, step := range tourSteps {
		c := newCard().
			text(step.title, bold, large).
			image(r.asset(baseURL, step.image), step.title).
			text(step.text)
		cards = append(cards, c.json())
		lines = append(lines, fmt.Sprintf("%d. %s: %s", i+1, step.title, step.text))
	}
	return chat.Payload{
		Text:   strings.Join(lines, "\n"),
		Cards:  cards,
		Layout: "carousel",
	}
}

// Welcome is sent when the bot is added to a conversation.
func (r *Renderer) Welcome(baseURL string) chat.Payload {
	c := newCard().
		image(r.asset(baseURL, "welcome.png"), "standup").
		text("Hi, I run your daily scrum!", bold, large).
		text("Type start scrum whenever your team is ready. Type help to see everything I can do.").
		submit("Start scrum", imBack(CommandStart)).
		submit("Take a tour", imBack(CommandTour))

	return chat.Payload{
		Text:  "Hi, I run your daily scrum! Type start scrum to begin or help to see what I can do.",
		Cards: []json.RawMessage{c.json()},
	}
}

// StartPrompt is the root message of a scrum. Its Update button carries
// the member map so that opening the form needs no lookup.
func (r *Renderer) StartPrompt(startedBy string, members scrum.MemberMap) chat.Payload {
	encoded, _ := members.Encode()
	c := newCard().
		text("Daily scrum", bold, large).
		text(fmt.Sprintf("Started by %s. Click Update to post your status.", startedBy)).
		submit("Update", map[string]any{
			"msteams":    map[string]any{"type": "task/fetch"},
			FieldMembers: encoded,
		})

	return chat.Payload{
		Text:  fmt.Sprintf("Daily scrum started by %s. Reply to your prompt to post your status.", startedBy),
		Cards: []json.RawMessage{c.json()},
	}
}

// NameTag is the per-member prompt; the transport adds the mention.
func (r *Renderer) NameTag(name string) chat.Payload {
	c := newCard().text(fmt.Sprintf("%s, it is time for your scrum update.", name))
	return chat.Payload{
		Text:  fmt.Sprintf("%s, it is time for your scrum update.", name),
		Cards: []json.RawMessage{c.json()},
	}
}

// TrailLine renders the trail message with every line so far.
func (r *Renderer) TrailLine(lines ...string) chat.Payload {
	c := newCard()
	for _, line := range lines {
		c.text(line, subtle)
	}
	return chat.Payload{
		Text:  strings.Join(lines, "\n"),
		Cards: []json.RawMessage{c.json()},
	}
}

// InputForm is the update form, pre-filled and annotated with flags.
func (r *Renderer) InputForm(prefill scrum.Update, flags scrum.FieldFlags) chat.Payload {
	encoded, _ := prefill.Snapshot.Encode()

	c := newCard().text("Your scrum update", bold, large)
	c.input(FieldYesterday, "What did you do yesterday?", prefill.Yesterday, "Yesterday", true)
	if flags.YesterdayMissing {
		c.text(YesterdayValidationText, attention)
	}
	c.input(FieldToday, "What will you do today?", prefill.Today, "Today", true)
	if flags.TodayMissing {
		c.text(TodayValidationText, attention)
	}
	c.input(FieldBlockers, "Anything blocking you?", prefill.Blockers, "Blockers", false)
	c.submit("Submit", map[string]any{FieldMembers: encoded})

	var text []string
	if flags.YesterdayMissing {
		text = append(text, YesterdayValidationText)
	}
	if flags.TodayMissing {
		text = append(text, TodayValidationText)
	}
	if len(text) == 0 {
		text = append(text, "Post your update: yesterday, today and blockers.")
	}

	return chat.Payload{
		Text:  strings.Join(text, "\n"),
		Cards: []json.RawMessage{c.json()},
		Title: scrum.NoticeValidationTitle,
		Size:  SizeLarge,
	}
}

// ReadOnlyNotice is shown to someone who is not part of the scrum.
func (r *Renderer) ReadOnlyNotice() chat.Payload {
	const text = "You are not part of this scrum, so there is nothing to update."
	return chat.Payload{
		Text:  text,
		Cards: []json.RawMessage{newCard().text(text).json()},
		Title: scrum.NoticeNoActionTitle,
		Size:  SizeSmall,
	}
}

// CompletionNotice replaces the root message when the scrum ends.
func (r *Renderer) CompletionNotice(completedBy string) chat.Payload {
	text := fmt.Sprintf("This scrum was completed by %s.", completedBy)
	c := newCard().text("Daily scrum", bold, large).text(text)
	return chat.Payload{
		Text:  text,
		Cards: []json.RawMessage{c.json()},
	}
}

// AggregateUpdate replaces a member's prompt with their update.
func (r *Renderer) AggregateUpdate(name string, u scrum.Update, hasBlocker bool) chat.Payload {
	blockers := strings.TrimSpace(u.Blockers)
	if blockers == "" {
		blockers = "None"
	}

	c := newCard().text(name, bold)
	if hasBlocker {
		c.image(r.asset("", "blocked.png"), "Blocked")
	}
	c.facts(
		[2]string{"Yesterday", u.Yesterday},
		[2]string{"Today", u.Today},
		[2]string{"Blockers", blockers},
	)

	text := fmt.Sprintf("%s\nYesterday: %s\nToday: %s\nBlockers: %s", name, u.Yesterday, u.Today, blockers)
	if hasBlocker {
		text = "🚧 " + text
	}
	return chat.Payload{
		Text:  text,
		Cards: []json.RawMessage{c.json()},
	}
}

// Notice renders a plain informational message.
func (r *Renderer) Notice(text string) chat.Payload {
	return chat.Payload{
		Text:  text,
		Cards: []json.RawMessage{newCard().text(text).json()},
		Size:  SizeMedium,
	}
}
