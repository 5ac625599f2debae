package view

import (
	"encoding/json"
)

// card is an Adaptive Card under construction.
type card struct {
	body    []any
	actions []any
}

const (
	schemaURL   = "http://adaptivecards.io/schemas/adaptive-card.json"
	cardVersion = "1.2"
)

func newCard() *card { return &card{} }

func (c *card) text(s string, opts ...func(map[string]any)) *card {
	block := map[string]any{
		"type": "TextBlock",
		"text": s,
		"wrap": true,
	}
	for _, o := range opts {
		o(block)
	}
	c.body = append(c.body, block)
	return c
}

func bold(b map[string]any)      { b["weight"] = "Bolder" }
func large(b map[string]any)     { b["size"] = "Large" }
func attention(b map[string]any) { b["color"] = "Attention" }
func subtle(b map[string]any)    { b["isSubtle"] = true; b["spacing"] = "None" }

func (c *card) image(url, alt string) *card {
	c.body = append(c.body, map[string]any{
		"type":    "Image",
		"url":     url,
		"altText": alt,
		"size":    "Stretch",
	})
	return c
}

func (c *card) facts(pairs ...[2]string) *card {
	facts := make([]any, 0, len(pairs))
	for _, p := range pairs {
		facts = append(facts, map[string]any{"title": p[0], "value": p[1]})
	}
	c.body = append(c.body, map[string]any{"type": "FactSet", "facts": facts})
	return c
}

func (c *card) input(id, label, value, placeholder string, required bool) *card {
	c.body = append(c.body, map[string]any{
		"type":        "Input.Text",
		"id":          id,
		"label":       label,
		"value":       value,
		"placeholder": placeholder,
		"isMultiline": true,
		"isRequired":  required,
	})
	return c
}

func (c *card) submit(title string, data map[string]any) *card {
	c.actions = append(c.actions, map[string]any{
		"type":  "Action.Submit",
		"title": title,
		"data":  data,
	})
	return c
}

func (c *card) openURL(title, url string) *card {
	c.actions = append(c.actions, map[string]any{
		"type":  "Action.OpenUrl",
		"title": title,
		"url":   url,
	})
	return c
}

// imBack returns action data that posts text back as if the user typed it.
func imBack(text string) map[string]any {
	return map[string]any{
		"msteams": map[string]any{
			"type":        "imBack",
			"value":       text,
			"displayText": text,
		},
	}
}

func (c *card) json() json.RawMessage {
	doc := map[string]any{
		"$schema": schemaURL,
		"type":    "AdaptiveCard",
		"version": cardVersion,
		"body":    c.body,
	}
	if len(c.actions) > 0 {
		doc["actions"] = c.actions
	}
	data, err := json.Marshal(doc)
	if err != nil {
		// Cards are built from strings and maps only.
		panic(err)
	}
	return data
}
