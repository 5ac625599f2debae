package ingress

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/standup/pkg/chat"
	"github.com/harun/standup/pkg/dispatch"
)

// Activity types and invoke names.
const (
	ActivityMessage            = "message"
	ActivityInvoke             = "invoke"
	ActivityConversationUpdate = "conversationUpdate"

	InvokeTaskFetch  = "task/fetch"
	InvokeTaskSubmit = "task/submit"
)

// Account is a participant reference in an activity.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Conversation identifies where an activity happened.
type Conversation struct {
	ID               string `json:"id"`
	ConversationType string `json:"conversationType,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
}

// ChannelData carries channel-specific fields.
type ChannelData struct {
	Tenant *struct {
		ID string `json:"id"`
	} `json:"tenant,omitempty"`
}

// Activity is the inbound wire format.
type Activity struct {
	Type         string          `json:"type"`
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	ServiceURL   string          `json:"serviceUrl,omitempty"`
	From         Account         `json:"from"`
	Recipient    Account         `json:"recipient"`
	Conversation Conversation    `json:"conversation"`
	Text         string          `json:"text,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	MembersAdded []Account       `json:"membersAdded,omitempty"`
	ChannelData  *ChannelData    `json:"channelData,omitempty"`
}

const activitySchema = `{
	"type": "object",
	"required": ["type", "from", "conversation"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"id": {"type": "string"},
		"name": {"type": "string"},
		"serviceUrl": {"type": "string"},
		"text": {"type": "string"},
		"from": {
			"type": "object",
			"required": ["id"],
			"properties": {"id": {"type": "string", "minLength": 1}, "name": {"type": "string"}}
		},
		"recipient": {
			"type": "object",
			"properties": {"id": {"type": "string"}, "name": {"type": "string"}}
		},
		"conversation": {
			"type": "object",
			"required": ["id"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"conversationType": {"type": "string"},
				"tenantId": {"type": "string"}
			}
		},
		"membersAdded": {
			"type": "array",
			"items": {"type": "object", "required": ["id"], "properties": {"id": {"type": "string"}}}
		}
	}
}`

var compiledActivitySchema = mustSchema(activitySchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("ingress: invalid activity schema: %v", err))
	}
	return schema
}

// ParseActivity validates body against the activity schema and decodes it.
func ParseActivity(body []byte) (*Activity, error) {
	result, err := compiledActivitySchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("parse activity: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid activity: %s", strings.Join(msgs, "; "))
	}

	var a Activity
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}
	return &a, nil
}

// TenantID returns the tenant from the conversation or the channel data.
func (a *Activity) TenantID() string {
	if a.Conversation.TenantID != "" {
		return a.Conversation.TenantID
	}
	if a.ChannelData != nil && a.ChannelData.Tenant != nil {
		return a.ChannelData.Tenant.ID
	}
	return ""
}

// Event normalizes the activity for the dispatcher.
func (a *Activity) Event(channel string) dispatch.Event {
	ev := dispatch.Event{
		ID:               a.ID,
		Kind:             dispatch.KindOther,
		Channel:          channel,
		TenantID:         a.TenantID(),
		ConversationID:   a.Conversation.ID,
		ConversationType: a.Conversation.ConversationType,
		From:             chat.Member{ID: a.From.ID, Name: a.From.Name},
		Recipient:        chat.Member{ID: a.Recipient.ID, Name: a.Recipient.Name},
		Text:             a.Text,
	}
	if ev.ConversationType == "" && a.Conversation.IsGroup {
		ev.ConversationType = dispatch.ConversationGroup
	}

	switch a.Type {
	case ActivityMessage:
		ev.Kind = dispatch.KindMessage
	case ActivityConversationUpdate:
		if len(a.MembersAdded) > 0 {
			ev.Kind = dispatch.KindMembersAdded
			for _, m := range a.MembersAdded {
				ev.MembersAdded = append(ev.MembersAdded, chat.Member{ID: m.ID, Name: m.Name})
			}
		}
	case ActivityInvoke:
		switch a.Name {
		case InvokeTaskFetch:
			ev.Kind = dispatch.KindInvokeFetch
			ev.Submission = taskData(a.Value)
		case InvokeTaskSubmit:
			ev.Kind = dispatch.KindInvokeSubmit
			ev.Submission = taskData(a.Value)
		}
	}
	return ev
}

// taskData extracts value.data from a task module invoke.
func taskData(value json.RawMessage) json.RawMessage {
	if len(value) == 0 {
		return nil
	}
	var v struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(value, &v); err != nil || len(v.Data) == 0 {
		return value
	}
	return v.Data
}
