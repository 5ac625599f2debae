package ingress

import (
	"encoding/json"
	"net/http"

	"github.com/harun/standup/pkg/dispatch"
	"github.com/harun/standup/pkg/view"
)

const adaptiveCardContentType = "application/vnd.microsoft.card.adaptive"

type taskCard struct {
	ContentType string          `json:"contentType"`
	Content     json.RawMessage `json:"content"`
}

type taskInfo struct {
	Title  string    `json:"title,omitempty"`
	Height string    `json:"height,omitempty"`
	Width  string    `json:"width,omitempty"`
	Card   *taskCard `json:"card,omitempty"`
}

type taskResponse struct {
	Task struct {
		Type  string      `json:"type"`
		Value interface{} `json:"value"`
	} `json:"task"`
}

// invokeBody renders an invoke response: a task module showing the view's
// first card, a plain message when the view has no card, or an empty body.
func invokeBody(resp *dispatch.InvokeResponse) (int, interface{}) {
	if resp == nil {
		return http.StatusOK, nil
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if resp.View == nil {
		return status, nil
	}

	v := resp.View
	var body taskResponse
	if len(v.Cards) == 0 {
		body.Task.Type = "message"
		body.Task.Value = v.Text
		return status, body
	}

	size := v.Size
	if size == "" {
		size = view.SizeMedium
	}
	body.Task.Type = "continue"
	body.Task.Value = taskInfo{
		Title:  v.Title,
		Height: size,
		Width:  size,
		Card:   &taskCard{ContentType: adaptiveCardContentType, Content: v.Cards[0]},
	}
	return status, body
}
