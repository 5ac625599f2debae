package view

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/standup/pkg/scrum"
)

// ErrInvalidSubmission is returned when submitted form data does not match
// the update form.
var ErrInvalidSubmission = errors.New("view: invalid submission")

const submissionSchema = `{
	"type": "object",
	"properties": {
		"yesterday": {"type": "string", "maxLength": 4000},
		"today": {"type": "string", "maxLength": 4000},
		"blockers": {"type": "string", "maxLength": 4000},
		"membersActivityIdMap": {"type": "string"}
	}
}`

var submissionLoader = gojsonschema.NewStringLoader(submissionSchema)

type submission struct {
	Yesterday string `json:"yesterday"`
	Today     string `json:"today"`
	Blockers  string `json:"blockers"`
	Members   string `json:"membersActivityIdMap"`
}

// ParseSubmission decodes the data posted by the update form (or by the
// Update button, which carries only the member map). Missing fields decode
// as empty strings; validation of required fields is left to the caller.
func ParseSubmission(data json.RawMessage) (scrum.Update, error) {
	if len(data) == 0 {
		return scrum.Update{Snapshot: scrum.MemberMap{}}, nil
	}

	result, err := gojsonschema.Validate(submissionLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return scrum.Update{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return scrum.Update{}, fmt.Errorf("%w: %s", ErrInvalidSubmission, strings.Join(msgs, "; "))
	}

	var s submission
	if err := json.Unmarshal(data, &s); err != nil {
		return scrum.Update{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	snapshot, err := scrum.DecodeMemberMap(s.Members)
	if err != nil {
		return scrum.Update{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	return scrum.Update{
		Yesterday: strings.TrimSpace(s.Yesterday),
		Today:     strings.TrimSpace(s.Today),
		Blockers:  strings.TrimSpace(s.Blockers),
		Snapshot:  snapshot,
	}, nil
}
