package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLoggerRecord(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditLogger(&buf)

	a.Record(context.Background(), AuditEvent{
		Type:         "scrum",
		Actor:        "29:alice",
		Conversation: "19:room",
		Action:       "scrum.started",
		Status:       "success",
		Metadata:     map[string]interface{}{"members": 3},
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "scrum.started", line["action"])
	assert.Equal(t, "19:room", line["conversation"])
	assert.Equal(t, float64(3), line["metadata"].(map[string]interface{})["members"])
	assert.NotContains(t, line, "trace_id")
}

func TestMetricsHandlerExposesSeries(t *testing.T) {
	RecordTurn("message", "ok", 10*time.Millisecond)
	RecordSend("send_to_conversation", time.Millisecond, true)
	RecordSendRetry("update")
	RecordRosterLookup("capacity", "miss")
	RecordStoreOp("memory", "put", time.Millisecond, errors.New("boom"))
	RecordScrumTransition("started")

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "standup_turns_total")
	assert.Contains(t, body, "standup_send_retries_total")
	assert.Contains(t, body, `standup_store_errors_total{engine="memory",op="put"} 1`)
}
