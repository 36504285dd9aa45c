package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLog(t *testing.T) {
	buf := captureLog(t)

	Log(context.Background(), Event{
		Type:    EventLinkSuccess,
		CodeID:  "id-1",
		Code:    "AB****",
		Subject: "u1",
		Details: map[string]interface{}{"attempt": 1},
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pairing", entry["audit"])
	assert.Equal(t, "link_success", entry["event_type"])
	assert.Equal(t, "id-1", entry["code_id"])
	assert.Equal(t, "AB****", entry["code"])
	assert.Equal(t, "u1", entry["sub"])
	assert.Equal(t, float64(1), entry["attempt"])
	assert.Equal(t, "info", entry["level"])
}

func TestLog_FailuresAreWarnings(t *testing.T) {
	buf := captureLog(t)

	Log(context.Background(), Event{Type: EventLinkFailure})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
}

func TestClientIP(t *testing.T) {
	t.Run("strips port", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "10.0.0.1:5555"
		assert.Equal(t, "10.0.0.1", ClientIP(r))
	})

	t.Run("keeps bare address", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "10.0.0.2"
		assert.Equal(t, "10.0.0.2", ClientIP(r))
	})
}
