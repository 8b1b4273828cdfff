package monitoring

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx), "empty context carries no id")

	ctx = WithRequestIDContext(ctx, "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))

	// Request and correlation ids live under distinct keys.
	ctx = WithCorrelationIDContext(ctx, "corr-456")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	assert.Equal(t, "corr-456", CorrelationIDFromContext(ctx))
}

func TestRequestLoggerLifecycleEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	logger := New(LoggerConfig{Level: "debug", Format: "json", Output: path})
	rl := NewRequestLogger(logger)

	rl.LogIncoming(&RequestInfo{
		RequestID: "req-1",
		Method:    "POST",
		Path:      "/v1/chat/completions",
		BodySize:  42,
	})
	rl.LogOutgoing(&OutgoingRequestInfo{
		RequestID: "req-1",
		Provider:  "OPENAI",
		TargetURL: "https://api.openai.com/v1/chat/completions",
		BodySize:  42,
	})
	rl.LogResponse(&ResponseInfo{
		RequestID:  "req-1",
		StatusCode: 200,
		Latency:    120 * time.Millisecond,
	})
	rl.LogCapture(&CaptureInfo{
		RequestID:     "req-1",
		CorrelationID: "corr-1",
		Provider:      "OPENAI",
		Tier:          "primary",
	})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)

	for _, msg := range []string{
		`"message":"incoming"`,
		`"message":"outgoing"`,
		`"message":"response"`,
		`"message":"capture"`,
	} {
		assert.Contains(t, out, msg)
	}
	assert.Contains(t, out, `"request_id":"req-1"`)
	assert.Contains(t, out, `"target":"https://api.openai.com/v1/chat/completions"`)
	assert.Contains(t, out, `"status":200`)
}
