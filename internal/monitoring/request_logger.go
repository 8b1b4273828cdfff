// Package monitoring - request_logger.go logs HTTP request lifecycle.
//
// DESIGN: Structured logging for request tracing at DEBUG level:
//   - LogIncoming: Request received from client
//   - LogOutgoing: Request forwarded to provider
//   - LogResponse: Response sent to client
//   - LogCapture:  Capture submission outcome
package monitoring

import (
	"net/http"
	"time"
)

// RequestLogger logs HTTP request lifecycle events.
type RequestLogger struct {
	logger *Logger
}

// NewRequestLogger creates a new request logger.
func NewRequestLogger(logger *Logger) *RequestLogger {
	return &RequestLogger{logger: logger}
}

// RequestInfo contains incoming request information.
type RequestInfo struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
	BodySize   int
	StartTime  time.Time
}

// NewRequestInfo creates RequestInfo from an HTTP request.
func NewRequestInfo(r *http.Request, requestID string, bodySize int) *RequestInfo {
	return &RequestInfo{
		RequestID:  requestID,
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		BodySize:   bodySize,
		StartTime:  time.Now(),
	}
}

// LogIncoming logs an incoming request.
func (rl *RequestLogger) LogIncoming(info *RequestInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("method", info.Method).
		Str("path", info.Path).
		Int("body_size", info.BodySize).
		Msg("incoming")
}

// OutgoingRequestInfo contains outgoing request information.
type OutgoingRequestInfo struct {
	RequestID string
	Provider  string
	TargetURL string
	BodySize  int
}

// LogOutgoing logs a request forwarded to a provider.
func (rl *RequestLogger) LogOutgoing(info *OutgoingRequestInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("provider", info.Provider).
		Str("target", info.TargetURL).
		Int("body_size", info.BodySize).
		Msg("outgoing")
}

// ResponseInfo contains response information.
type ResponseInfo struct {
	RequestID  string
	StatusCode int
	Latency    time.Duration
}

// LogResponse logs a response.
func (rl *RequestLogger) LogResponse(info *ResponseInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Int("status", info.StatusCode).
		Dur("latency", info.Latency).
		Msg("response")
}

// CaptureInfo contains capture submission information.
type CaptureInfo struct {
	RequestID     string
	CorrelationID string
	Provider      string
	Tier          string // "primary" or "fallback"
	Partial       bool
	Truncated     bool
}

// LogCapture logs a capture submission.
func (rl *RequestLogger) LogCapture(info *CaptureInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("correlation_id", info.CorrelationID).
		Str("provider", info.Provider).
		Str("tier", info.Tier).
		Bool("partial", info.Partial).
		Msg("capture")
}
