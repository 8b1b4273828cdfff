// Package gateway is the zero-touch reverse proxy in front of the LLM
// providers.
//
// DESIGN: Clients repoint their SDK base URL at the gateway and change
// nothing else. The gateway classifies each request by path and credential,
// forwards it to the real provider with the client's own credential intact,
// and streams the response back byte-for-byte, flushing as chunks arrive so
// SSE passes through unbuffered. Request and response bodies are teed (up to
// a cap) into a capture record and handed to the async pipeline after the
// exchange; capture can never slow down or fail the proxy path.
//
// A per-provider circuit breaker fails fast with a provider-shaped 503 when
// an upstream is unhealthy; breaker rejections make no upstream call and
// produce no capture.
//
// FILES:
//   - gateway.go:    Gateway, the proxy handler, response tee
//   - breaker.go:    per-provider circuit breakers
//   - errors.go:     provider-shaped and gateway-shaped error envelopes
//   - middleware.go: panic recovery, request logging
package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/codepromptu/codepromptu/internal/capture"
	"github.com/codepromptu/codepromptu/internal/config"
	"github.com/codepromptu/codepromptu/internal/monitoring"
	"github.com/codepromptu/codepromptu/internal/providers"
)

// Version is reported in the egress User-Agent and /gateway/stats.
const Version = "0.4.0"

// Header names used on the proxy surface.
const (
	HeaderRequestID     = "X-Request-Id"
	HeaderCorrelationID = "X-Correlation-Id"
)

// streamChunkSize is the copy buffer for response streaming.
const streamChunkSize = 32 * 1024

// Gateway proxies LLM traffic and emits capture records.
type Gateway struct {
	detector      *providers.Detector
	pipeline      *capture.Pipeline
	breakers      *breakerSet
	metrics       *monitoring.Metrics
	requestLogger *monitoring.RequestLogger
	client        *http.Client

	providerCfg     config.ProvidersConfig
	maxCaptureBytes int
}

// New builds a Gateway.
func New(cfg *config.Config, pipeline *capture.Pipeline, metrics *monitoring.Metrics, logger *monitoring.Logger) *Gateway {
	return &Gateway{
		detector:      providers.NewDetector(cfg.Providers),
		pipeline:      pipeline,
		breakers:      newBreakerSet(cfg.Providers, metrics),
		metrics:       metrics,
		requestLogger: monitoring.NewRequestLogger(logger),
		client: &http.Client{
			// Per-request deadlines come from the per-provider timeouts;
			// the client itself must not cut streams short.
			Timeout: 0,
		},
		providerCfg:     cfg.Providers,
		maxCaptureBytes: cfg.Capture.MaxCaptureBytes,
	}
}

// Handler returns the gateway's HTTP handler with middleware applied.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gateway/stats", g.handleStats)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/", g.handleProxy)
	return g.panicRecovery(g.logging(mux))
}

// handleProxy is the single entry point for all proxied LLM traffic.
func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	matched := providers.MatchPath(r.URL.Path)
	if matched == providers.ProviderUnknown {
		writeGatewayError(w, http.StatusNotFound, "not a recognized LLM endpoint")
		return
	}

	det, ok := g.detector.Detect(r)
	if !ok {
		// LLM-shaped path but no usable credential. Reject locally; the
		// provider never sees the request.
		g.metrics.ObserveProxy(string(matched), "rejected", time.Since(start))
		writeInvalidCredential(w)
		return
	}

	requestID := monitoring.RequestIDFromContext(r.Context())
	if requestID == "" {
		requestID = uuid.New().String()
	}
	correlationID := r.Header.Get(HeaderCorrelationID)
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	w.Header().Set(HeaderRequestID, requestID)
	w.Header().Set(HeaderCorrelationID, correlationID)

	// Buffer the request body up to the capture cap. An oversized body is
	// still forwarded in full; only the capture is truncated.
	reqBody, reqRest, reqTruncated, err := g.bufferBody(r.Body)
	if err != nil {
		writeGatewayError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var upstreamBody io.Reader = bytes.NewReader(reqBody)
	if reqTruncated {
		upstreamBody = io.MultiReader(bytes.NewReader(reqBody), reqRest)
	}

	pc := g.providerCfg.ByName(string(det.Provider))
	upstreamTimeout := pc.ChatTimeout
	if det.Embeddings {
		upstreamTimeout = pc.EmbedTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), upstreamTimeout)
	defer cancel()

	upReq, err := http.NewRequestWithContext(ctx, r.Method, det.TargetBase+r.URL.RequestURI(), upstreamBody)
	if err != nil {
		writeGatewayError(w, http.StatusBadGateway, "failed to build upstream request")
		return
	}
	copyProxyHeaders(upReq.Header, r.Header)
	upReq.Header.Set("User-Agent", "CodePromptu-Gateway/"+Version)
	for k, v := range det.ExtraHeaders {
		if upReq.Header.Get(k) == "" {
			upReq.Header.Set(k, v)
		}
	}
	if !reqTruncated {
		upReq.ContentLength = int64(len(reqBody))
	} else {
		upReq.ContentLength = r.ContentLength
	}

	rec := &capture.Record{
		RequestID:        requestID,
		CorrelationID:    correlationID,
		Provider:         det.Provider,
		Model:            det.Model,
		RequestBody:      sanitizeBody(reqBody),
		RequestTimestamp: start.UTC(),
		RequestTruncated: reqTruncated,
		ClientIP:         clientIP(r),
		UserAgent:        r.Header.Get("User-Agent"),
		APIKeyHash:       providers.HashCredential(det.Credential),
	}

	g.requestLogger.LogOutgoing(&monitoring.OutgoingRequestInfo{
		RequestID: requestID,
		Provider:  string(det.Provider),
		TargetURL: det.TargetBase + r.URL.Path, // no query: it may carry a credential
		BodySize:  len(reqBody),
	})

	cb := g.breakers.get(det.Provider)
	result, execErr := cb.Execute(func() (any, error) {
		resp, err := g.client.Do(upReq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errUpstream5xx
		}
		return resp, nil
	})

	if isBreakerOpen(execErr) {
		// Fast-fail: no upstream call happened and nothing is captured.
		g.metrics.ObserveProxy(string(det.Provider), "breaker_open", time.Since(start))
		writeBreakerOpen(w)
		return
	}

	if execErr != nil && !errors.Is(execErr, errUpstream5xx) {
		if errors.Is(execErr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// Expired upstream deadline: provider-shaped 504, still
			// captured with the timeout flag set.
			rec.Timeout = true
			rec.StatusCode = http.StatusGatewayTimeout
			rec.ResponseTimestamp = time.Now().UTC()
			g.metrics.ObserveProxy(string(det.Provider), "timeout", time.Since(start))
			writeUpstreamTimeout(w)
			g.pipeline.Submit(rec)
			return
		}
		// Unreachable provider: same register as an open breaker, and like
		// that case nothing is captured.
		g.metrics.ObserveProxy(string(det.Provider), "unavailable", time.Since(start))
		writeUnavailable(w)
		return
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()

	rec.StatusCode = resp.StatusCode

	copyProxyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	g.streamResponse(ctx, w, resp.Body, rec, cancel)
	rec.ResponseTimestamp = time.Now().UTC()

	outcome := "ok"
	switch {
	case rec.Partial:
		outcome = "partial"
	case rec.Timeout:
		outcome = "timeout"
	case resp.StatusCode >= 500:
		outcome = "upstream_5xx"
	}
	g.metrics.ObserveProxy(string(det.Provider), outcome, time.Since(start))

	g.requestLogger.LogResponse(&monitoring.ResponseInfo{
		RequestID:  requestID,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	})
	g.requestLogger.LogCapture(&monitoring.CaptureInfo{
		RequestID:     requestID,
		CorrelationID: correlationID,
		Provider:      string(det.Provider),
		Tier:          "primary",
		Partial:       rec.Partial,
		Truncated:     rec.RequestTruncated || rec.ResponseTruncated,
	})
	g.pipeline.Submit(rec)
}

// streamResponse copies the upstream body to the client byte-for-byte,
// flushing each chunk, while teeing up to the capture cap into rec.
// A client write failure marks the capture partial and cancels the upstream
// read; whatever arrived is still captured.
func (g *Gateway) streamResponse(ctx context.Context, w http.ResponseWriter, body io.Reader, rec *capture.Record, cancel context.CancelFunc) {
	flusher, _ := w.(http.Flusher)
	var captured bytes.Buffer
	buf := make([]byte, streamChunkSize)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			chunk := buf[:n]

			if room := g.maxCaptureBytes - captured.Len(); room > 0 {
				if n <= room {
					captured.Write(chunk)
				} else {
					captured.Write(chunk[:room])
					rec.ResponseTruncated = true
				}
			} else {
				rec.ResponseTruncated = true
			}

			if _, werr := w.Write(chunk); werr != nil {
				rec.Partial = true
				cancel()
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				rec.Timeout = true
			}
			rec.Partial = true
			break
		}
	}

	rec.ResponseBody = captured.Bytes()
}

// bufferBody reads up to the capture cap plus one byte. The extra byte
// detects overflow; rest carries the unread remainder for forwarding.
func (g *Gateway) bufferBody(body io.ReadCloser) (buf []byte, rest io.Reader, truncated bool, err error) {
	if body == nil {
		return nil, nil, false, nil
	}
	buf, err = io.ReadAll(io.LimitReader(body, int64(g.maxCaptureBytes)+1))
	if err != nil {
		return nil, nil, false, err
	}
	if len(buf) > g.maxCaptureBytes {
		return buf[:g.maxCaptureBytes], io.MultiReader(bytes.NewReader(buf[g.maxCaptureBytes:]), body), true, nil
	}
	return buf, nil, false, nil
}

// sanitizeBody strips credential-bearing fields from a captured JSON body.
// The forwarded body is never modified; only the capture copy is scrubbed.
func sanitizeBody(body []byte) []byte {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return body
	}
	for _, field := range []string{"api_key", "apiKey", "key"} {
		if gjson.GetBytes(body, field).Exists() {
			if scrubbed, err := sjson.DeleteBytes(body, field); err == nil {
				body = scrubbed
			}
		}
	}
	return body
}

// copyProxyHeaders copies all headers except hop-by-hop ones.
func copyProxyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if hopByHop[k] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// hopByHop headers per RFC 9110 §7.6.1; never forwarded.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// handleHealth reports liveness for the proxy listener.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleStats exposes breaker states and capture backlog.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := struct {
		Version       string            `json:"version"`
		Breakers      map[string]string `json:"breakers"`
		FallbackDepth int               `json:"fallback_queue_depth"`
	}{
		Version:       Version,
		Breakers:      g.breakers.states(),
		FallbackDepth: g.pipeline.QueueDepth(r.Context()),
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, stats)
}
