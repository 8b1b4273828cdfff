package gateway

import (
	"encoding/json"
	"net/http"
)

// Error envelopes. Two registers:
//   - provider error envelope: {"error":{"message","type","code"}}. The
//     schema is identical for every provider so SDK clients can branch on
//     error.code (circuit_breaker_open, invalid_api_key, ...) regardless of
//     which upstream the request targeted; only the message varies.
//   - gateway-shaped: the gateway speaking for itself (bad gateway, internal
//     error), same envelope with type "gateway_error".

type providerError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// writeProviderError renders the stable provider error envelope.
func writeProviderError(w http.ResponseWriter, status int, message, errType, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	var e providerError
	e.Error.Message = message
	e.Error.Type = errType
	e.Error.Code = code
	json.NewEncoder(w).Encode(e)
}

// writeBreakerOpen is the canonical fast-fail response when a provider's
// circuit is open. No upstream call is made and nothing is captured.
func writeBreakerOpen(w http.ResponseWriter) {
	writeProviderError(w, http.StatusServiceUnavailable,
		"provider temporarily unavailable, failing fast",
		"service_unavailable", "circuit_breaker_open")
}

// writeUnavailable reports a provider the gateway could not reach at all.
// Like the open-breaker case, nothing is captured.
func writeUnavailable(w http.ResponseWriter) {
	writeProviderError(w, http.StatusServiceUnavailable,
		"provider unreachable",
		"service_unavailable", "provider_unavailable")
}

// writeUpstreamTimeout reports an expired upstream deadline. The capture is
// still emitted with its timeout flag set.
func writeUpstreamTimeout(w http.ResponseWriter) {
	writeProviderError(w, http.StatusGatewayTimeout,
		"upstream request timed out",
		"timeout_error", "upstream_timeout")
}

// writeInvalidCredential rejects an LLM-shaped request whose credential is
// missing or malformed, without forwarding anything upstream.
func writeInvalidCredential(w http.ResponseWriter) {
	writeProviderError(w, http.StatusUnauthorized,
		"missing or malformed API credential",
		"authentication_error", "invalid_api_key")
}

// writeGatewayError renders a gateway-shaped error for failures the gateway
// itself owns.
func writeGatewayError(w http.ResponseWriter, status int, message string) {
	writeProviderError(w, status, message, "gateway_error", "")
}
