// Package providers classifies inbound proxied requests by target provider.
//
// DESIGN: Detection is a pure function over the request: path prefix plus a
// well-formed credential in the provider-specific location. No global state;
// new providers are added by extending the pattern table.
//
// Header lookup is case-insensitive everywhere (http.Header canonicalizes),
// which is a contract of this system: `authorization:` and `Authorization:`
// classify identically.
package providers

import (
	"net/http"
	"strings"

	"github.com/codepromptu/codepromptu/internal/config"
)

// Provider identifies an upstream LLM provider.
type Provider string

const (
	ProviderOpenAI    Provider = "OPENAI"
	ProviderAnthropic Provider = "ANTHROPIC"
	ProviderGoogleAI  Provider = "GOOGLE_AI"
	ProviderUnknown   Provider = "UNKNOWN"
)

// anthropicVersion is the Anthropic API version header value.
const anthropicVersion = "2023-06-01"

// pathPattern maps an exact path prefix to a provider.
type pathPattern struct {
	prefix     string
	provider   Provider
	embeddings bool
}

// patternTable enumerates the recognized LLM paths. Order matters only for
// readability; prefixes do not overlap across providers.
var patternTable = []pathPattern{
	{prefix: "/v1/chat/completions", provider: ProviderOpenAI},
	{prefix: "/v1/completions", provider: ProviderOpenAI},
	{prefix: "/v1/embeddings", provider: ProviderOpenAI, embeddings: true},
	{prefix: "/v1/messages", provider: ProviderAnthropic},
	{prefix: "/v1/complete", provider: ProviderAnthropic},
	{prefix: "/v1beta/models/", provider: ProviderGoogleAI},
}

// Detection is the result of classifying a request.
type Detection struct {
	Provider          Provider
	TargetBase        string            // provider base URL for egress
	AuthHeaderName    string            // header carrying the client credential
	ExtraHeaders      map[string]string // ancillary headers required by the provider
	Credential        string            // the client credential, verbatim
	CredentialInQuery bool              // GOOGLE_AI only: credential arrived as ?key=
	Model             string            // GOOGLE_AI only: model parsed from the path
	Embeddings        bool              // embeddings endpoint; shorter upstream timeout
}

// Detector classifies requests against the pattern table and the configured
// provider egress settings.
type Detector struct {
	cfg config.ProvidersConfig
}

// NewDetector creates a detector bound to provider egress configuration.
func NewDetector(cfg config.ProvidersConfig) *Detector {
	return &Detector{cfg: cfg}
}

// MatchPath returns the provider whose path prefix matches, or UNKNOWN.
// Matching alone does not classify: a valid credential is also required.
func MatchPath(path string) Provider {
	p, ok := matchPattern(path)
	if !ok {
		return ProviderUnknown
	}
	return p.provider
}

func matchPattern(path string) (pathPattern, bool) {
	for _, p := range patternTable {
		if strings.HasPrefix(path, p.prefix) {
			// Covers both generateContent and streamGenerateContent.
			if p.provider == ProviderGoogleAI && !strings.Contains(strings.ToLower(path), "generatecontent") {
				continue
			}
			return p, true
		}
	}
	return pathPattern{}, false
}

// Detect classifies the request. A request is classified as a provider only
// when BOTH the path matches AND a well-formed credential is present in the
// provider-specific location. A matching path with a missing or malformed
// credential returns UNKNOWN with the matched provider's name in Model-free
// form; callers distinguish the two cases via MatchPath.
func (d *Detector) Detect(r *http.Request) (Detection, bool) {
	pattern, ok := matchPattern(r.URL.Path)
	if !ok {
		return Detection{Provider: ProviderUnknown}, false
	}
	provider := pattern.provider

	det := Detection{Provider: provider, Embeddings: pattern.embeddings}

	switch provider {
	case ProviderOpenAI, ProviderAnthropic:
		cred, ok := bearerCredential(r)
		if !ok || !ValidCredential(cred) {
			return Detection{Provider: ProviderUnknown}, false
		}
		det.Credential = cred
		det.AuthHeaderName = "Authorization"
		pc := d.cfg.ByName(string(provider))
		det.TargetBase = pc.BaseURL
		if provider == ProviderAnthropic {
			det.ExtraHeaders = map[string]string{"anthropic-version": anthropicVersion}
		}

	case ProviderGoogleAI:
		cred := r.Header.Get("x-goog-api-key")
		if cred == "" {
			cred = r.URL.Query().Get("key")
			det.CredentialInQuery = cred != ""
		}
		if !ValidCredential(cred) {
			return Detection{Provider: ProviderUnknown}, false
		}
		det.Credential = cred
		det.AuthHeaderName = "x-goog-api-key"
		det.TargetBase = d.cfg.GoogleAI.BaseURL
		det.Model = googleModelFromPath(r.URL.Path)
	}

	return det, true
}

// bearerCredential extracts the token from an `Authorization: Bearer <key>`
// header. The scheme comparison is case-insensitive.
func bearerCredential(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const scheme = "bearer "
	if len(auth) <= len(scheme) || !strings.EqualFold(auth[:len(scheme)], scheme) {
		return "", false
	}
	return strings.TrimSpace(auth[len(scheme):]), true
}

// googleModelFromPath parses the model segment out of
// /v1beta/models/{model}:generateContent (or .../{model}/generateContent).
func googleModelFromPath(path string) string {
	const prefix = "/v1beta/models/"
	rest := strings.TrimPrefix(path, prefix)
	if rest == path {
		return ""
	}
	if idx := strings.IndexAny(rest, ":/"); idx != -1 {
		return rest[:idx]
	}
	return rest
}

// ValidCredential performs a basic structural check: length bounds and
// printable ASCII with no whitespace. Real validation is the provider's job.
func ValidCredential(cred string) bool {
	if len(cred) < 8 || len(cred) > 512 {
		return false
	}
	for i := 0; i < len(cred); i++ {
		c := cred[i]
		if c <= 0x20 || c >= 0x7f {
			return false
		}
	}
	return true
}
