package gateway

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/codepromptu/codepromptu/internal/config"
	"github.com/codepromptu/codepromptu/internal/monitoring"
	"github.com/codepromptu/codepromptu/internal/providers"
)

// errUpstream5xx marks a provider 5xx so the breaker counts it as a failure
// while the response still streams back to the client.
var errUpstream5xx = errors.New("upstream 5xx")

// breakerSet holds one circuit breaker per provider. Breakers are created
// lazily from the provider's configured thresholds.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[providers.Provider]*gobreaker.CircuitBreaker
	cfg      config.ProvidersConfig
	metrics  *monitoring.Metrics
}

func newBreakerSet(cfg config.ProvidersConfig, metrics *monitoring.Metrics) *breakerSet {
	return &breakerSet{
		breakers: make(map[providers.Provider]*gobreaker.CircuitBreaker),
		cfg:      cfg,
		metrics:  metrics,
	}
}

func (bs *breakerSet) get(provider providers.Provider) *gobreaker.CircuitBreaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if cb, ok := bs.breakers[provider]; ok {
		return cb
	}

	pc := bs.cfg.ByName(string(provider))
	name := string(provider)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(pc.MinSamples) {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRate >= pc.FailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			if to == gobreaker.StateOpen {
				bs.metrics.BreakerOpens.WithLabelValues(name).Inc()
			}
		},
	})
	bs.breakers[provider] = cb
	return cb
}

// states returns the current breaker state per provider, for /gateway/stats.
func (bs *breakerSet) states() map[string]string {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	out := make(map[string]string, len(bs.breakers))
	for p, cb := range bs.breakers {
		out[string(p)] = cb.State().String()
	}
	return out
}

// isBreakerOpen reports whether the error came from the breaker itself
// rather than the wrapped call.
func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
