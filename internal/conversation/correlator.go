// Package conversation groups captured traffic into sessions.
//
// DESIGN: the Correlator keys sessions by correlation id. The first message
// for an id opens a session; subsequent messages append in arrival order.
// A RESPONSE with no live session is recorded anyway and flagged orphaned.
// An expiry worker closes sessions idle past the configured timeout, setting
// session_end to the last message timestamp. Session rows and messages live
// in the store; the Correlator holds only the idle-tracking map.
package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/codepromptu/codepromptu/internal/parser"
	"github.com/codepromptu/codepromptu/internal/store"
)

// ErrSessionClosed reports an append against a CLOSED or EXPIRED session.
var ErrSessionClosed = errors.New("session is not active")

// Message is one captured prompt or response to be correlated.
type Message struct {
	CorrelationID string
	Type          store.MessageType
	Content       string
	Timestamp     time.Time
	Provider      string
	Model         string
	TokenUsage    *parser.TokenUsage
	Metadata      map[string]any
}

// Correlator assigns messages to conversation sessions.
type Correlator struct {
	store       store.Store
	idleTimeout time.Duration

	mu       sync.Mutex
	lastSeen map[string]idleEntry // correlation id -> last activity

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

type idleEntry struct {
	sessionID uuid.UUID
	at        time.Time
}

// NewCorrelator builds a Correlator over the given store.
func NewCorrelator(st store.Store, idleTimeout time.Duration) *Correlator {
	return &Correlator{
		store:       st,
		idleTimeout: idleTimeout,
		lastSeen:    make(map[string]idleEntry),
		stopChan:    make(chan struct{}),
	}
}

// Record assigns a message to its session, opening one if needed, and
// appends it. Returns the stored message.
func (c *Correlator) Record(ctx context.Context, msg Message) (*store.ConversationMessage, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	session, opened, err := c.ensureSession(ctx, msg)
	if err != nil {
		return nil, err
	}
	if session.Status != store.SessionActive {
		return nil, ErrSessionClosed
	}

	meta := msg.Metadata
	if msg.Type == store.MessageResponse && opened {
		// A response opening a session means its prompt was never seen
		// (lost capture or out-of-band traffic). Flag it for analysis.
		meta = copyMeta(meta)
		meta["orphaned"] = true
		log.Warn().
			Str("correlation_id", msg.CorrelationID).
			Msg("orphaned response opened a session")
	}

	stored, err := c.store.AppendMessage(ctx, store.ConversationMessage{
		ID:         uuid.New(),
		SessionID:  session.ID,
		Type:       msg.Type,
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
		Provider:   msg.Provider,
		Model:      msg.Model,
		TokenUsage: msg.TokenUsage,
		Metadata:   meta,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lastSeen[msg.CorrelationID] = idleEntry{sessionID: session.ID, at: msg.Timestamp}
	c.mu.Unlock()

	return stored, nil
}

// ensureSession finds or creates the session for a correlation id.
// The second return reports whether this call opened it.
func (c *Correlator) ensureSession(ctx context.Context, msg Message) (*store.ConversationSession, bool, error) {
	session, err := c.store.GetSessionByCorrelation(ctx, msg.CorrelationID)
	if err == nil {
		return session, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	session, err = c.store.CreateSession(ctx, store.ConversationSession{
		ID:            uuid.New(),
		CorrelationID: msg.CorrelationID,
		SessionStart:  msg.Timestamp,
		Status:        store.SessionActive,
	})
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// Close explicitly ends an active session. Idempotent for already-closed
// sessions.
func (c *Correlator) Close(ctx context.Context, sessionID uuid.UUID) error {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != store.SessionActive {
		return nil
	}

	end := time.Now().UTC()
	if err := c.store.UpdateSessionStatus(ctx, sessionID, store.SessionClosed, &end); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.lastSeen, session.CorrelationID)
	c.mu.Unlock()
	return nil
}

// StartExpiryWorker runs the idle sweep every interval. interval zero
// defaults to one minute.
func (c *Correlator) StartExpiryWorker(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopChan:
				return
			case <-ticker.C:
				c.ExpireIdle(context.Background(), time.Now().UTC())
			}
		}
	}()
}

// ExpireIdle marks sessions idle past the timeout as EXPIRED, with
// session_end set to the last message timestamp. Returns how many expired.
func (c *Correlator) ExpireIdle(ctx context.Context, now time.Time) int {
	c.mu.Lock()
	var stale []idleEntry
	var staleIDs []string
	for cid, entry := range c.lastSeen {
		if now.Sub(entry.at) >= c.idleTimeout {
			stale = append(stale, entry)
			staleIDs = append(staleIDs, cid)
		}
	}
	c.mu.Unlock()

	expired := 0
	for i, entry := range stale {
		end := entry.at
		err := c.store.UpdateSessionStatus(ctx, entry.sessionID, store.SessionExpired, &end)
		if err != nil {
			log.Error().Err(err).
				Str("session_id", entry.sessionID.String()).
				Msg("failed to expire idle session")
			continue
		}
		c.mu.Lock()
		delete(c.lastSeen, staleIDs[i])
		c.mu.Unlock()
		expired++
	}
	if expired > 0 {
		log.Info().Int("count", expired).Msg("expired idle sessions")
	}
	return expired
}

// Shutdown stops the expiry worker.
func (c *Correlator) Shutdown() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
}

func copyMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
