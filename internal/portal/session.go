package portal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/rerasync/internal/logger"
)

// SessionToken is the portal session cookie and its advertised expiry.
// A zero ExpiresAt means the portal did not advertise one.
type SessionToken struct {
	Name      string
	Value     string
	ExpiresAt time.Time
}

func (t *SessionToken) validAt(now time.Time, margin time.Duration) bool {
	if t == nil || t.Value == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return t.ExpiresAt.Sub(now) >= margin
}

// RenewFunc obtains a fresh session token from the portal.
type RenewFunc func(ctx context.Context) (*SessionToken, error)

// SessionManager owns the single shared session token. Reads are lock-free;
// renewals are serialized so at most one is in flight.
type SessionManager struct {
	renew  RenewFunc
	margin time.Duration
	now    func() time.Time
	logger *logger.Logger

	token atomic.Pointer[SessionToken]
	mu    sync.Mutex
}

// NewSessionManager creates a manager that renews when fewer than margin
// of validity remain.
func NewSessionManager(renew RenewFunc, margin time.Duration, log *logger.Logger) *SessionManager {
	return &SessionManager{
		renew:  renew,
		margin: margin,
		now:    time.Now,
		logger: log,
	}
}

// EnsureValidSession renews the token if it is missing or about to expire.
// Renewal failures are logged and swallowed; the caller proceeds with
// whatever token is held, possibly none.
func (m *SessionManager) EnsureValidSession(ctx context.Context) {
	if m.token.Load().validAt(m.now(), m.margin) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another worker may have renewed while we waited.
	current := m.token.Load()
	if current.validAt(m.now(), m.margin) {
		return
	}

	log := logger.FromContextOr(ctx, m.logger)
	if current == nil {
		log.Info("Session cookie not found, refreshing session")
	} else {
		log.Info("Session cookie is about to expire, refreshing session")
	}

	tok, err := m.renew(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to refresh session")
		return
	}
	m.token.Store(tok)
	log.Info("Successfully refreshed session")
}

// Token returns the current token or nil.
func (m *SessionManager) Token() *SessionToken {
	return m.token.Load()
}
