// Package resume decides whether a persisted session can continue after a
// restart, and clears the slate when it cannot.
package resume

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetform/console/internal/domain"
	"github.com/fleetform/console/internal/faults"
	"github.com/fleetform/console/internal/session"
)

// MaxSessionAge bounds how old an interrupted session may be and still be
// offered for resume.
const MaxSessionAge = 24 * time.Hour

// Decision is the resume-or-restart choice surfaced to the caller. An
// interrupted session is never resumed silently.
type Decision struct {
	Resumable bool
	Session   domain.Session
}

// Manager evaluates persisted sessions on startup.
type Manager struct {
	sessions *session.Manager
	maxAge   time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// Option customises manager construction.
type Option func(*Manager)

// WithMaxAge overrides the session validity window.
func WithMaxAge(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.maxAge = d
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New returns a resume manager over the session manager.
func New(sessions *session.Manager, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{sessions: sessions, maxAge: MaxSessionAge, now: time.Now, log: log}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Evaluate inspects the persisted session. It is resumable when it has an
// id and a mid-pipeline stage and was updated within the validity window.
// Expired, terminal, and malformed sessions are not resumable, and neither
// is a session whose retry counter has passed the cap.
func (m *Manager) Evaluate(ctx context.Context) Decision {
	sess, ok := m.sessions.Current(ctx)
	if !ok || sess.ID == "" {
		return Decision{}
	}
	if sess.Stage == domain.StageIdle || sess.Stage.Terminal() {
		return Decision{Session: sess}
	}
	if count := m.sessions.RetryCount(ctx); count > faults.MaxRetries {
		m.log.Info("session exhausted its retries, fresh session required", "session_id", sess.ID, "retries", count)
		return Decision{Session: sess}
	}
	if sess.UpdatedAt.IsZero() || m.now().Sub(sess.UpdatedAt) >= m.maxAge {
		m.log.Info("stored session expired, discarding", "session_id", sess.ID, "stage", string(sess.Stage), "updated_at", sess.UpdatedAt)
		return Decision{}
	}
	m.log.Info("interrupted session found", "session_id", sess.ID, "stage", string(sess.Stage), "progress", sess.ProgressPercent)
	return Decision{Resumable: true, Session: sess}
}

// Restart clears every persisted key under the session namespace and
// creates a brand-new session.
func (m *Manager) Restart(ctx context.Context) (domain.Session, error) {
	return m.sessions.Reset(ctx)
}
