// Package server runs the accept loop that turns incoming connections
// into Sessions: accept, track, and reap idle ones, with a
// golang.org/x/time/rate limiter guarding how fast new connections are
// accepted.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/beyermatthias/muchsyncd/pkg/muchsync/router"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/session"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/transport"
)

// Manager accepts connections on a net.Listener, wraps each as a
// Session, and tracks them until they close or go idle.
type Manager struct {
	logger *zap.Logger
	router *router.Router

	idleTimeout time.Duration
	limiter     *rate.Limiter

	mu       sync.Mutex
	sessions map[string]*trackedSession
}

type trackedSession struct {
	session *session.Session
	cancel  context.CancelFunc
}

// New builds a Manager. acceptRatePerSecond <= 0 disables rate
// limiting. idleTimeout <= 0 disables idle cleanup.
func New(logger *zap.Logger, r *router.Router, acceptRatePerSecond float64, idleTimeout time.Duration) *Manager {
	var limiter *rate.Limiter
	if acceptRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(acceptRatePerSecond), 1)
	}
	return &Manager{
		logger:      logger,
		router:      r,
		idleTimeout: idleTimeout,
		limiter:     limiter,
		sessions:    make(map[string]*trackedSession),
	}
}

// Serve accepts connections from l until ctx is cancelled or Accept
// fails. Each accepted connection is handed a Session and tracked
// until it closes.
func (m *Manager) Serve(ctx context.Context, l net.Listener) error {
	if m.idleTimeout > 0 {
		go m.reapIdleSessions(ctx)
	}

	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				_ = conn.Close()
				return nil
			}
		}

		m.handleConn(ctx, conn)
	}
}

func (m *Manager) handleConn(parent context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(parent)
	t := transport.New(m.logger, conn, conn)
	s := session.New(m.logger, "", t, m.router)

	m.mu.Lock()
	m.sessions[s.ID] = &trackedSession{session: s, cancel: cancel}
	m.mu.Unlock()

	m.logger.Info("accepted session", zap.String("session_id", s.ID), zap.String("remote", conn.RemoteAddr().String()))

	go func() {
		defer m.closeSession(s.ID)
		defer conn.Close()
		if err := s.Run(ctx); err != nil {
			m.logger.Warn("session ended with error", zap.String("session_id", s.ID), zap.Error(err))
		}
	}()
}

func (m *Manager) closeSession(id string) {
	m.mu.Lock()
	ts, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if ok {
		ts.cancel()
	}
}

// GetSession returns the tracked Session for id, if still open.
func (m *Manager) GetSession(id string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return ts.session, true
}

// SessionCount reports how many sessions are currently tracked.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) reapIdleSessions(ctx context.Context) {
	ticker := time.NewTicker(m.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.closeSessionsIdleSince(time.Now().Add(-m.idleTimeout))
		}
	}
}

func (m *Manager) closeSessionsIdleSince(cutoff time.Time) {
	m.mu.Lock()
	var stale []*trackedSession
	for id, ts := range m.sessions {
		if ts.session.LastActivity().Before(cutoff) {
			stale = append(stale, ts)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, ts := range stale {
		m.logger.Info("closing idle session", zap.String("session_id", ts.session.ID))
		ts.cancel()
	}
}
