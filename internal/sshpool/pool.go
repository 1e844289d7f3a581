package sshpool

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	minMonitorInterval = 5 * time.Second
	maxMonitorInterval = 60 * time.Second
)

// Pool is a bounded handle -> Session map with admission control and a
// background monitor that drives health checks and reconnection without
// blocking inbound tool calls.
type Pool struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	maxConns int
	logger   *log.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}

	startedAt     time.Time
	totalCreated  atomic.Int64
	totalCommands atomic.Int64
}

// NewPool builds a Pool admitting at most maxConns concurrent sessions.
// The background monitor does not run until Start is called.
func NewPool(maxConns int, logger *log.Logger) *Pool {
	if maxConns <= 0 {
		maxConns = 10
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Pool{
		sessions: make(map[string]*Session),
		maxConns: maxConns,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background monitor task. It is idempotent: calling
// it more than once has no additional effect.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.running.Store(true)
		p.startedAt = time.Now()
		go p.monitorLoop()
	})
}

// Stop cancels the monitor task, then disconnects every pooled session.
// It is idempotent: a second call is a no-op.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		if p.running.Load() {
			close(p.stopCh)
			<-p.doneCh
		}
		p.running.Store(false)
		p.DisconnectAll()
	})
}

// Close is an alias for Stop, matching the teacher's resource-cleanup
// naming at the call site in cmd/server/main.go.
func (p *Pool) Close() { p.Stop() }

// ErrPoolFull is returned by CreateConnection when admission control
// rejects a new session because maxConns is already in use.
var ErrPoolFull = NewConnectionError("connection pool is at capacity", nil)

// CreateConnection admits and connects a new session, returning its
// handle. The capacity check and map insertion are protected by the
// pool lock, but the network dial itself runs with the lock released so
// a slow or hanging host cannot stall every other in-flight request;
// this means two callers can race past the capacity check and both
// start dialing, so the pool can briefly overshoot maxConns by a small,
// bounded amount before the loser's insert is rejected and its session
// torn down.
func (p *Pool) CreateConnection(ctx context.Context, cfg SessionConfig) (string, *Error) {
	p.mu.Lock()
	if len(p.sessions) >= p.maxConns {
		p.mu.Unlock()
		return "", ErrPoolFull
	}
	p.mu.Unlock()

	handle := uuid.NewString()
	session := NewSession(handle, cfg, p.logger)

	if err := session.Connect(ctx); err != nil {
		return "", err
	}

	p.mu.Lock()
	if len(p.sessions) >= p.maxConns {
		p.mu.Unlock()
		session.Disconnect()
		return "", ErrPoolFull
	}
	p.sessions[handle] = session
	p.mu.Unlock()

	p.totalCreated.Add(1)
	p.logger.Printf("[Pool] created session %s (%d/%d in use)", handle, len(p.sessions), p.maxConns)
	return handle, nil
}

// Get returns the session for handle, or nil if no such session exists.
func (p *Pool) Get(handle string) *Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessions[handle]
}

// Disconnect closes and removes the session for handle. It reports
// false if the handle is unknown, matching
// SSHManager.disconnect_connection's bool return rather than raising.
func (p *Pool) Disconnect(handle string) bool {
	p.mu.Lock()
	session, ok := p.sessions[handle]
	if !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.sessions, handle)
	p.mu.Unlock()

	session.Disconnect()
	p.logger.Printf("[Pool] disconnected session %s", handle)
	return true
}

// DisconnectAll tears down every session in the pool. It snapshots the
// session list under lock, disconnects each outside the lock (so a slow
// remote close can't block other pool operations), then clears the map
// under lock.
func (p *Pool) DisconnectAll() int {
	p.mu.Lock()
	snapshot := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		snapshot = append(snapshot, s)
	}
	p.mu.Unlock()

	for _, s := range snapshot {
		s.Disconnect()
	}

	p.mu.Lock()
	count := len(p.sessions)
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()

	p.logger.Printf("[Pool] disconnected all sessions (%d)", count)
	return count
}

// ExecuteCommand resolves handle and delegates to the session's
// Execute, translating an unknown handle into a ConnectionError that
// carries the handle for the caller.
func (p *Pool) ExecuteCommand(ctx context.Context, handle, command string, timeoutSeconds int) (*ExecResult, *Error) {
	session := p.Get(handle)
	if session == nil {
		return nil, NewConnectionError("unknown connection handle", map[string]any{"handle": handle})
	}
	result, err := session.Execute(ctx, command, timeoutSeconds)
	if err != nil {
		return nil, err
	}
	p.totalCommands.Add(1)
	return result, nil
}

// ReadFile resolves handle and delegates to the session's ReadFile.
func (p *Pool) ReadFile(handle, path, encoding string) (string, *Error) {
	session := p.Get(handle)
	if session == nil {
		return "", NewConnectionError("unknown connection handle", map[string]any{"handle": handle})
	}
	return session.ReadFile(path, encoding)
}

// WriteFile resolves handle and delegates to the session's WriteFile.
func (p *Pool) WriteFile(handle, path, content, encoding string, createDirs bool) *Error {
	session := p.Get(handle)
	if session == nil {
		return NewConnectionError("unknown connection handle", map[string]any{"handle": handle})
	}
	return session.WriteFile(path, content, encoding, createDirs)
}

// ListDirectory resolves handle and delegates to the session's
// ListDirectory.
func (p *Pool) ListDirectory(handle, path string, showHidden, detailed bool) ([]DirEntry, *Error) {
	session := p.Get(handle)
	if session == nil {
		return nil, NewConnectionError("unknown connection handle", map[string]any{"handle": handle})
	}
	return session.ListDirectory(path, showHidden, detailed)
}

// EnableAutoReconnect resolves handle and turns on its self-reconnect
// policy. It reports false if the handle is unknown.
func (p *Pool) EnableAutoReconnect(handle string) bool {
	session := p.Get(handle)
	if session == nil {
		return false
	}
	session.EnableAutoReconnect()
	return true
}

// DisableAutoReconnect resolves handle and turns off its self-reconnect
// policy. It reports false if the handle is unknown.
func (p *Pool) DisableAutoReconnect(handle string) bool {
	session := p.Get(handle)
	if session == nil {
		return false
	}
	session.DisableAutoReconnect()
	return true
}

// ForceReconnect resolves handle and retries its connection
// unconditionally, bypassing the lost-state and attempt-count guards.
func (p *Pool) ForceReconnect(ctx context.Context, handle string) *Error {
	session := p.Get(handle)
	if session == nil {
		return NewConnectionError("unknown connection handle", map[string]any{"handle": handle})
	}
	return session.ForceReconnect(ctx)
}

// CleanupUnhealthyConnections disconnects and removes every session
// that is either (a) disconnected with auto-reconnect off, or (b) lost
// and has exhausted its reconnect attempts (terminal).
func (p *Pool) CleanupUnhealthyConnections() int {
	p.mu.RLock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.RUnlock()

	removed := 0
	for _, s := range sessions {
		stats := s.Stats()
		unhealthy := (stats.State != StateConnected && !stats.AutoReconnect) || stats.State == StateTerminal
		if unhealthy {
			if p.Disconnect(s.Handle) {
				removed++
			}
		}
	}
	return removed
}

// AttemptReconnectAllLost calls ForceReconnect on every session that is
// lost and has auto-reconnect enabled, returning each attempt's outcome
// keyed by handle.
func (p *Pool) AttemptReconnectAllLost(ctx context.Context) map[string]bool {
	p.mu.RLock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.RUnlock()

	results := make(map[string]bool, len(sessions))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, s := range sessions {
		if !s.IsLost() || !s.AutoReconnect() {
			continue
		}
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			err := s.ForceReconnect(ctx)
			mu.Lock()
			results[s.Handle] = err == nil
			mu.Unlock()
		}(s)
	}
	wg.Wait()
	return results
}

// ConnectionInfo summarizes one pooled session for ssh_list_connections.
type ConnectionInfo struct {
	Handle            string
	Host              string
	Port              int
	Username          string
	AuthMethod        AuthMethod
	Connected         bool
	State             string
	HealthFailures    int
	ReconnectAttempts int
	AutoReconnect     bool
	LastHealthCheck   time.Time
	LastActivity      time.Time
	ConnectionLostAt  time.Time
	ConnectedAt       time.Time
}

// ListConnections returns a snapshot of every pooled session's stats.
func (p *Pool) ListConnections() []ConnectionInfo {
	p.mu.RLock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(sessions))
	for _, s := range sessions {
		stats := s.Stats()
		infos = append(infos, ConnectionInfo{
			Handle:            stats.Handle,
			Host:              stats.Host,
			Port:              stats.Port,
			Username:          stats.Username,
			AuthMethod:        stats.AuthMethod,
			Connected:         stats.Connected,
			State:             stats.State.String(),
			HealthFailures:    stats.HealthFailures,
			ReconnectAttempts: stats.ReconnectAttempts,
			AutoReconnect:     stats.AutoReconnect,
			LastHealthCheck:   stats.LastHealthCheck,
			LastActivity:      stats.LastActivity,
			ConnectionLostAt:  stats.ConnectionLostAt,
			ConnectedAt:       stats.ConnectedAt,
		})
	}
	return infos
}

// Len reports how many sessions are currently pooled.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// monitorLoop periodically runs health checks and reconnect attempts on
// every pooled session, concurrently with inbound request handling. The
// interval adapts within [minMonitorInterval, maxMonitorInterval]: a
// pool with nothing to do backs off, one with lost sessions checks more
// eagerly.
func (p *Pool) monitorLoop() {
	defer close(p.doneCh)

	interval := minMonitorInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-timer.C:
			anyLost := p.sweep()
			if anyLost {
				interval = minMonitorInterval
			} else if interval < maxMonitorInterval {
				interval *= 2
				if interval > maxMonitorInterval {
					interval = maxMonitorInterval
				}
			}
			timer.Reset(interval)
		}
	}
}

func (p *Pool) sweep() bool {
	p.mu.RLock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.RUnlock()

	healthy, lost, reconnecting := 0, 0, 0
	var wg sync.WaitGroup
	for _, s := range sessions {
		if s.IsHealthCheckNeeded() {
			wg.Add(1)
			go func(s *Session) {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
				s.HealthCheck(ctx)
				cancel()
			}(s)
		}
	}
	wg.Wait()

	for _, s := range sessions {
		switch s.State() {
		case StateConnected:
			healthy++
		case StateLost:
			lost++
		case StateTerminal:
			reconnecting++
		}
	}
	p.logger.Printf("[Pool] monitor sweep: healthy=%d lost=%d terminal=%d", healthy, lost, reconnecting)

	if lost > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		p.AttemptReconnectAllLost(ctx)
		cancel()
		if removed := p.CleanupUnhealthyConnections(); removed > 0 {
			p.logger.Printf("[Pool] reaped %d terminal session(s)", removed)
		}
	}

	return lost > 0
}

// PoolStats summarizes the pool itself for diagnostic tooling.
type PoolStats struct {
	TotalCreated  int64
	TotalCommands int64
	ActiveCount   int
	MaxConns      int
	StartedAt     time.Time
	Running       bool
}

// Stats reports the pool's own counters and configuration.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		TotalCreated:  p.totalCreated.Load(),
		TotalCommands: p.totalCommands.Load(),
		ActiveCount:   p.Len(),
		MaxConns:      p.maxConns,
		StartedAt:     p.startedAt,
		Running:       p.running.Load(),
	}
}
