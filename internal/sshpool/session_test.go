package sshpool

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
	}
	for _, c := range cases {
		if got := backoffDelay(c.attempt); got != c.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestStateString(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnected, "connected"},
		{StateLost, "lost"},
		{StateTerminal, "terminal"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("State(%d).String() = %q, want %q", c.state, got, c.want)
		}
	}
}

func newTestSession() *Session {
	return NewSession("test-handle", SessionConfig{Host: "example.com", Port: 22, Username: "alice"}, nil)
}

func TestIsHealthCheckNeeded(t *testing.T) {
	t.Run("disconnected session never needs a check", func(t *testing.T) {
		s := newTestSession()
		if s.IsHealthCheckNeeded() {
			t.Error("expected disconnected session to not need a health check")
		}
	})

	t.Run("freshly connected session does not need an immediate check", func(t *testing.T) {
		s := newTestSession()
		s.mu.Lock()
		s.state = StateConnected
		s.lastHealthCheck = time.Now()
		s.mu.Unlock()

		if s.IsHealthCheckNeeded() {
			t.Error("expected a just-checked session to not need another check yet")
		}
	})

	t.Run("connected session overdue for a check needs one", func(t *testing.T) {
		s := newTestSession()
		s.mu.Lock()
		s.state = StateConnected
		s.lastHealthCheck = time.Now().Add(-healthCheckInterval - time.Second)
		s.mu.Unlock()

		if !s.IsHealthCheckNeeded() {
			t.Error("expected overdue session to need a health check")
		}
	})
}

func TestHandleConnectionLossLocked(t *testing.T) {
	t.Run("connected session transitions to lost", func(t *testing.T) {
		s := newTestSession()
		s.mu.Lock()
		s.state = StateConnected
		s.handleConnectionLossLocked()
		state := s.state
		lostAt := s.lostAt
		s.mu.Unlock()

		if state != StateLost {
			t.Errorf("expected state=lost, got %s", state)
		}
		if lostAt.IsZero() {
			t.Error("expected lostAt to be set")
		}
	})

	t.Run("terminal session is not reopened", func(t *testing.T) {
		s := newTestSession()
		s.mu.Lock()
		s.state = StateTerminal
		s.handleConnectionLossLocked()
		state := s.state
		s.mu.Unlock()

		if state != StateTerminal {
			t.Errorf("expected state to remain terminal, got %s", state)
		}
	})
}

func TestAttemptReconnectExhaustsToTerminal(t *testing.T) {
	s := newTestSession()
	s.mu.Lock()
	s.state = StateLost
	s.reconnectAttempts = maxReconnectAttempts
	s.mu.Unlock()

	err := s.AttemptReconnect(t.Context())
	if err == nil {
		t.Fatal("expected an error once reconnect attempts are exhausted")
	}
	if s.State() != StateTerminal {
		t.Errorf("expected state=terminal after exhausting attempts, got %s", s.State())
	}
}

func TestIsConnectionError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"connection reset", errString("read: connection reset by peer"), true},
		{"broken pipe", errString("write: broken pipe"), true},
		{"unrelated error", errString("permission denied"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsConnectionError(c.err); got != c.want {
				t.Errorf("IsConnectionError(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }
