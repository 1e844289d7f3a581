package sshpool

import (
	"testing"
)

func TestNewPoolDefaults(t *testing.T) {
	t.Run("non-positive maxConns falls back to 10", func(t *testing.T) {
		pool := NewPool(0, nil)
		defer pool.Close()
		if pool.maxConns != 10 {
			t.Errorf("expected default maxConns=10, got %d", pool.maxConns)
		}
	})

	t.Run("explicit maxConns is honored", func(t *testing.T) {
		pool := NewPool(3, nil)
		defer pool.Close()
		if pool.maxConns != 3 {
			t.Errorf("expected maxConns=3, got %d", pool.maxConns)
		}
	})
}

func TestPoolGetUnknownHandle(t *testing.T) {
	pool := NewPool(5, nil)
	defer pool.Close()

	if s := pool.Get("does-not-exist"); s != nil {
		t.Error("expected nil session for unknown handle")
	}
}

func TestPoolDisconnectUnknownHandle(t *testing.T) {
	pool := NewPool(5, nil)
	defer pool.Close()

	if ok := pool.Disconnect("does-not-exist"); ok {
		t.Fatal("expected Disconnect to report false for an unknown handle")
	}
}

func TestPoolAdmissionControl(t *testing.T) {
	pool := NewPool(2, nil)
	defer pool.Close()

	// Directly populate the session map to exercise admission control
	// without dialing a real host.
	pool.mu.Lock()
	pool.sessions["a"] = NewSession("a", SessionConfig{}, nil)
	pool.sessions["b"] = NewSession("b", SessionConfig{}, nil)
	pool.mu.Unlock()

	if pool.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", pool.Len())
	}

	_, err := pool.CreateConnection(t.Context(), SessionConfig{Host: "127.0.0.1", Port: 1, Username: "x", AuthMethod: AuthPassword, Password: "x"})
	if err == nil {
		t.Fatal("expected CreateConnection to reject admission when the pool is full")
	}
	if err.Kind != KindConnectionError {
		t.Errorf("expected KindConnectionError for a full pool, got %s", err.Kind)
	}
}

func TestPoolDisconnectAllClearsMap(t *testing.T) {
	pool := NewPool(5, nil)
	defer pool.Close()

	pool.mu.Lock()
	pool.sessions["a"] = NewSession("a", SessionConfig{}, nil)
	pool.sessions["b"] = NewSession("b", SessionConfig{}, nil)
	pool.sessions["c"] = NewSession("c", SessionConfig{}, nil)
	pool.mu.Unlock()

	count := pool.DisconnectAll()
	if count != 3 {
		t.Errorf("expected DisconnectAll to report 3, got %d", count)
	}
	if pool.Len() != 0 {
		t.Errorf("expected pool to be empty after DisconnectAll, got %d", pool.Len())
	}
}

func TestPoolListConnections(t *testing.T) {
	pool := NewPool(5, nil)
	defer pool.Close()

	s := NewSession("h1", SessionConfig{Host: "example.com", Username: "bob"}, nil)
	s.mu.Lock()
	s.state = StateConnected
	s.mu.Unlock()

	pool.mu.Lock()
	pool.sessions["h1"] = s
	pool.mu.Unlock()

	infos := pool.ListConnections()
	if len(infos) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(infos))
	}
	if infos[0].Host != "example.com" || infos[0].Username != "bob" {
		t.Errorf("unexpected connection info: %+v", infos[0])
	}
	if infos[0].State != "connected" {
		t.Errorf("expected state=connected, got %s", infos[0].State)
	}
}
