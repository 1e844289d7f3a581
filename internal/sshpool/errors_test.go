package sshpool

import (
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	t.Run("filters top-level sensitive keys", func(t *testing.T) {
		data := map[string]any{
			"password": "hunter2",
			"host":     "example.com",
		}
		out := Redact(data)
		if out["password"] != filteredPlaceholder {
			t.Errorf("expected password to be filtered, got %v", out["password"])
		}
		if out["host"] != "example.com" {
			t.Errorf("expected host to pass through unchanged, got %v", out["host"])
		}
	})

	t.Run("filters nested maps and keys matched by substring", func(t *testing.T) {
		data := map[string]any{
			"auth_config": map[string]any{
				"ssh_key": "-----BEGIN KEY-----",
				"port":    22,
			},
		}
		out := Redact(data)
		nested, ok := out["auth_config"].(map[string]any)
		if !ok {
			t.Fatalf("expected nested map to survive redaction, got %T", out["auth_config"])
		}
		if nested["ssh_key"] != filteredPlaceholder {
			t.Errorf("expected nested ssh_key to be filtered, got %v", nested["ssh_key"])
		}
		if nested["port"] != 22 {
			t.Errorf("expected port to pass through unchanged, got %v", nested["port"])
		}
	})

	t.Run("filters values inside lists", func(t *testing.T) {
		data := map[string]any{
			"items": []any{
				map[string]any{"token": "abc123"},
			},
		}
		out := Redact(data)
		items := out["items"].([]any)
		entry := items[0].(map[string]any)
		if entry["token"] != filteredPlaceholder {
			t.Errorf("expected token inside list entry to be filtered, got %v", entry["token"])
		}
	})

	t.Run("nil input returns nil", func(t *testing.T) {
		if Redact(nil) != nil {
			t.Error("expected nil passthrough")
		}
	})
}

func TestSanitizeMessage(t *testing.T) {
	cases := []struct {
		name    string
		message string
		debug   bool
		want    string
	}{
		{"scrubs password kv pair", "auth failed: password=hunter2", false, "auth failed: [FILTERED]"},
		{"scrubs token with colon", "using token: abcdef", false, "using [FILTERED]"},
		{"debug mode keeps the key but filters the value", "password=hunter2", true, "password=[FILTERED]"},
		{"debug mode still filters a key= kv pair", "ssh_key=AAAA", true, "ssh_key=[FILTERED]"},
		{"message with no secrets is untouched", "connection refused", false, "connection refused"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := SanitizeMessage(c.message, c.debug)
			if got != c.want {
				t.Errorf("SanitizeMessage(%q, debug=%v) = %q, want %q", c.message, c.debug, got, c.want)
			}
			if strings.Contains(got, "hunter2") || strings.Contains(got, "abcdef") {
				t.Errorf("expected secret value to be scrubbed, got %q", got)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	cases := []struct {
		kind Kind
		want string
	}{
		{KindParseError, "ParseError"},
		{KindConnectionError, "ConnectionError"},
		{KindCommandError, "CommandError"},
	}
	for _, c := range cases {
		if got := c.kind.String(); got != c.want {
			t.Errorf("Kind(%d).String() = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestErrorConstructors(t *testing.T) {
	t.Run("NewFileNotFoundError carries the path", func(t *testing.T) {
		err := NewFileNotFoundError("/etc/missing")
		if err.Kind != KindFileNotFoundError {
			t.Errorf("expected KindFileNotFoundError, got %s", err.Kind)
		}
		if err.Data["path"] != "/etc/missing" {
			t.Errorf("expected path in Data, got %v", err.Data)
		}
	})

	t.Run("NewCommandError redacts nothing but preserves exit code", func(t *testing.T) {
		err := NewCommandError("ls /root", 127, "no such file")
		if err.Data["exit_code"] != 127 {
			t.Errorf("expected exit_code=127, got %v", err.Data["exit_code"])
		}
	})

	t.Run("constructed error redacts sensitive data immediately", func(t *testing.T) {
		err := NewAuthenticationError("bad creds", map[string]any{"password": "hunter2"})
		if err.Data["password"] != filteredPlaceholder {
			t.Errorf("expected password filtered at construction, got %v", err.Data["password"])
		}
	})
}

func TestGenerateMessageConnectionError(t *testing.T) {
	cases := []struct {
		name    string
		detail  string
		wantSub string
	}{
		{"refused", "dial tcp: connection refused", "refused"},
		{"timeout", "dial tcp: i/o timeout", "timed out"},
		{"unreachable", "dial tcp: network is unreachable", "unreachable"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			msg := GenerateMessage(KindConnectionError, map[string]any{"detail": c.detail, "host": "db.internal"}, true)
			if !strings.Contains(msg, c.wantSub) {
				t.Errorf("expected message to mention %q, got %q", c.wantSub, msg)
			}
		})
	}
}
