package sshpool

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateConfig(t *testing.T) {
	t.Run("password auth requires non-empty password", func(t *testing.T) {
		err := ValidateConfig(SessionConfig{AuthMethod: AuthPassword})
		if err == nil {
			t.Fatal("expected error for empty password")
		}
		if err.Kind != KindAuthenticationError {
			t.Errorf("expected KindAuthenticationError, got %s", err.Kind)
		}
	})

	t.Run("password auth accepts non-empty password", func(t *testing.T) {
		if err := ValidateConfig(SessionConfig{AuthMethod: AuthPassword, Password: "s3cret"}); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("key auth rejects a missing key file", func(t *testing.T) {
		err := ValidateConfig(SessionConfig{AuthMethod: AuthKey, PrivateKeyPath: "/nonexistent/id_ed25519"})
		if err == nil {
			t.Fatal("expected error for missing key file")
		}
	})

	t.Run("key auth rejects a directory path", func(t *testing.T) {
		dir := t.TempDir()
		err := ValidateConfig(SessionConfig{AuthMethod: AuthKey, PrivateKeyPath: dir})
		if err == nil {
			t.Fatal("expected error when key path is a directory")
		}
	})

	t.Run("key auth accepts an existing file", func(t *testing.T) {
		dir := t.TempDir()
		keyPath := filepath.Join(dir, "id_ed25519")
		if err := os.WriteFile(keyPath, []byte("not a real key"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := ValidateConfig(SessionConfig{AuthMethod: AuthKey, PrivateKeyPath: keyPath}); err != nil {
			t.Errorf("expected no error for an existing key file, got %v", err)
		}
	})

	t.Run("agent auth rejects when SSH_AUTH_SOCK is unset", func(t *testing.T) {
		t.Setenv("SSH_AUTH_SOCK", "")
		err := ValidateConfig(SessionConfig{AuthMethod: AuthAgent})
		if err == nil {
			t.Fatal("expected error when no agent socket is reachable")
		}
	})

	t.Run("unsupported auth method is rejected", func(t *testing.T) {
		err := ValidateConfig(SessionConfig{AuthMethod: "carrier-pigeon"})
		if err == nil {
			t.Fatal("expected error for unsupported auth method")
		}
	})
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	got := expandHome("~/.ssh/id_ed25519")
	want := filepath.Join(home, ".ssh/id_ed25519")
	if got != want {
		t.Errorf("expandHome(~/.ssh/id_ed25519) = %q, want %q", got, want)
	}
}
