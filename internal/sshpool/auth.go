package sshpool

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AuthMethod names one of the three supported authentication strategies.
type AuthMethod string

const (
	AuthKey      AuthMethod = "key"
	AuthPassword AuthMethod = "password"
	AuthAgent    AuthMethod = "agent"
)

// SessionConfig describes how to dial and authenticate a single SSH
// session. It is the Go mirror of the connection parameters accepted by
// the ssh_connect tool.
type SessionConfig struct {
	Host           string
	Port           int
	Username       string
	AuthMethod     AuthMethod
	Password       string
	PrivateKeyPath string
	Passphrase     string
	Timeout        int // seconds
}

func (c SessionConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ValidateConfig performs the pre-flight checks the connect tool runs
// before ever dialing out, so that obviously bad configuration (a
// missing key file, an empty password) surfaces as a clear
// AuthenticationError rather than a TCP timeout.
func ValidateConfig(cfg SessionConfig) *Error {
	switch cfg.AuthMethod {
	case AuthKey:
		path := expandHome(cfg.PrivateKeyPath)
		info, err := os.Stat(path)
		if err != nil {
			return NewAuthenticationError(fmt.Sprintf("private key not found: %s", path), map[string]any{"path": path})
		}
		if info.IsDir() {
			return NewAuthenticationError(fmt.Sprintf("private key path is a directory: %s", path), map[string]any{"path": path})
		}
		return nil
	case AuthPassword:
		if cfg.Password == "" {
			return NewAuthenticationError("password authentication requires a non-empty password", nil)
		}
		return nil
	case AuthAgent:
		if !isAgentAvailable() {
			return NewAuthenticationError("no SSH agent is reachable via SSH_AUTH_SOCK", nil)
		}
		return nil
	default:
		return NewAuthenticationError(fmt.Sprintf("unsupported auth method: %s", cfg.AuthMethod), map[string]any{"auth_method": string(cfg.AuthMethod)})
	}
}

// ClientConfig builds the golang.org/x/crypto/ssh.ClientConfig for cfg,
// dispatching to the strategy named by cfg.AuthMethod. Every strategy
// reports its failures as an AuthenticationError, and so does an
// unsupported method.
func ClientConfig(cfg SessionConfig) (*ssh.ClientConfig, *Error) {
	var authMethod ssh.AuthMethod
	var authErr *Error

	switch cfg.AuthMethod {
	case AuthKey:
		authMethod, authErr = authWithKey(cfg)
	case AuthPassword:
		authMethod, authErr = authWithPassword(cfg)
	case AuthAgent:
		authMethod, authErr = authWithAgent()
	default:
		return nil, NewAuthenticationError(fmt.Sprintf("unsupported auth method: %s", cfg.AuthMethod), map[string]any{"auth_method": string(cfg.AuthMethod)})
	}
	if authErr != nil {
		return nil, authErr
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         secondsToDuration(timeout),
	}, nil
}

func authWithKey(cfg SessionConfig) (ssh.AuthMethod, *Error) {
	path := expandHome(cfg.PrivateKeyPath)
	info, err := os.Stat(path)
	if err != nil {
		return nil, NewAuthenticationError(fmt.Sprintf("private key not found: %s", path), map[string]any{"path": path})
	}
	if info.Mode().Perm()&0o077 != 0 {
		// Permissive key permissions are a warning in the source, not a
		// hard failure.
		log.Printf("[Auth] warning: %s is readable by group/other (mode %o)", path, info.Mode().Perm())
	}

	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, NewAuthenticationError(fmt.Sprintf("failed to read private key: %s", path), map[string]any{"path": path})
	}

	signer, err := parsePrivateKey(keyBytes, cfg.Passphrase)
	if err != nil {
		if strings.Contains(err.Error(), "passphrase") {
			return nil, NewAuthenticationError("private key is encrypted and requires a passphrase", map[string]any{"path": path})
		}
		return nil, NewAuthenticationError(fmt.Sprintf("failed to parse private key: %v", err), map[string]any{"path": path})
	}

	return ssh.PublicKeys(signer), nil
}

// parsePrivateKey first lets golang.org/x/crypto/ssh.ParsePrivateKey
// auto-detect the key type from its PEM header. An encrypted key with no
// passphrase is reported as such; any other failure falls back to
// explicit PKCS#1 and then PKCS#8 parsing of the PEM block.
func parsePrivateKey(keyBytes []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(passphrase))
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err == nil {
		return signer, nil
	}

	if _, ok := err.(*ssh.PassphraseMissingError); ok {
		return nil, fmt.Errorf("private key requires a passphrase: %w", err)
	}

	block, _ := pem.Decode(keyBytes)
	if block == nil {
		return nil, err
	}
	if key, pkcsErr := x509.ParsePKCS1PrivateKey(block.Bytes); pkcsErr == nil {
		return ssh.NewSignerFromKey(key)
	}
	if key, pkcsErr := x509.ParsePKCS8PrivateKey(block.Bytes); pkcsErr == nil {
		return ssh.NewSignerFromKey(key)
	}

	return nil, err
}

func authWithPassword(cfg SessionConfig) (ssh.AuthMethod, *Error) {
	if cfg.Password == "" {
		return nil, NewAuthenticationError("password authentication requires a non-empty password", nil)
	}
	return ssh.Password(cfg.Password), nil
}

func authWithAgent() (ssh.AuthMethod, *Error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, NewAuthenticationError("SSH_AUTH_SOCK is not set; no agent available", nil)
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, NewAuthenticationError(fmt.Sprintf("could not reach SSH agent at %s", sock), map[string]any{"socket": sock})
	}
	return ssh.PublicKeysCallback(agentSigners(conn)), nil
}

// isAgentAvailable requires both a reachable agent socket and at least
// one key loaded into it, matching the reference implementation's
// stricter agent pre-flight check rather than socket reachability alone.
func isAgentAvailable() bool {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return false
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return false
	}
	defer conn.Close()

	keys, err := agent.NewClient(conn).List()
	if err != nil {
		return false
	}
	return len(keys) > 0
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
