// Package sshpool manages a bounded pool of multiplexed SSH connections:
// authentication, session lifecycle with automatic reconnection, and the
// error taxonomy surfaced to callers through the mcp package.
package sshpool

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is a closed taxonomy of error categories. The integer values are
// the JSON-RPC-compatible codes emitted on the wire; do not renumber.
type Kind int

const (
	KindParseError          Kind = -32700
	KindInvalidRequest      Kind = -32600
	KindMethodNotFound      Kind = -32601
	KindInvalidParams       Kind = -32602
	KindInternalError       Kind = -32603
	KindToolError           Kind = -32000
	KindConnectionError     Kind = -32001
	KindAuthenticationError Kind = -32002
	KindTimeoutError        Kind = -32003
	KindPermissionError     Kind = -32004
	KindFileNotFoundError   Kind = -32005
	KindCommandError        Kind = -32007
)

func (k Kind) String() string {
	switch k {
	case KindParseError:
		return "ParseError"
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindMethodNotFound:
		return "MethodNotFound"
	case KindInvalidParams:
		return "InvalidParams"
	case KindInternalError:
		return "InternalError"
	case KindToolError:
		return "ToolError"
	case KindConnectionError:
		return "ConnectionError"
	case KindAuthenticationError:
		return "AuthenticationError"
	case KindTimeoutError:
		return "TimeoutError"
	case KindPermissionError:
		return "PermissionError"
	case KindFileNotFoundError:
		return "FileNotFoundError"
	case KindCommandError:
		return "CommandError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// sensitiveKeys is matched case-insensitively as a substring against map
// keys before an error's Data is ever rendered or logged.
var sensitiveKeys = []string{
	"password", "passwd", "pwd", "secret", "token", "key", "auth",
	"credential", "private_key", "ssh_key", "passphrase",
}

const filteredPlaceholder = "[FILTERED]"

// Error is the typed error carried through the pool and dispatcher. Its
// Data is redacted at construction time, not at serialization time, so
// that no code path can accidentally log the pre-redaction value.
type Error struct {
	Kind    Kind
	Message string
	Data    map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

// New builds an Error, redacting Data and scrubbing Message in place.
func New(kind Kind, message string, data map[string]any) *Error {
	return &Error{
		Kind:    kind,
		Message: SanitizeMessage(message, false),
		Data:    Redact(data),
	}
}

func NewParseError(message string, data map[string]any) *Error {
	return New(KindParseError, message, data)
}

func NewInvalidRequest(message string, data map[string]any) *Error {
	return New(KindInvalidRequest, message, data)
}

func NewMethodNotFound(method string) *Error {
	return New(KindMethodNotFound, fmt.Sprintf("unknown method: %s", method), map[string]any{"method": method})
}

func NewInvalidParams(message string, data map[string]any) *Error {
	return New(KindInvalidParams, message, data)
}

func NewInternalError(message string, data map[string]any) *Error {
	return New(KindInternalError, message, data)
}

func NewToolError(tool string, message string, data map[string]any) *Error {
	merged := map[string]any{"tool": tool}
	for k, v := range data {
		merged[k] = v
	}
	return New(KindToolError, message, merged)
}

func NewConnectionError(message string, data map[string]any) *Error {
	return New(KindConnectionError, message, data)
}

func NewAuthenticationError(message string, data map[string]any) *Error {
	return New(KindAuthenticationError, message, data)
}

func NewTimeoutError(message string, data map[string]any) *Error {
	return New(KindTimeoutError, message, data)
}

func NewPermissionError(message string, data map[string]any) *Error {
	return New(KindPermissionError, message, data)
}

func NewFileNotFoundError(path string) *Error {
	return New(KindFileNotFoundError, fmt.Sprintf("file not found: %s", path), map[string]any{"path": path})
}

// NewInvalidCommandError is raised when execute_command is called with
// a command that is empty once leading/trailing whitespace is trimmed.
func NewInvalidCommandError() *Error {
	return New(KindToolError, "command must not be empty", nil)
}

func NewCommandError(command string, exitCode int, stderr string) *Error {
	return New(KindCommandError, fmt.Sprintf("command exited with status %d", exitCode), map[string]any{
		"command":   command,
		"exit_code": exitCode,
		"stderr":    stderr,
	})
}

// Redact walks data recursively and replaces the value of any key whose
// lowercased form contains one of sensitiveKeys with a fixed placeholder.
func Redact(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	return redactDict(data)
}

func redactDict(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if isSensitiveKey(k) {
			out[k] = filteredPlaceholder
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return redactDict(val)
	case []any:
		redacted := make([]any, len(val))
		for i, item := range val {
			redacted[i] = redactValue(item)
		}
		return redacted
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// kvPattern matches "key=value" or "key: value" style fragments inside a
// free-form message string so that secrets embedded in command output or
// exception text (not just structured Data) get scrubbed too.
var kvPattern = regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|key|auth|passphrase)\s*[=:]\s*\S+`)

// SanitizeMessage scrubs key=value secrets out of a free-form message. In
// production mode the whole match is replaced; in debug mode the key
// name survives and only the value is filtered, matching the source's
// debug-mode behavior of still naming the field while hiding its value.
func SanitizeMessage(msg string, debug bool) string {
	return kvPattern.ReplaceAllStringFunc(msg, func(match string) string {
		if !debug {
			return filteredPlaceholder
		}
		idx := strings.IndexAny(match, "=:")
		if idx < 0 {
			return match
		}
		return match[:idx] + "=" + filteredPlaceholder
	})
}

// GenerateMessage renders a human message for kind given ctx. userFriendly
// selects the short, non-technical phrasing; when false the message
// includes more of the underlying detail for operator-facing logs.
func GenerateMessage(kind Kind, ctx map[string]any, userFriendly bool) string {
	switch kind {
	case KindConnectionError:
		return connectionErrorMessage(ctx, userFriendly)
	case KindAuthenticationError:
		return authenticationErrorMessage(ctx, userFriendly)
	case KindTimeoutError:
		return timeoutErrorMessage(ctx, userFriendly)
	case KindCommandError:
		return commandErrorMessage(ctx, userFriendly)
	case KindFileNotFoundError:
		return fileNotFoundErrorMessage(ctx, userFriendly)
	case KindPermissionError:
		return permissionErrorMessage(ctx, userFriendly)
	default:
		if detail, ok := ctx["detail"].(string); ok {
			return detail
		}
		return kind.String()
	}
}

func connectionErrorMessage(ctx map[string]any, userFriendly bool) string {
	detail, _ := ctx["detail"].(string)
	host, _ := ctx["host"].(string)
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "refused"):
		if userFriendly {
			return fmt.Sprintf("connection to %s was refused; is the SSH service running on the expected port?", host)
		}
		return fmt.Sprintf("connection to %s refused: %s", host, detail)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		if userFriendly {
			return fmt.Sprintf("connection to %s timed out; check network reachability and firewall rules", host)
		}
		return fmt.Sprintf("connection to %s timed out: %s", host, detail)
	case strings.Contains(lower, "unreachable"):
		if userFriendly {
			return fmt.Sprintf("host %s is unreachable", host)
		}
		return fmt.Sprintf("host %s unreachable: %s", host, detail)
	case strings.Contains(lower, "resolve") || strings.Contains(lower, "no such host"):
		if userFriendly {
			return fmt.Sprintf("could not resolve host %s", host)
		}
		return fmt.Sprintf("DNS resolution failed for %s: %s", host, detail)
	default:
		if userFriendly {
			return fmt.Sprintf("could not connect to %s", host)
		}
		return fmt.Sprintf("connection to %s failed: %s", host, detail)
	}
}

func authenticationErrorMessage(ctx map[string]any, userFriendly bool) string {
	detail, _ := ctx["detail"].(string)
	username, _ := ctx["username"].(string)
	lower := strings.ToLower(detail)
	if strings.Contains(lower, "passphrase") || strings.Contains(lower, "encrypted") {
		return "private key is encrypted and requires a passphrase"
	}
	if userFriendly {
		return fmt.Sprintf("authentication failed for user %q; check credentials", username)
	}
	return fmt.Sprintf("authentication failed for %q: %s", username, detail)
}

func timeoutErrorMessage(ctx map[string]any, userFriendly bool) string {
	op, _ := ctx["operation"].(string)
	if userFriendly {
		return fmt.Sprintf("%s timed out", op)
	}
	seconds, _ := ctx["timeout_seconds"].(int)
	return fmt.Sprintf("%s exceeded timeout of %ds", op, seconds)
}

func commandErrorMessage(ctx map[string]any, userFriendly bool) string {
	exitCode, _ := ctx["exit_code"].(int)
	command, _ := ctx["command"].(string)
	switch exitCode {
	case 127:
		if userFriendly {
			return "command not found"
		}
		return fmt.Sprintf("command not found: %s", command)
	case 126:
		if userFriendly {
			return "command is not executable"
		}
		return fmt.Sprintf("command not executable: %s", command)
	case 1:
		if userFriendly {
			return "command failed"
		}
		return fmt.Sprintf("command %q exited with status 1", command)
	default:
		if userFriendly {
			return fmt.Sprintf("command exited with status %d", exitCode)
		}
		return fmt.Sprintf("command %q exited with status %d", command, exitCode)
	}
}

func fileNotFoundErrorMessage(ctx map[string]any, userFriendly bool) string {
	path, _ := ctx["path"].(string)
	if userFriendly {
		return fmt.Sprintf("file not found: %s", path)
	}
	return fmt.Sprintf("remote file does not exist: %s", path)
}

func permissionErrorMessage(ctx map[string]any, userFriendly bool) string {
	path, _ := ctx["path"].(string)
	if userFriendly {
		return fmt.Sprintf("permission denied: %s", path)
	}
	return fmt.Sprintf("insufficient permissions to access %s", path)
}
