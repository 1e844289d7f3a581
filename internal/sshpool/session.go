package sshpool

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// State is a Session's position in the connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateLost
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateLost:
		return "lost"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

const (
	healthCheckInterval        = 30 * time.Second
	healthCheckTimeout         = 10 * time.Second
	maxHealthCheckFailures     = 3
	reconnectBaseDelay         = 5 * time.Second
	reconnectBackoffMultiplier = 2
	maxReconnectAttempts       = 3
)

// Session owns a single SSH connection, from which each file operation
// opens its own short-lived SFTP subchannel, along with the bookkeeping
// needed to detect connection loss and reconnect with exponential backoff.
type Session struct {
	Handle string
	Config SessionConfig

	mu                sync.Mutex
	state             State
	conn              *ssh.Client
	healthFailures    int
	reconnectAttempts int
	lastHealthCheck   time.Time
	lastActivity      time.Time
	lostAt            time.Time
	connectedAt       time.Time
	autoReconnect     bool
	logger            *log.Logger
}

// NewSession builds a Session in the disconnected state; callers must
// call Connect before issuing commands.
func NewSession(handle string, cfg SessionConfig, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Session{
		Handle:        handle,
		Config:        cfg,
		state:         StateDisconnected,
		autoReconnect: true,
		logger:        logger,
	}
}

// EnableAutoReconnect turns on the self-reconnect policy for this
// session. New sessions default to enabled.
func (s *Session) EnableAutoReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoReconnect = true
}

// DisableAutoReconnect turns off the self-reconnect policy; a lost
// session will stay lost until ForceReconnect is called explicitly.
func (s *Session) DisableAutoReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoReconnect = false
}

// AutoReconnect reports the current self-reconnect policy setting.
func (s *Session) AutoReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoReconnect
}

// IsLost reports whether the session is in the lost state.
func (s *Session) IsLost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateLost
}

// Connect dials the remote host and authenticates using s.Config.
func (s *Session) Connect(ctx context.Context) *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) *Error {
	clientCfg, authErr := ClientConfig(s.Config)
	if authErr != nil {
		return authErr
	}

	type dialResult struct {
		conn *ssh.Client
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := ssh.Dial("tcp", s.Config.addr(), clientCfg)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		// The dial is still running; if it eventually succeeds the
		// client would otherwise be stranded in the buffered channel
		// with nothing to close it. Drain and close it out of band.
		go func() {
			if r := <-resultCh; r.conn != nil {
				r.conn.Close()
			}
		}()
		return NewTimeoutError(GenerateMessage(KindTimeoutError, map[string]any{"operation": "connect"}, true), nil)
	case res := <-resultCh:
		if res.err != nil {
			return NewConnectionError(
				GenerateMessage(KindConnectionError, map[string]any{"detail": res.err.Error(), "host": s.Config.Host}, true),
				map[string]any{"host": s.Config.Host, "port": s.Config.Port, "detail": res.err.Error()},
			)
		}
		s.conn = res.conn
	}

	s.state = StateConnected
	s.healthFailures = 0
	s.reconnectAttempts = 0
	s.lostAt = time.Time{}
	s.connectedAt = time.Now()
	s.lastHealthCheck = time.Now()
	s.logger.Printf("[Session] %s connected to %s@%s", s.Handle, s.Config.Username, s.Config.Host)
	return nil
}

// Disconnect tears down the connection and any SFTP subchannel, and
// marks the session disconnected regardless of its prior state.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	s.state = StateDisconnected
}

func (s *Session) cleanupLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats exposes the runtime bookkeeping used by ssh_list_connections,
// beyond the bare handle/host/state fields.
type Stats struct {
	Handle            string
	Host              string
	Port              int
	Username          string
	AuthMethod        AuthMethod
	State             State
	Connected         bool
	HealthFailures    int
	ReconnectAttempts int
	AutoReconnect     bool
	LastHealthCheck   time.Time
	LastActivity      time.Time
	ConnectionLostAt  time.Time
	ConnectedAt       time.Time
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Handle:            s.Handle,
		Host:              s.Config.Host,
		Port:              s.Config.Port,
		Username:          s.Config.Username,
		AuthMethod:        s.Config.AuthMethod,
		State:             s.state,
		Connected:         s.state == StateConnected,
		HealthFailures:    s.healthFailures,
		ReconnectAttempts: s.reconnectAttempts,
		AutoReconnect:     s.autoReconnect,
		LastHealthCheck:   s.lastHealthCheck,
		LastActivity:      s.lastActivity,
		ConnectionLostAt:  s.lostAt,
		ConnectedAt:       s.connectedAt,
	}
}

// IsHealthCheckNeeded reports whether enough time has passed since the
// last health check for the pool monitor to run another one.
func (s *Session) IsHealthCheckNeeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return false
	}
	return time.Since(s.lastHealthCheck) >= healthCheckInterval
}

// HealthCheck runs a trivial remote command to confirm the transport is
// still alive. Once consecutive failures reach maxHealthCheckFailures the
// session flips into the lost state.
func (s *Session) HealthCheck(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected || s.conn == nil {
		return
	}
	conn := s.conn

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	type probeResult struct {
		output []byte
		err    error
	}
	resultCh := make(chan probeResult, 1)
	go func() {
		session, err := conn.NewSession()
		if err != nil {
			resultCh <- probeResult{nil, err}
			return
		}
		defer session.Close()
		out, runErr := session.Output("echo 'health_check'")
		resultCh <- probeResult{out, runErr}
	}()

	var res probeResult
	select {
	case <-checkCtx.Done():
		res = probeResult{nil, checkCtx.Err()}
	case res = <-resultCh:
	}

	s.lastHealthCheck = time.Now()

	if res.err != nil || !strings.Contains(string(res.output), "health_check") {
		s.healthFailures++
		s.logger.Printf("[Session] %s health check failed (%d/%d): %v", s.Handle, s.healthFailures, maxHealthCheckFailures, res.err)
		if s.healthFailures >= maxHealthCheckFailures {
			s.handleConnectionLossLocked()
		}
		return
	}

	s.healthFailures = 0
	if !s.lostAt.IsZero() {
		s.lostAt = time.Time{}
		s.reconnectAttempts = 0
	}
}

// DetectConnectionLoss is a cheap, synchronous probe of transport
// liveness, used on the command path when a network error surfaces
// mid-operation rather than from the background monitor's health
// check. It reports true (and marks the session lost) if there is no
// client or the session is not in the connected state.
func (s *Session) DetectConnectionLoss() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.state == StateConnected {
		return false
	}
	s.handleConnectionLossLocked()
	return true
}

func (s *Session) handleConnectionLossLocked() {
	if s.state == StateLost || s.state == StateTerminal {
		return
	}
	s.cleanupLocked()
	s.state = StateLost
	s.lostAt = time.Now()
	s.logger.Printf("[Session] %s marked lost", s.Handle)
}

// AttemptReconnect tries once to re-establish the connection, honoring
// the exponential backoff schedule. It returns nil once reconnected, or
// the error from the most recent attempt. Once reconnectAttempts
// reaches maxReconnectAttempts the session moves to the terminal state
// and becomes eligible for pool cleanup.
func (s *Session) AttemptReconnect(ctx context.Context) *Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminal {
		return NewConnectionError("session is terminal and will not be retried", map[string]any{"handle": s.Handle})
	}
	if s.state == StateConnected {
		return nil
	}
	if s.reconnectAttempts >= maxReconnectAttempts {
		s.state = StateTerminal
		return NewConnectionError("exhausted reconnect attempts", map[string]any{"handle": s.Handle, "attempts": s.reconnectAttempts})
	}

	delay := backoffDelay(s.reconnectAttempts)
	s.reconnectAttempts++

	select {
	case <-ctx.Done():
		return NewTimeoutError(GenerateMessage(KindTimeoutError, map[string]any{"operation": "reconnect"}, true), nil)
	case <-time.After(delay):
	}

	if err := s.connectLocked(ctx); err != nil {
		if s.reconnectAttempts >= maxReconnectAttempts {
			s.state = StateTerminal
		}
		return err
	}
	return nil
}

func backoffDelay(attempt int) time.Duration {
	delay := reconnectBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= reconnectBackoffMultiplier
	}
	return delay
}

// ForceReconnect bypasses the lost-state requirement and retries
// unconditionally, resetting the attempt counter first.
func (s *Session) ForceReconnect(ctx context.Context) *Error {
	s.mu.Lock()
	s.reconnectAttempts = 0
	s.cleanupLocked()
	s.state = StateLost
	s.mu.Unlock()
	return s.AttemptReconnect(ctx)
}

// ExecResult is the outcome of a single command execution.
type ExecResult struct {
	Stdout        string
	Stderr        string
	ExitCode      int
	Command       string
	ExecutionTime float64
	Timestamp     time.Time
}

// Execute runs command on the remote host. If the connection has been
// lost it attempts exactly one reconnect-and-retry before giving up;
// the reference implementation retries recursively without bound, which
// this caps deliberately. A blank command (after trimming) is rejected
// outright.
func (s *Session) Execute(ctx context.Context, command string, timeoutSeconds int) (*ExecResult, *Error) {
	if strings.TrimSpace(command) == "" {
		return nil, NewInvalidCommandError()
	}

	s.mu.Lock()
	state := s.state
	auto := s.autoReconnect
	lost := s.state == StateLost
	s.mu.Unlock()

	if state != StateConnected {
		if auto && lost {
			if err := s.AttemptReconnect(ctx); err != nil {
				return nil, NewConnectionError("reconnection failed: "+err.Message, map[string]any{"handle": s.Handle})
			}
		} else {
			return nil, NewConnectionError("Connection not established", map[string]any{"handle": s.Handle})
		}
	}

	if s.DetectConnectionLoss() {
		s.mu.Lock()
		auto = s.autoReconnect
		s.mu.Unlock()
		if auto {
			if err := s.AttemptReconnect(ctx); err != nil {
				return nil, NewConnectionError("reconnection failed: "+err.Message, map[string]any{"handle": s.Handle})
			}
		} else {
			return nil, NewConnectionError("Connection not established", map[string]any{"handle": s.Handle})
		}
	}

	start := time.Now()
	result, err := s.executeOnce(ctx, command, timeoutSeconds, start)
	if err == nil {
		return result, nil
	}
	if !isLostSignature(err) {
		return nil, err
	}

	s.mu.Lock()
	s.handleConnectionLossLocked()
	s.mu.Unlock()
	if reconnectErr := s.AttemptReconnect(ctx); reconnectErr != nil {
		return nil, reconnectErr
	}
	return s.executeOnce(ctx, command, timeoutSeconds, time.Now())
}

// isLostSignature reports whether err's message matches one of the
// connection-loss signatures that warrant a single retry after
// reconnection, rather than failing the call outright.
func isLostSignature(err *Error) bool {
	if err.Kind != KindConnectionError {
		return false
	}
	lower := strings.ToLower(err.Message)
	for _, marker := range []string{"socket is closed", "connection lost", "broken pipe"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (s *Session) executeOnce(ctx context.Context, command string, timeoutSeconds int, start time.Time) (*ExecResult, *Error) {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()

	if state != StateConnected || conn == nil {
		return nil, NewConnectionError("Connection not established", map[string]any{"handle": s.Handle})
	}

	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	execCtx, cancel := context.WithTimeout(ctx, secondsToDuration(timeoutSeconds))
	defer cancel()

	session, err := conn.NewSession()
	if err != nil {
		return nil, NewConnectionError(fmt.Sprintf("failed to open session: %v", err), map[string]any{"handle": s.Handle})
	}
	defer session.Close()

	stdout, _ := session.StdoutPipe()
	stderr, _ := session.StderrPipe()

	if err := session.Start(command); err != nil {
		return nil, NewCommandError(command, -1, err.Error())
	}

	type output struct {
		stdout, stderr []byte
	}
	outCh := make(chan output, 1)
	go func() {
		outBytes, _ := io.ReadAll(stdout)
		errBytes, _ := io.ReadAll(stderr)
		outCh <- output{outBytes, errBytes}
	}()

	var out output
	select {
	case <-execCtx.Done():
		session.Signal(ssh.SIGKILL)
		return nil, NewTimeoutError(GenerateMessage(KindTimeoutError, map[string]any{"operation": "execute_command", "timeout_seconds": timeoutSeconds}, true), map[string]any{"command": command})
	case out = <-outCh:
	}

	exitCode := 0
	if waitErr := session.Wait(); waitErr != nil {
		if exitErr, ok := waitErr.(*ssh.ExitError); ok {
			exitCode = exitErr.ExitStatus()
		} else {
			return nil, NewConnectionError(fmt.Sprintf("command wait failed: %v", waitErr), map[string]any{"handle": s.Handle})
		}
	}

	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()

	return &ExecResult{
		Stdout:        string(out.stdout),
		Stderr:        string(out.stderr),
		ExitCode:      exitCode,
		Command:       command,
		ExecutionTime: time.Since(start).Seconds(),
		Timestamp:     start,
	}, nil
}

// openSFTP opens a fresh SFTP subchannel for a single operation. Callers
// must close it on every exit path; the subchannel is never cached on
// the Session, matching the reference implementation's open-per-call,
// close-in-finally pattern rather than a persistent client.
func (s *Session) openSFTP() (*sftp.Client, *Error) {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()

	if state != StateConnected || conn == nil {
		return nil, NewConnectionError("session is not connected", map[string]any{"handle": s.Handle})
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, NewConnectionError(fmt.Sprintf("failed to open SFTP subchannel: %v", err), map[string]any{"handle": s.Handle})
	}
	return client, nil
}

// ReadFile reads the full contents of path over SFTP. The contents must
// be valid UTF-8; otherwise a ConnectionError naming the requested
// encoding is returned. path must be non-empty.
func (s *Session) ReadFile(path string, encoding string) (string, *Error) {
	if strings.TrimSpace(path) == "" {
		return "", NewInvalidParams("file_path must not be empty", nil)
	}

	client, err := s.openSFTP()
	if err != nil {
		return "", err
	}
	defer client.Close()

	f, openErr := client.Open(path)
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return "", NewFileNotFoundError(path)
		}
		return "", NewPermissionError(GenerateMessage(KindPermissionError, map[string]any{"path": path}, true), map[string]any{"path": path, "detail": openErr.Error()})
	}
	defer f.Close()

	data, readErr := io.ReadAll(f)
	if readErr != nil {
		return "", NewInternalError(fmt.Sprintf("failed to read %s: %v", path, readErr), map[string]any{"path": path})
	}
	if !utf8.Valid(data) {
		return "", NewConnectionError(fmt.Sprintf("could not decode %s as %s", path, encoding), map[string]any{"path": path, "encoding": encoding})
	}

	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return string(data), nil
}

// WriteFile writes content to path over SFTP. When createDirs is set,
// it first issues a best-effort `mkdir -p` on the parent directory via
// exec; a failure there is logged but not fatal, on the theory that the
// subsequent write will fail naturally if the directory genuinely could
// not be created.
func (s *Session) WriteFile(path string, content string, encoding string, createDirs bool) *Error {
	if strings.TrimSpace(path) == "" {
		return NewInvalidParams("file_path must not be empty", nil)
	}
	if !utf8.ValidString(content) {
		return NewConnectionError(fmt.Sprintf("could not encode content as %s", encoding), map[string]any{"path": path, "encoding": encoding})
	}

	if createDirs {
		s.ensureParentDir(path)
	}

	client, err := s.openSFTP()
	if err != nil {
		return err
	}
	defer client.Close()

	f, createErr := client.Create(path)
	if createErr != nil {
		return NewPermissionError(GenerateMessage(KindPermissionError, map[string]any{"path": path}, true), map[string]any{"path": path, "detail": createErr.Error()})
	}
	defer f.Close()

	if _, writeErr := f.Write([]byte(content)); writeErr != nil {
		return NewInternalError(fmt.Sprintf("failed to write %s: %v", path, writeErr), map[string]any{"path": path})
	}

	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return nil
}

// ensureParentDir issues a best-effort `mkdir -p` for path's parent
// directory over exec. Failures are logged and otherwise ignored; the
// write that follows will surface its own error if the directory
// genuinely could not be created.
func (s *Session) ensureParentDir(path string) {
	dir := posixDir(path)
	if dir == "" || dir == "." {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.executeOnce(ctx, fmt.Sprintf("mkdir -p %s", shellQuote(dir)), 10, time.Now()); err != nil {
		s.logger.Printf("[Session] %s mkdir -p %s failed: %v", s.Handle, dir, err)
	}
}

// posixDir returns the parent directory of a POSIX-style remote path,
// mirroring path.Dir's behavior without assuming the controller's own
// OS path conventions (which may be Windows).
func posixDir(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		if idx == 0 {
			return "/"
		}
		return ""
	}
	return p[:idx]
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// EntryType is the coarse classification of a listed remote file.
type EntryType string

const (
	EntryFile      EntryType = "file"
	EntryDirectory EntryType = "directory"
	EntryUnknown   EntryType = "unknown"
)

// DirEntry describes one entry returned by ListDirectory.
type DirEntry struct {
	Name        string
	Type        EntryType
	Size        *int64
	Permissions *string
	ModifiedAt  *time.Time
	OwnerID     *uint32
	GroupID     *uint32
}

// ListDirectory lists the contents of path over SFTP, sorted by name.
// Hidden entries (a name with a leading dot) are dropped unless
// showHidden is set. In non-detailed mode every entry's type is
// reported as EntryUnknown and the size/permission/ownership fields
// are left nil, matching the reference implementation's "names only"
// fast path.
func (s *Session) ListDirectory(path string, showHidden bool, detailed bool) ([]DirEntry, *Error) {
	if strings.TrimSpace(path) == "" {
		return nil, NewInvalidParams("directory_path must not be empty", nil)
	}

	client, err := s.openSFTP()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	entries, listErr := client.ReadDir(path)
	if listErr != nil {
		if os.IsNotExist(listErr) {
			return nil, NewFileNotFoundError(path)
		}
		return nil, NewPermissionError(GenerateMessage(KindPermissionError, map[string]any{"path": path}, true), map[string]any{"path": path, "detail": listErr.Error()})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	result := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		if !showHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !detailed {
			result = append(result, DirEntry{Name: e.Name(), Type: EntryUnknown})
			continue
		}

		entryType := EntryFile
		if e.IsDir() {
			entryType = EntryDirectory
		}
		size := e.Size()
		perm := fmt.Sprintf("%03o", e.Mode().Perm())
		modTime := e.ModTime()
		entry := DirEntry{Name: e.Name(), Type: entryType, Size: &size, Permissions: &perm, ModifiedAt: &modTime}
		if stat, ok := e.Sys().(*sftp.FileStat); ok {
			entry.OwnerID = &stat.UID
			entry.GroupID = &stat.GID
		}
		result = append(result, entry)
	}

	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return result, nil
}

// IsConnectionError reports whether err's text matches the substrings
// the reference implementation treats as transport-level failures
// (as opposed to remote command or permission failures).
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range []string{"connection reset", "broken pipe", "eof", "connection refused", "use of closed network connection"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
