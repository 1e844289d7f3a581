package mcp

import (
	"context"
	"strings"
	"time"

	"github.com/sshmcp/sshmcp/internal/sshpool"
)

func registerHandlers(d *Dispatcher) {
	d.handlers["ssh_connect"] = d.handleSSHConnect
	d.handlers["ssh_execute"] = d.handleSSHExecute
	d.handlers["ssh_read_file"] = d.handleSSHReadFile
	d.handlers["ssh_write_file"] = d.handleSSHWriteFile
	d.handlers["ssh_list_directory"] = d.handleSSHListDirectory
	d.handlers["ssh_disconnect"] = d.handleSSHDisconnect
	d.handlers["ssh_list_connections"] = d.handleSSHListConnections
}

func (d *Dispatcher) handleSSHConnect(args map[string]any) (any, *sshpool.Error) {
	cfg := sshpool.SessionConfig{
		Host:       args["hostname"].(string),
		Port:       args["port"].(int),
		Username:   args["username"].(string),
		AuthMethod: sshpool.AuthMethod(args["auth_method"].(string)),
		Timeout:    args["timeout"].(int),
	}
	if v, ok := args["password"].(string); ok {
		cfg.Password = v
	}
	if v, ok := args["key_path"].(string); ok {
		cfg.PrivateKeyPath = v
	}

	if err := sshpool.ValidateConfig(cfg); err != nil {
		return nil, sshpool.NewToolError("ssh_connect", err.Message, err.Data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Timeout)*time.Second)
	defer cancel()

	handle, err := d.pool.CreateConnection(ctx, cfg)
	if err != nil {
		return nil, sshpool.NewToolError("ssh_connect", err.Message, err.Data)
	}

	return map[string]any{
		"success":       true,
		"connection_id": handle,
		"hostname":      cfg.Host,
		"port":          cfg.Port,
		"username":      cfg.Username,
		"auth_method":   string(cfg.AuthMethod),
		"status":        "connected",
	}, nil
}

func (d *Dispatcher) handleSSHExecute(args map[string]any) (any, *sshpool.Error) {
	connectionID := args["connection_id"].(string)
	command := args["command"].(string)
	timeout := args["timeout"].(int)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout+5)*time.Second)
	defer cancel()

	result, err := d.pool.ExecuteCommand(ctx, connectionID, command, timeout)
	if err != nil {
		return nil, sshpool.NewToolError("ssh_execute", err.Message, err.Data)
	}

	hasOutput := result.Stdout != "" || result.Stderr != ""
	return map[string]any{
		"stdout":         result.Stdout,
		"stderr":         result.Stderr,
		"exit_code":      result.ExitCode,
		"success":        result.ExitCode == 0,
		"execution_time": result.ExecutionTime,
		"command":        result.Command,
		"timestamp":      result.Timestamp.UTC().Format(time.RFC3339),
		"has_output":     hasOutput,
	}, nil
}

func (d *Dispatcher) handleSSHReadFile(args map[string]any) (any, *sshpool.Error) {
	connectionID := args["connection_id"].(string)
	path := args["file_path"].(string)
	encoding := args["encoding"].(string)

	content, err := d.pool.ReadFile(connectionID, path, encoding)
	if err != nil {
		return nil, sshpool.NewToolError("ssh_read_file", err.Message, err.Data)
	}

	return map[string]any{
		"file_path": path,
		"content":   content,
		"encoding":  encoding,
		"size":      len(content),
		"lines":     strings.Count(content, "\n") + 1,
	}, nil
}

func (d *Dispatcher) handleSSHWriteFile(args map[string]any) (any, *sshpool.Error) {
	connectionID := args["connection_id"].(string)
	path := args["file_path"].(string)
	content := args["content"].(string)
	encoding := args["encoding"].(string)
	createDirs, _ := args["create_dirs"].(bool)

	if err := d.pool.WriteFile(connectionID, path, content, encoding, createDirs); err != nil {
		return nil, sshpool.NewToolError("ssh_write_file", err.Message, err.Data)
	}

	return map[string]any{
		"file_path":     path,
		"bytes_written": len([]byte(content)),
		"encoding":      encoding,
		"create_dirs":   createDirs,
		"status":        "success",
	}, nil
}

func (d *Dispatcher) handleSSHListDirectory(args map[string]any) (any, *sshpool.Error) {
	connectionID := args["connection_id"].(string)
	path := args["directory_path"].(string)
	showHidden, _ := args["show_hidden"].(bool)
	detailed, _ := args["detailed"].(bool)

	entries, err := d.pool.ListDirectory(connectionID, path, showHidden, detailed)
	if err != nil {
		return nil, sshpool.NewToolError("ssh_list_directory", err.Message, err.Data)
	}

	formatted := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		entry := map[string]any{
			"name": e.Name,
			"type": string(e.Type),
		}
		if e.Size != nil {
			entry["size"] = *e.Size
		}
		if e.Permissions != nil {
			entry["permissions"] = *e.Permissions
		}
		if e.ModifiedAt != nil {
			entry["modified"] = e.ModifiedAt.UTC().Format(time.RFC3339)
		}
		if e.OwnerID != nil {
			entry["owner_id"] = *e.OwnerID
		}
		if e.GroupID != nil {
			entry["group_id"] = *e.GroupID
		}
		formatted = append(formatted, entry)
	}

	return map[string]any{
		"directory_path": path,
		"entries":        formatted,
		"total_entries":  len(formatted),
		"show_hidden":    showHidden,
		"detailed":       detailed,
	}, nil
}

func (d *Dispatcher) handleSSHDisconnect(args map[string]any) (any, *sshpool.Error) {
	connectionID := args["connection_id"].(string)

	if !d.pool.Disconnect(connectionID) {
		return nil, sshpool.NewToolError("ssh_disconnect", "Connection not found", map[string]any{"connection_id": connectionID})
	}
	return map[string]any{"connection_id": connectionID, "status": "disconnected"}, nil
}

func (d *Dispatcher) handleSSHListConnections(_ map[string]any) (any, *sshpool.Error) {
	infos := d.pool.ListConnections()
	formatted := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		entry := map[string]any{
			"connection_id":      info.Handle,
			"hostname":           info.Host,
			"port":               info.Port,
			"username":           info.Username,
			"auth_method":        string(info.AuthMethod),
			"connected":          info.Connected,
			"state":              info.State,
			"health_failures":    info.HealthFailures,
			"reconnect_attempts": info.ReconnectAttempts,
			"auto_reconnect":     info.AutoReconnect,
		}
		if !info.ConnectedAt.IsZero() {
			entry["connection_start"] = info.ConnectedAt.UTC().Format(time.RFC3339)
		}
		if !info.LastActivity.IsZero() {
			entry["last_used"] = info.LastActivity.UTC().Format(time.RFC3339)
		}
		if !info.LastHealthCheck.IsZero() {
			entry["last_health_check"] = info.LastHealthCheck.UTC().Format(time.RFC3339)
		}
		if !info.ConnectionLostAt.IsZero() {
			entry["lost_at"] = info.ConnectionLostAt.UTC().Format(time.RFC3339)
		}
		formatted = append(formatted, entry)
	}
	return map[string]any{"connections": formatted, "total": len(formatted)}, nil
}
