package mcp

// catalogue holds every tool this server exposes, keyed by name, built
// once at package init.
var catalogue = map[string]ToolSchema{}

func init() {
	for _, t := range []ToolSchema{
		sshConnectSchema,
		sshExecuteSchema,
		sshReadFileSchema,
		sshWriteFileSchema,
		sshListDirectorySchema,
		sshDisconnectSchema,
		sshListConnectionsSchema,
	} {
		catalogue[t.Name] = t
	}
}

var sshConnectSchema = ToolSchema{
	Name:        "ssh_connect",
	Description: "Open a pooled SSH connection to a remote host and return a connection_id for subsequent operations.",
	Params: []ParamSpec{
		{Name: "hostname", Type: TypeString, Description: "Hostname or IP address of the remote server.", Required: true},
		{Name: "username", Type: TypeString, Description: "Username to authenticate as.", Required: true},
		{Name: "port", Type: TypeInteger, Description: "SSH port.", Required: false, Default: 22, Minimum: floatPtr(1), Maximum: floatPtr(65535)},
		{Name: "auth_method", Type: TypeString, Description: "Authentication strategy to use.", Required: false, Default: "agent", Enum: []any{"key", "password", "agent"}},
		{Name: "key_path", Type: TypeString, Description: "Path to a private key file, required when auth_method is key.", Required: false},
		{Name: "password", Type: TypeString, Description: "Password, required when auth_method is password.", Required: false},
		{Name: "timeout", Type: TypeInteger, Description: "Connection timeout in seconds.", Required: false, Default: 30, Minimum: floatPtr(1), Maximum: floatPtr(300)},
	},
}

var sshExecuteSchema = ToolSchema{
	Name:        "ssh_execute",
	Description: "Execute a shell command on a connected session.",
	Params: []ParamSpec{
		{Name: "connection_id", Type: TypeString, Description: "Connection handle returned by ssh_connect.", Required: true},
		{Name: "command", Type: TypeString, Description: "Shell command to execute.", Required: true},
		{Name: "timeout", Type: TypeInteger, Description: "Execution timeout in seconds.", Required: false, Default: 60, Minimum: floatPtr(1), Maximum: floatPtr(3600)},
	},
}

var sshReadFileSchema = ToolSchema{
	Name:        "ssh_read_file",
	Description: "Read a file from the remote host over the session's SFTP subchannel.",
	Params: []ParamSpec{
		{Name: "connection_id", Type: TypeString, Description: "Connection handle returned by ssh_connect.", Required: true},
		{Name: "file_path", Type: TypeString, Description: "Absolute or relative remote path to read.", Required: true},
		{Name: "encoding", Type: TypeString, Description: "Text encoding to decode the file as.", Required: false, Default: "utf-8"},
	},
}

var sshWriteFileSchema = ToolSchema{
	Name:        "ssh_write_file",
	Description: "Write content to a file on the remote host over the session's SFTP subchannel.",
	Params: []ParamSpec{
		{Name: "connection_id", Type: TypeString, Description: "Connection handle returned by ssh_connect.", Required: true},
		{Name: "file_path", Type: TypeString, Description: "Absolute or relative remote path to write.", Required: true},
		{Name: "content", Type: TypeString, Description: "Content to write to the file.", Required: true},
		{Name: "encoding", Type: TypeString, Description: "Text encoding to encode the content as.", Required: false, Default: "utf-8"},
		{Name: "create_dirs", Type: TypeBoolean, Description: "Create parent directories before writing.", Required: false, Default: false},
	},
}

var sshListDirectorySchema = ToolSchema{
	Name:        "ssh_list_directory",
	Description: "List the contents of a remote directory over SFTP.",
	Params: []ParamSpec{
		{Name: "connection_id", Type: TypeString, Description: "Connection handle returned by ssh_connect.", Required: true},
		{Name: "directory_path", Type: TypeString, Description: "Remote directory path to list.", Required: true},
		{Name: "show_hidden", Type: TypeBoolean, Description: "Include dotfile entries.", Required: false, Default: false},
		{Name: "detailed", Type: TypeBoolean, Description: "Return size, permissions, ownership, and modified time for each entry.", Required: false, Default: false},
	},
}

var sshDisconnectSchema = ToolSchema{
	Name:        "ssh_disconnect",
	Description: "Close one pooled connection and release its handle.",
	Params: []ParamSpec{
		{Name: "connection_id", Type: TypeString, Description: "Connection handle to close.", Required: true},
	},
}

var sshListConnectionsSchema = ToolSchema{
	Name:        "ssh_list_connections",
	Description: "List every pooled connection and its current health.",
	Params:      []ParamSpec{},
}
