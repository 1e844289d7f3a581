package mcp

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/sshmcp/sshmcp/internal/sshpool"
)

const protocolVersion = "2024-11-05"
const serverName = "sshmcp"
const serverVersion = "0.1.0"

// Request is the JSON-RPC 2.0 envelope this server accepts.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// Response is the JSON-RPC 2.0 envelope this server emits. Exactly one
// of Result or Error is set.
type Response struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      any        `json:"id"`
	Result  any        `json:"result,omitempty"`
	Error   *wireError `json:"error,omitempty"`
}

type wireError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// HandlerFunc implements one ssh_* tool. args has already been validated
// and normalized against the tool's ToolSchema.
type HandlerFunc func(args map[string]any) (any, *sshpool.Error)

// Dispatcher routes JSON-RPC requests to the initialize, tools/list and
// tools/call methods and, for tools/call, to the named tool's handler.
type Dispatcher struct {
	pool     *sshpool.Pool
	handlers map[string]HandlerFunc
	logger   *log.Logger
	debug    bool
}

// NewDispatcher wires handlers for every tool in the catalogue against
// pool. debug gates whether an uncaught failure's raw detail is
// included in the InternalError response, per §4.6's "raw message only
// if debug mode is on" rule.
func NewDispatcher(pool *sshpool.Pool, logger *log.Logger, debug bool) *Dispatcher {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	d := &Dispatcher{
		pool:     pool,
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
		debug:    debug,
	}
	registerHandlers(d)
	return d
}

// Handle parses a single JSON-RPC request from raw and returns the
// serialized response. A malformed payload still produces a valid
// JSON-RPC error response with a null id, per the ParseError contract.
func (d *Dispatcher) Handle(raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return mustMarshal(errorResponse(nil, sshpool.NewParseError("invalid JSON in request", nil)))
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		return mustMarshal(errorResponse(req.ID, sshpool.NewInvalidRequest("request must set jsonrpc=\"2.0\" and a method", nil)))
	}

	d.logger.Printf("[Dispatcher] request method=%s id=%v", req.Method, req.ID)

	result, mcpErr := d.route(req)

	if mcpErr != nil {
		d.logger.Printf("[Dispatcher] error method=%s kind=%s message=%s", req.Method, mcpErr.Kind, mcpErr.Message)
		return mustMarshal(errorResponse(req.ID, mcpErr))
	}
	return mustMarshal(successResponse(req.ID, result))
}

// route dispatches req to the matching method and recovers from any panic
// a handler raises, mapping it to an InternalError. The raw panic detail is
// included only when the dispatcher is running in debug mode, per the
// "raw message only if debug mode is on, otherwise omitted" contract;
// otherwise callers get a generic message with no internal detail leaked.
func (d *Dispatcher) route(req Request) (result any, mcpErr *sshpool.Error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("[Dispatcher] panic method=%s recovered=%v", req.Method, r)
			if d.debug {
				mcpErr = sshpool.NewInternalError(fmt.Sprintf("unhandled failure: %v", r), nil)
			} else {
				mcpErr = sshpool.NewInternalError("an internal error occurred", nil)
			}
			result = nil
		}
	}()

	switch req.Method {
	case "initialize":
		return d.handleInitialize(), nil
	case "tools/list":
		return d.handleToolsList(), nil
	case "tools/call":
		return d.handleToolsCall(req.Params)
	default:
		return nil, sshpool.NewMethodNotFound(req.Method)
	}
}

func (d *Dispatcher) handleInitialize() any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": serverName, "version": serverVersion},
	}
}

func (d *Dispatcher) handleToolsList() any {
	tools := make([]map[string]any, 0, len(catalogue))
	for _, schema := range catalogue {
		tools = append(tools, map[string]any{
			"name":        schema.Name,
			"description": schema.Description,
			"inputSchema": schema.JSONSchema(),
		})
	}
	return map[string]any{"tools": tools}
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (d *Dispatcher) handleToolsCall(raw json.RawMessage) (any, *sshpool.Error) {
	var params toolCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, sshpool.NewInvalidParams("tools/call params must include name and arguments", nil)
	}
	if params.Name == "" {
		return nil, sshpool.NewInvalidParams("tools/call requires a tool name", nil)
	}

	schema, known := catalogue[params.Name]
	if !known {
		return nil, sshpool.NewMethodNotFound(params.Name)
	}

	handler, registered := d.handlers[params.Name]
	if !registered {
		return nil, sshpool.NewInternalError("no handler registered for tool "+params.Name, nil)
	}

	args, validationErr := schema.Validate(params.Arguments)
	if validationErr != nil {
		return nil, validationErr
	}

	toolResult, toolErr := handler(args)
	if toolErr != nil {
		if toolErr.Kind != sshpool.KindToolError {
			// Wrap non-tool-specific failures (connection, timeout, ...)
			// into a ToolError envelope carrying the tool name, matching
			// the reference server's uniform failure shape for callers.
			return nil, sshpool.NewToolError(params.Name, toolErr.Message, map[string]any{"underlying": toolErr.Kind.String(), "detail": toolErr.Data})
		}
		return nil, toolErr
	}

	envelope := map[string]any{
		"success":  true,
		"data":     toolResult,
		"metadata": map[string]any{"tool": params.Name},
	}
	payload, marshalErr := json.MarshalIndent(envelope, "", "  ")
	if marshalErr != nil {
		return nil, sshpool.NewInternalError("failed to encode tool result", nil)
	}

	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(payload)},
		},
	}, nil
}

func successResponse(id any, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id any, err *sshpool.Error) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &wireError{
			Code:    int(err.Kind),
			Message: err.Message,
			Data:    err.Data,
		},
	}
}

func mustMarshal(resp Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		// This can only happen if a handler returns a value json cannot
		// encode, which is a programming error, not a runtime one.
		data, _ = json.Marshal(Response{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error:   &wireError{Code: int(sshpool.KindInternalError), Message: "failed to encode response"},
		})
	}
	return data
}
