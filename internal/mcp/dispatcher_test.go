package mcp

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sshmcp/sshmcp/internal/sshpool"
)

func newTestDispatcher() *Dispatcher {
	pool := sshpool.NewPool(5, nil)
	return NewDispatcher(pool, nil, false)
}

func decodeResponse(t *testing.T, raw []byte) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestHandleMalformedJSON(t *testing.T) {
	d := newTestDispatcher()
	resp := decodeResponse(t, d.Handle([]byte("{not json")))

	if resp.Error == nil {
		t.Fatal("expected an error response for malformed JSON")
	}
	if resp.Error.Code != int(sshpool.KindParseError) {
		t.Errorf("expected ParseError code %d, got %d", sshpool.KindParseError, resp.Error.Code)
	}
	if resp.ID != nil {
		t.Errorf("expected id=null for a parse error, got %v", resp.ID)
	}
}

func TestHandleInvalidRequestShape(t *testing.T) {
	d := newTestDispatcher()
	resp := decodeResponse(t, d.Handle([]byte(`{"jsonrpc":"1.0","method":"initialize","id":1}`)))

	if resp.Error == nil {
		t.Fatal("expected an error for a non-2.0 envelope")
	}
	if resp.Error.Code != int(sshpool.KindInvalidRequest) {
		t.Errorf("expected InvalidRequest code %d, got %d", sshpool.KindInvalidRequest, resp.Error.Code)
	}
}

func TestHandleInitialize(t *testing.T) {
	d := newTestDispatcher()
	resp := decodeResponse(t, d.Handle([]byte(`{"jsonrpc":"2.0","method":"initialize","id":1}`)))

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected result to be an object, got %T", resp.Result)
	}
	if result["protocolVersion"] != protocolVersion {
		t.Errorf("expected protocolVersion=%s, got %v", protocolVersion, result["protocolVersion"])
	}
	idFloat, ok := resp.ID.(float64)
	if !ok || idFloat != 1 {
		t.Errorf("expected id to echo back as 1, got %v", resp.ID)
	}
}

func TestHandleToolsList(t *testing.T) {
	d := newTestDispatcher()
	resp := decodeResponse(t, d.Handle([]byte(`{"jsonrpc":"2.0","method":"tools/list","id":"abc"}`)))

	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected result to be an object, got %T", resp.Result)
	}
	tools, ok := result["tools"].([]any)
	if !ok {
		t.Fatalf("expected tools to be a list, got %T", result["tools"])
	}
	if len(tools) != len(catalogue) {
		t.Errorf("expected %d tools, got %d", len(catalogue), len(tools))
	}
	if resp.ID != "abc" {
		t.Errorf("expected id to echo back as \"abc\", got %v", resp.ID)
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	d := newTestDispatcher()
	resp := decodeResponse(t, d.Handle([]byte(`{"jsonrpc":"2.0","method":"bogus/method","id":1}`)))

	if resp.Error == nil || resp.Error.Code != int(sshpool.KindMethodNotFound) {
		t.Fatalf("expected MethodNotFound, got %+v", resp.Error)
	}
}

func TestHandleToolsCallUnknownTool(t *testing.T) {
	d := newTestDispatcher()
	resp := decodeResponse(t, d.Handle([]byte(`{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{"name":"ssh_teleport","arguments":{}}}`)))

	if resp.Error == nil || resp.Error.Code != int(sshpool.KindMethodNotFound) {
		t.Fatalf("expected MethodNotFound for an unknown tool, got %+v", resp.Error)
	}
}

func TestHandleToolsCallMissingRequiredParam(t *testing.T) {
	d := newTestDispatcher()
	resp := decodeResponse(t, d.Handle([]byte(`{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{"name":"ssh_connect","arguments":{}}}`)))

	if resp.Error == nil || resp.Error.Code != int(sshpool.KindToolError) {
		t.Fatalf("expected ToolError for a missing required parameter, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "Required parameter 'hostname'") {
		t.Errorf("expected message to name the missing parameter, got %q", resp.Error.Message)
	}
}

func TestHandleToolsCallUnknownHandleWrapsAsToolError(t *testing.T) {
	d := newTestDispatcher()
	resp := decodeResponse(t, d.Handle([]byte(`{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{"name":"ssh_execute","arguments":{"connection_id":"missing","command":"ls"}}}`)))

	if resp.Error == nil {
		t.Fatal("expected an error for an unknown connection handle")
	}
	if resp.Error.Code != int(sshpool.KindToolError) {
		t.Errorf("expected ToolError code %d, got %d", sshpool.KindToolError, resp.Error.Code)
	}
}

func TestHandleToolsCallMissingUsername(t *testing.T) {
	d := newTestDispatcher()
	resp := decodeResponse(t, d.Handle([]byte(`{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{"name":"ssh_connect","arguments":{"hostname":"h"}}}`)))

	if resp.Error == nil || resp.Error.Code != int(sshpool.KindToolError) {
		t.Fatalf("expected ToolError code -32000, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "Required parameter 'username'") {
		t.Errorf("expected message to name username, got %q", resp.Error.Message)
	}
}

func TestHandleToolsCallPortOutOfRange(t *testing.T) {
	d := newTestDispatcher()
	resp := decodeResponse(t, d.Handle([]byte(`{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{"name":"ssh_connect","arguments":{"hostname":"h","username":"u","port":70000}}}`)))

	if resp.Error == nil || resp.Error.Code != int(sshpool.KindToolError) {
		t.Fatalf("expected ToolError code -32000, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "must be <= 65535") {
		t.Errorf("expected message to mention the bound, got %q", resp.Error.Message)
	}
}

func TestHandleMalformedJSONHasNullID(t *testing.T) {
	d := newTestDispatcher()
	resp := decodeResponse(t, d.Handle([]byte(`{"invalid": json}`)))

	if resp.ID != nil {
		t.Errorf("expected id=null for unparsable JSON, got %v", resp.ID)
	}
	if resp.Error == nil || resp.Error.Code != int(sshpool.KindParseError) {
		t.Fatalf("expected ParseError, got %+v", resp.Error)
	}
}

func TestHandleToolsCallRedactsPasswordOnAuthFailure(t *testing.T) {
	d := newTestDispatcher()
	raw := d.Handle([]byte(`{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{"name":"ssh_connect","arguments":{"hostname":"127.0.0.1","username":"u","auth_method":"key","key_path":"/nonexistent/id_rsa","password":"s3cret"}}}`))
	resp := decodeResponse(t, raw)

	if resp.Error == nil {
		t.Fatal("expected an authentication error for a missing key file")
	}
	if strings.Contains(string(raw), "s3cret") {
		t.Fatalf("raw response leaked a secret: %s", raw)
	}
}

func TestHandleSSHListConnectionsEmptyPool(t *testing.T) {
	d := newTestDispatcher()
	resp := decodeResponse(t, d.Handle([]byte(`{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{"name":"ssh_list_connections","arguments":{}}}`)))

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected result object, got %T", resp.Result)
	}
	content, ok := result["content"].([]any)
	if !ok || len(content) != 1 {
		t.Fatalf("expected a single content item, got %v", result["content"])
	}
}
