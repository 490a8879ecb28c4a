package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubl-proto/ubl/internal/api/middleware"
	"github.com/ubl-proto/ubl/internal/app"
	"github.com/ubl-proto/ubl/internal/config"
	"github.com/ubl-proto/ubl/internal/models"
	"github.com/ubl-proto/ubl/internal/store"
)

var alice = models.Identity{UserID: "u:alice", Email: "alice@ex.com", EmailDomain: "ex.com"}

func testConfig() *config.Config {
	return &config.Config{
		Env:               "test",
		MaxMessageBytes:   8000,
		HotMessagesLimit:  500,
		HotAtomsLimit:     2000,
		SeenLimit:         2000,
		DedupLimit:        5000,
		KeepaliveInterval: 15 * time.Second,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	a := app.New(st, cfg, zerolog.Nop())
	return NewServer(a, zerolog.Nop()), st
}

func rpc(t *testing.T, s *Server, method string, params any) *Response {
	t.Helper()
	return rpcWithOrigin(t, s, method, params, "")
}

func rpcWithOrigin(t *testing.T, s *Server, method string, params any, origin string) *Response {
	t.Helper()
	body := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(raw))
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	ctx := context.WithValue(req.Context(), middleware.IdentityContextKey, alice)
	ctx = context.WithValue(ctx, middleware.RequestIDContextKey, "req:rpc-test")
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	s.HandlePost(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp
}

func callResult(t *testing.T, resp *Response) map[string]any {
	t.Helper()
	require.Nil(t, resp.Error, "rpc error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result CallResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "json", result.Content[0].Type)
	out, ok := result.Content[0].JSON.(map[string]any)
	require.True(t, ok)
	return out
}

func TestInitialize(t *testing.T) {
	s, st := newTestServer(t, testConfig())

	resp := rpc(t, s, "initialize", map[string]any{
		"clientInfo": map[string]any{"name": "test-client", "version": "1.0"},
	})
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result InitializeResult
	require.NoError(t, json.Unmarshal(raw, &result))

	assert.Equal(t, "ubl", result.ServerInfo.Name)
	assert.Regexp(t, `^s:`, result.SessionID)
	assert.Equal(t, true, result.Capabilities["tools"])
	_ = st
}

func TestToolsListExposesSevenTools(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	resp := rpc(t, s, "tools/list", nil)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Tools, 7)

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		ToolListRooms, ToolSend, ToolHistory,
		ToolDocumentCreate, ToolDocumentGet, ToolDocumentSearch, ToolLLMComplete,
	}, names)
}

func TestUnknownMethod(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	resp := rpc(t, s, "resources/list", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)
}

func TestUnknownTool(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	resp := rpc(t, s, "tools/call", map[string]any{
		"name":      "messenger.delete",
		"arguments": map[string]any{},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)
}

func TestListRoomsBootstrapsTenant(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	out := callResult(t, rpc(t, s, "tools/call", map[string]any{
		"name":      ToolListRooms,
		"arguments": map[string]any{},
	}))
	rooms, ok := out["rooms"].([]any)
	require.True(t, ok)
	require.Len(t, rooms, 1)
	room := rooms[0].(map[string]any)
	assert.Equal(t, "r:general", room["room_id"])
}

func TestSendParityWithRest(t *testing.T) {
	s, st := newTestServer(t, testConfig())

	out := callResult(t, rpc(t, s, "tools/call", map[string]any{
		"name": ToolSend,
		"arguments": map[string]any{
			"room_id": "r:general",
			"type":    "text",
			"body":    map[string]any{"text": "via mcp"},
		},
	}))
	msg, ok := out["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "via mcp", msg["body"].(map[string]any)["text"])

	receipt, ok := msg["receipt"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, receipt["cid"])
	assert.NotEmpty(t, receipt["head_hash"])

	// The action atom's trace carries the request id
	seq := int64(receipt["seq"].(float64))
	row, err := st.GetSpan(context.Background(), "t:ex.com", "0", seq)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.NotNil(t, row.Metadata.Atom.Trace)
	assert.Equal(t, "req:rpc-test", row.Metadata.Atom.Trace.RequestID)

	// The tool call was audited
	assert.Greater(t, st.AuditCount(), 0)
}

func TestHistoryTool(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	callResult(t, rpc(t, s, "tools/call", map[string]any{
		"name": ToolSend,
		"arguments": map[string]any{
			"room_id": "r:general",
			"body":    map[string]any{"text": "one"},
		},
	}))

	out := callResult(t, rpc(t, s, "tools/call", map[string]any{
		"name":      ToolHistory,
		"arguments": map[string]any{"room_id": "r:general"},
	}))
	messages, ok := out["messages"].([]any)
	require.True(t, ok)
	// bootstrap system message + the send
	assert.Len(t, messages, 2)
}

func TestInvalidRoomID(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	resp := rpc(t, s, "tools/call", map[string]any{
		"name": ToolSend,
		"arguments": map[string]any{
			"room_id": "general",
			"body":    map[string]any{"text": "x"},
		},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

func TestDocumentTools(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	out := callResult(t, rpc(t, s, "tools/call", map[string]any{
		"name": ToolDocumentCreate,
		"arguments": map[string]any{
			"workspace_id": "w:research",
			"title":        "Notes",
			"content":      "the ledger design",
		},
	}))
	doc := out["document"].(map[string]any)
	docID := doc["document_id"].(string)
	require.NotEmpty(t, docID)

	out = callResult(t, rpc(t, s, "tools/call", map[string]any{
		"name": ToolDocumentGet,
		"arguments": map[string]any{
			"workspace_id": "w:research",
			"document_id":  docID,
		},
	}))
	assert.Equal(t, docID, out["document"].(map[string]any)["document_id"])

	out = callResult(t, rpc(t, s, "tools/call", map[string]any{
		"name": ToolDocumentSearch,
		"arguments": map[string]any{
			"workspace_id": "w:research",
			"query":        "LEDGER",
		},
	}))
	assert.Len(t, out["documents"].([]any), 1)

	out = callResult(t, rpc(t, s, "tools/call", map[string]any{
		"name": ToolLLMComplete,
		"arguments": map[string]any{
			"workspace_id": "w:research",
			"prompt":       "summarize the notes",
		},
	}))
	usage := out["usage"].(map[string]any)
	assert.Equal(t, float64(3), usage["prompt_tokens"])
	assert.Equal(t, float64(23), usage["total_tokens"])
}

func TestOriginAllowlist(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://app.ubl.dev"}
	s, _ := newTestServer(t, cfg)

	resp := rpcWithOrigin(t, s, "tools/list", nil, "https://evil.example")
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32003, resp.Error.Code)

	resp = rpcWithOrigin(t, s, "tools/list", nil, "https://app.ubl.dev")
	assert.Nil(t, resp.Error)
}

func TestRejectsWrongJSONRPCVersion(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	raw := []byte(`{"jsonrpc":"1.0","id":1,"method":"tools/list"}`)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	s.HandlePost(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidRequest, resp.Error.Code)
}
