package mcp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/ubl-proto/ubl/internal/api/middleware"
	"github.com/ubl-proto/ubl/internal/app"
	"github.com/ubl-proto/ubl/internal/metrics"
	"github.com/ubl-proto/ubl/internal/models"
	"github.com/ubl-proto/ubl/internal/room"
	"github.com/ubl-proto/ubl/internal/store"
	"github.com/ubl-proto/ubl/internal/ublerr"
)

const protocolVersion = "2025-03-26"

// Server dispatches JSON-RPC 2.0 requests to the coordinators.
type Server struct {
	app *app.App
	log zerolog.Logger
}

// NewServer creates a tool server.
func NewServer(a *app.App, log zerolog.Logger) *Server {
	return &Server{app: a, log: log}
}

// originAllowed checks the Origin header against the configured allowlist.
// Requests without an Origin header (non-browser clients) are always allowed.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.app.Cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.app.Cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// HandlePost serves POST /mcp.
func (s *Server) HandlePost(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		writeResponse(w, http.StatusForbidden, NewErrorResponse(nil, -32003, "origin not allowed", nil))
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, http.StatusOK, NewErrorResponse(nil, ParseError, "parse error", nil))
		return
	}
	if req.JSONRPC != "2.0" {
		writeResponse(w, http.StatusOK, NewErrorResponse(req.ID, InvalidRequest, "jsonrpc must be \"2.0\"", nil))
		return
	}

	identity, _ := middleware.GetIdentity(r.Context())
	requestID := middleware.GetRequestID(r.Context())

	var resp *Response
	switch req.Method {
	case "initialize":
		resp = s.initialize(r, req)
	case "tools/list":
		resp = NewResponse(req.ID, map[string]any{"tools": toolDescriptors})
	case "tools/call":
		resp = s.toolsCall(r, req, identity, requestID)
	default:
		resp = NewErrorResponse(req.ID, MethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
	writeResponse(w, http.StatusOK, resp)
}

// HandleStream serves GET /mcp: a keepalive-only SSE stream that holds the
// session open.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		writeResponse(w, http.StatusForbidden, NewErrorResponse(nil, -32003, "origin not allowed", nil))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(s.app.Cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ":keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) initialize(r *http.Request, req Request) *Response {
	var params struct {
		ClientInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, InvalidParams, "invalid initialize params", nil)
		}
	}

	sessionID := models.NewSessionID()
	if err := s.app.Store.InsertSession(r.Context(), sessionID, params.ClientInfo.Name, params.ClientInfo.Version); err != nil {
		s.log.Warn().Err(err).Msg("session persist failed")
	}

	return NewResponse(req.ID, InitializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      ServerInfo{Name: "ubl", Version: "0.1.0"},
		Capabilities:    map[string]any{"tools": true, "streaming": true},
		SessionID:       sessionID,
	})
}

func (s *Server) toolsCall(r *http.Request, req Request, identity models.Identity, requestID string) *Response {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
		SessionID string          `json:"session_id,omitempty"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return NewErrorResponse(req.ID, InvalidParams, "tools/call requires name and arguments", nil)
	}
	if !knownTool(params.Name) {
		return NewErrorResponse(req.ID, MethodNotFound, fmt.Sprintf("tool %q not found", params.Name), nil)
	}

	result, err := s.callTool(r, params.Name, params.Arguments, identity, requestID)
	outcome := "ok"
	if err != nil {
		outcome = string(err.Kind)
	}
	metrics.ToolCalls.WithLabelValues(params.Name, outcome).Inc()
	s.audit(r, identity, params.Name, params.Arguments)

	if err != nil {
		return NewErrorResponse(req.ID, err.RPCCode(), err.Message, err.Data)
	}
	return NewResponse(req.ID, CallResult{Content: []ContentItem{{Type: "json", JSON: result}}})
}

// callTool resolves the tenant and dispatches to the coordinator behind the
// named tool. Results match the corresponding REST success bodies.
func (s *Server) callTool(r *http.Request, name string, args json.RawMessage, identity models.Identity, requestID string) (any, *ublerr.Error) {
	ctx := r.Context()
	tenantID := identity.TenantID()

	tc, err := s.app.Tenant(tenantID)
	if err != nil {
		return nil, ublerr.Wrap(err)
	}
	if _, _, err := tc.EnsureTenantAndMember(ctx, identity, requestID); err != nil {
		return nil, ublerr.Wrap(err)
	}

	switch name {
	case ToolListRooms:
		return map[string]any{"rooms": tc.ListRooms(), "next_cursor": nil}, nil

	case ToolSend:
		var p struct {
			RoomID string `json:"room_id"`
			room.SendInput
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, ublerr.New(ublerr.ValidationError, "invalid arguments")
		}
		if !models.ValidRoomID(p.RoomID) {
			return nil, ublerr.New(ublerr.InvalidRoomID, "%q is not a valid room id", p.RoomID)
		}
		rm, err := s.app.Room(tenantID, p.RoomID)
		if err != nil {
			return nil, ublerr.Wrap(err)
		}
		if p.Type == "" {
			p.Type = models.MessageTypeText
		}
		msg, _, serr := rm.SendMessage(ctx, p.SendInput, identity, requestID)
		if serr != nil {
			return nil, ublerr.Wrap(serr)
		}
		return map[string]any{"message": msg}, nil

	case ToolHistory:
		var p struct {
			RoomID string `json:"room_id"`
			Cursor int64  `json:"cursor"`
			Limit  int    `json:"limit"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, ublerr.New(ublerr.ValidationError, "invalid arguments")
		}
		if !models.ValidRoomID(p.RoomID) {
			return nil, ublerr.New(ublerr.InvalidRoomID, "%q is not a valid room id", p.RoomID)
		}
		rm, err := s.app.Room(tenantID, p.RoomID)
		if err != nil {
			return nil, ublerr.Wrap(err)
		}
		messages, next, herr := rm.GetHistory(p.Cursor, p.Limit)
		if herr != nil {
			return nil, ublerr.Wrap(herr)
		}
		var nextCursor any
		if next > 0 {
			nextCursor = next
		}
		return map[string]any{"messages": messages, "next_cursor": nextCursor}, nil

	case ToolDocumentCreate:
		var p struct {
			WorkspaceID string `json:"workspace_id"`
			Title       string `json:"title"`
			Content     string `json:"content"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, ublerr.New(ublerr.ValidationError, "invalid arguments")
		}
		ws, err := s.app.Workspace(tenantID, p.WorkspaceID)
		if err != nil {
			return nil, ublerr.Wrap(err)
		}
		doc, derr := ws.CreateDocument(ctx, p.Title, p.Content, identity, requestID)
		if derr != nil {
			return nil, ublerr.Wrap(derr)
		}
		return map[string]any{"document": doc}, nil

	case ToolDocumentGet:
		var p struct {
			WorkspaceID string `json:"workspace_id"`
			DocumentID  string `json:"document_id"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, ublerr.New(ublerr.ValidationError, "invalid arguments")
		}
		ws, err := s.app.Workspace(tenantID, p.WorkspaceID)
		if err != nil {
			return nil, ublerr.Wrap(err)
		}
		doc, derr := ws.GetDocument(ctx, p.DocumentID, identity, requestID)
		if derr != nil {
			return nil, ublerr.Wrap(derr)
		}
		return map[string]any{"document": doc}, nil

	case ToolDocumentSearch:
		var p struct {
			WorkspaceID string `json:"workspace_id"`
			Query       string `json:"query"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, ublerr.New(ublerr.ValidationError, "invalid arguments")
		}
		ws, err := s.app.Workspace(tenantID, p.WorkspaceID)
		if err != nil {
			return nil, ublerr.Wrap(err)
		}
		docs, serr := ws.SearchDocuments(ctx, p.Query, identity, requestID)
		if serr != nil {
			return nil, ublerr.Wrap(serr)
		}
		return map[string]any{"documents": docs}, nil

	case ToolLLMComplete:
		var p struct {
			WorkspaceID string `json:"workspace_id"`
			Prompt      string `json:"prompt"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, ublerr.New(ublerr.ValidationError, "invalid arguments")
		}
		ws, err := s.app.Workspace(tenantID, p.WorkspaceID)
		if err != nil {
			return nil, ublerr.Wrap(err)
		}
		result, cerr := ws.Complete(ctx, p.Prompt, identity, requestID)
		if cerr != nil {
			return nil, ublerr.Wrap(cerr)
		}
		return map[string]any{"completion": result.Completion, "usage": result.Usage}, nil

	default:
		return nil, ublerr.New(ublerr.NotFound, "tool %q not found", name)
	}
}

func knownTool(name string) bool {
	for _, d := range toolDescriptors {
		if d.Name == name {
			return true
		}
	}
	return false
}

func (s *Server) audit(r *http.Request, identity models.Identity, tool string, args json.RawMessage) {
	detail, _ := json.Marshal(map[string]any{"tool": tool, "arguments": args})
	entry := &store.AuditEntry{
		ID:        ulid.Make().String(),
		TenantID:  identity.TenantID(),
		UserID:    identity.UserID,
		Action:    "tools/call:" + tool,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.app.Store.InsertAudit(r.Context(), entry); err != nil {
		s.log.Warn().Err(err).Str("tool", tool).Msg("audit write failed")
	}
}

func writeResponse(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
