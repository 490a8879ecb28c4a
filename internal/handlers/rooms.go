package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ubl-proto/ubl/internal/models"
	"github.com/ubl-proto/ubl/internal/room"
	"github.com/ubl-proto/ubl/internal/ublerr"
)

// ListRooms returns the caller's room index.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	identity, requestID := h.caller(r)

	tc, err := h.app.Tenant(identity.TenantID())
	if err != nil {
		h.Error(w, r, err)
		return
	}
	if _, _, err := tc.EnsureTenantAndMember(r.Context(), identity, requestID); err != nil {
		h.Error(w, r, err)
		return
	}

	h.JSON(w, r, http.StatusOK, map[string]any{
		"rooms": tc.ListRooms(),
	})
}

// CreateRoom creates a room from a human name, idempotently on the slug.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	identity, requestID := h.caller(r)

	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	tc, err := h.app.Tenant(identity.TenantID())
	if err != nil {
		h.Error(w, r, err)
		return
	}
	if _, _, err := tc.EnsureTenantAndMember(r.Context(), identity, requestID); err != nil {
		h.Error(w, r, err)
		return
	}
	summary, err := tc.CreateRoom(r.Context(), req.Name, identity, requestID)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	h.JSON(w, r, http.StatusCreated, map[string]any{
		"room_id": summary.RoomID,
	})
}

// roomFor resolves the room coordinator named in the URL, bootstrapping the
// caller's tenant first.
func (h *Handler) roomFor(r *http.Request) (*room.Coordinator, models.Identity, string, error) {
	identity, requestID := h.caller(r)

	roomID := chi.URLParam(r, "id")
	if !models.ValidRoomID(roomID) {
		return nil, identity, requestID, ublerr.New(ublerr.InvalidRoomID, "%q is not a valid room id", roomID)
	}

	tc, err := h.app.Tenant(identity.TenantID())
	if err != nil {
		return nil, identity, requestID, err
	}
	if _, _, err := tc.EnsureTenantAndMember(r.Context(), identity, requestID); err != nil {
		return nil, identity, requestID, err
	}

	rm, err := h.app.Room(identity.TenantID(), roomID)
	if err != nil {
		return nil, identity, requestID, err
	}
	return rm, identity, requestID, nil
}

// History pages the room's hot window.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	rm, _, _, err := h.roomFor(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	cursor := parseInt64(r.URL.Query().Get("cursor"), 0)
	limit := int(parseInt64(r.URL.Query().Get("limit"), 0))

	messages, next, err := rm.GetHistory(cursor, limit)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	var nextCursor any
	if next > 0 {
		nextCursor = next
	}
	h.JSON(w, r, http.StatusOK, map[string]any{
		"messages":    messages,
		"next_cursor": nextCursor,
	})
}

// PostMessage appends a message to the room timeline. An idempotent replay
// returns the original message with status 200 instead of 201.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	rm, identity, requestID, err := h.roomFor(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	var in room.SendInput
	if err := decode(r, &in); err != nil {
		h.Error(w, r, err)
		return
	}
	if in.Type == "" {
		in.Type = models.MessageTypeText
	}

	msg, replayed, err := rm.SendMessage(r.Context(), in, identity, requestID)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	h.JSON(w, r, status, map[string]any{
		"message": msg,
	})
}

func parseInt64(raw string, fallback int64) int64 {
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
