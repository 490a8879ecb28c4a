// Package room implements the per-room coordinator: the ordered timeline,
// idempotent writes, and live fan-out. A Coordinator is the sole writer for
// one (tenant, room) pair.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ubl-proto/ubl/internal/canon"
	"github.com/ubl-proto/ubl/internal/ledger"
	"github.com/ubl-proto/ubl/internal/metrics"
	"github.com/ubl-proto/ubl/internal/models"
	"github.com/ubl-proto/ubl/internal/runtime"
	"github.com/ubl-proto/ubl/internal/store"
	"github.com/ubl-proto/ubl/internal/ublerr"
)

// Limits bound the coordinator's windows.
type Limits struct {
	HotLimit        int
	SeenLimit       int
	MaxMessageBytes int
}

// DefaultLimits match the documented resource bounds.
var DefaultLimits = Limits{HotLimit: 500, SeenLimit: 2000, MaxMessageBytes: 8000}

type seenRecord struct {
	Key   string           `json:"key"`
	Entry models.SeenEntry `json:"entry"`
}

// state is the durable blob for a room.
type state struct {
	Config *models.RoomConfig `json:"config,omitempty"`
	Seq    int64              `json:"seq"`
	Hot    []models.Message   `json:"hot"`
	Seen   []seenRecord       `json:"seen"`
}

// SendInput is a message-send request after transport decoding.
type SendInput struct {
	Type            string             `json:"type"`
	Body            models.MessageBody `json:"body"`
	ReplyTo         string             `json:"reply_to,omitempty"`
	ClientRequestID string             `json:"client_request_id,omitempty"`
}

// Coordinator is the single writer for one room.
type Coordinator struct {
	mu       sync.Mutex
	tenantID string
	roomID   string
	key      string
	store    store.Store
	log      zerolog.Logger
	ledger   *ledger.Coordinator
	limits   Limits

	cfg       *models.RoomConfig
	seq       int64
	hot       []models.Message
	seen      map[string]models.SeenEntry
	seenOrder []string
	subs      map[*Subscriber]struct{}
}

// New loads or initializes the coordinator for a room. The room stays
// uninitialized until Init runs.
func New(ctx context.Context, st store.Store, log zerolog.Logger, ledg *ledger.Coordinator, tenantID, roomID string, limits Limits) (*Coordinator, error) {
	if limits.HotLimit <= 0 {
		limits.HotLimit = DefaultLimits.HotLimit
	}
	if limits.SeenLimit <= 0 {
		limits.SeenLimit = DefaultLimits.SeenLimit
	}
	if limits.MaxMessageBytes <= 0 {
		limits.MaxMessageBytes = DefaultLimits.MaxMessageBytes
	}
	c := &Coordinator{
		tenantID: tenantID,
		roomID:   roomID,
		key:      runtime.RoomKey(tenantID, roomID),
		store:    st,
		log:      log.With().Str("tenant", tenantID).Str("room", roomID).Logger(),
		ledger:   ledg,
		limits:   limits,
		seen:     make(map[string]models.SeenEntry),
		subs:     make(map[*Subscriber]struct{}),
	}
	raw, err := st.LoadState(ctx, c.key)
	if err != nil {
		return nil, ublerr.Wrap(err)
	}
	if raw != nil {
		var s state
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, ublerr.Wrap(err)
		}
		c.cfg = s.Config
		c.seq = s.Seq
		c.hot = s.Hot
		for _, rec := range s.Seen {
			c.seen[rec.Key] = rec.Entry
			c.seenOrder = append(c.seenOrder, rec.Key)
		}
	}
	return c, nil
}

// Initialized reports whether the room has a config.
func (c *Coordinator) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg != nil
}

// Config returns a copy of the room config, or nil before init.
func (c *Coordinator) Config() *models.RoomConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil {
		return nil
	}
	cfg := *c.cfg
	return &cfg
}

// Init transitions the room from uninitialized to initialized: it writes the
// config, persists the governance agreement, and posts the "Room created"
// system message (which produces the room's first receipt and broadcast).
// Calling Init on an initialized room is a no-op.
func (c *Coordinator) Init(ctx context.Context, name, mode string, creator models.Identity, requestID string) error {
	c.mu.Lock()
	if c.cfg != nil {
		c.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	c.cfg = &models.RoomConfig{
		TenantID:  c.tenantID,
		RoomID:    c.roomID,
		Name:      name,
		Mode:      mode,
		CreatedAt: now,
		Members: map[string]models.Member{
			creator.UserID: {Role: models.RoleOwner, Email: creator.Email, JoinedAt: now},
		},
		Policy: models.RoomPolicy{
			MaxMessageBytes: c.limits.MaxMessageBytes,
			RetentionDays:   30,
		},
		HotLimit: c.limits.HotLimit,
	}
	if err := c.persistLocked(ctx); err != nil {
		c.cfg = nil
		c.mu.Unlock()
		return err
	}

	agreement := &models.Agreement{
		ID:        models.RoomAgreementID(c.roomID),
		Type:      models.AgreementRoomGovernance,
		TenantID:  c.tenantID,
		CreatedAt: now,
		CreatedBy: creator.UserID,
		Metadata:  map[string]any{"room_id": c.roomID, "mode": mode},
	}
	if err := c.store.UpsertAgreement(ctx, agreement); err != nil {
		c.log.Error().Err(err).Msg("room governance agreement persist failed")
	}

	c.broadcastLocked(Event{Name: EventRoomCreated, Data: CreatedData{RoomID: c.roomID, Name: name}})
	c.mu.Unlock()

	_, _, err := c.SendMessage(ctx, SendInput{
		Type: models.MessageTypeSystem,
		Body: models.MessageBody{Text: fmt.Sprintf("Room created: %s", name)},
	}, creator, requestID)
	return err
}

// assertMemberLocked auto-adds the caller as member when absent and persists
// the config. Frictionless: it never rejects.
func (c *Coordinator) assertMemberLocked(ctx context.Context, identity models.Identity) error {
	if c.cfg == nil {
		return ublerr.New(ublerr.NotFound, "room %s is not initialized", c.roomID)
	}
	if _, ok := c.cfg.Members[identity.UserID]; ok {
		return nil
	}
	c.cfg.Members[identity.UserID] = models.Member{
		Role:     models.RoleMember,
		Email:    identity.Email,
		JoinedAt: time.Now().UTC(),
	}
	if err := c.persistLocked(ctx); err != nil {
		delete(c.cfg.Members, identity.UserID)
		return err
	}
	c.broadcastLocked(Event{Name: EventMemberJoined, Data: MemberJoinedData{
		RoomID: c.roomID,
		UserID: identity.UserID,
		Role:   models.RoleMember,
	}})
	return nil
}

// SendMessage runs the write pipeline: idempotency check, validation,
// room_seq assignment, action+effect ledger append, hot-window store, seen
// record, and broadcast. The returned bool reports an idempotent replay.
func (c *Coordinator) SendMessage(ctx context.Context, in SendInput, identity models.Identity, requestID string) (*models.Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.assertMemberLocked(ctx, identity); err != nil {
		return nil, false, err
	}

	clientRequestID := in.ClientRequestID
	if clientRequestID == "" {
		clientRequestID = requestID
	}
	if entry, ok := c.seen[clientRequestID]; ok {
		if msg := c.hotBySeqLocked(entry.RoomSeq); msg != nil {
			return msg, true, nil
		}
		return nil, false, ublerr.New(ublerr.IdempotencyEvicted,
			"original response for %s left the hot window", clientRequestID)
	}

	if err := c.validate(in); err != nil {
		return nil, false, err
	}

	// Assign room_seq and persist it before touching the ledger, so a crash
	// cannot reuse the ordinal.
	c.seq++
	roomSeq := c.seq
	if err := c.persistLocked(ctx); err != nil {
		c.seq--
		return nil, false, err
	}

	msgID := models.NewMessageID()
	sentAt := time.Now().UTC().Format(time.RFC3339Nano)
	bodyHash, err := canon.BodyHash(in.Body)
	if err != nil {
		return nil, false, err
	}

	action := models.Atom{
		Kind:     models.AtomKindAction,
		TenantID: c.tenantID,
		When:     sentAt,
		Who:      &models.Who{UserID: identity.UserID, Email: identity.Email, IsService: identity.IsService},
		Did:      models.DidMessengerSend,
		This: map[string]any{
			"room_id":   c.roomID,
			"msg_id":    msgID,
			"room_seq":  roomSeq,
			"body_hash": bodyHash,
		},
		AgreementID: models.RoomAgreementID(c.roomID),
		Status:      models.StatusExecuted,
		Trace:       &models.Trace{RequestID: requestID},
	}
	receipt, err := c.ledger.AppendAtom(ctx, action)
	if err != nil {
		return nil, false, err
	}

	effect := models.Atom{
		Kind:         models.AtomKindEffect,
		TenantID:     c.tenantID,
		When:         time.Now().UTC().Format(time.RFC3339Nano),
		RefActionCID: receipt.CID,
		Outcome:      models.OutcomeOK,
		Effects:      []models.EffectOp{{Op: "room.append", RoomID: c.roomID, RoomSeq: roomSeq}},
		Pointers:     &models.Pointers{MsgID: msgID},
	}
	if _, err := c.ledger.AppendAtom(ctx, effect); err != nil {
		// The action is committed; the message keeps its action receipt.
		metrics.EffectAppendFailures.Inc()
		c.log.Error().Err(err).Str("msg_id", msgID).Msg("effect append failed after action commit")
	}

	msg := models.Message{
		MsgID:       msgID,
		TenantID:    c.tenantID,
		RoomID:      c.roomID,
		RoomSeq:     roomSeq,
		SenderID:    identity.UserID,
		SentAt:      sentAt,
		Type:        in.Type,
		Body:        in.Body,
		ReplyTo:     in.ReplyTo,
		Attachments: []string{},
		Receipt:     receipt,
	}

	c.hot = append(c.hot, msg)
	for len(c.hot) > c.limits.HotLimit {
		c.hot = c.hot[1:]
	}
	c.seen[clientRequestID] = models.SeenEntry{MsgID: msgID, RoomSeq: roomSeq, ReceiptSeq: receipt.Seq}
	c.seenOrder = append(c.seenOrder, clientRequestID)
	for len(c.seenOrder) > c.limits.SeenLimit {
		delete(c.seen, c.seenOrder[0])
		c.seenOrder = c.seenOrder[1:]
	}
	if err := c.persistLocked(ctx); err != nil {
		c.log.Error().Err(err).Str("msg_id", msgID).Msg("room state persist failed after append")
	}
	if err := c.store.MirrorMessage(ctx, &msg); err != nil {
		c.log.Warn().Err(err).Str("msg_id", msgID).Msg("message index mirror failed")
	}

	metrics.MessagesSent.WithLabelValues(in.Type).Inc()
	c.broadcastLocked(Event{ID: roomSeq, Name: EventMessageCreated, Data: MessageData{Message: &msg}})

	return &msg, false, nil
}

func (c *Coordinator) validate(in SendInput) error {
	if in.Type != models.MessageTypeText && in.Type != models.MessageTypeSystem {
		return ublerr.New(ublerr.ValidationError, "type must be text or system")
	}
	raw, err := json.Marshal(in.Body)
	if err != nil {
		return ublerr.New(ublerr.ValidationError, "body is not serializable")
	}
	if max := c.cfg.Policy.MaxMessageBytes; len(raw) > max {
		return ublerr.New(ublerr.MessageTooLarge, "body exceeds %d bytes", max).
			WithData("max_message_bytes", max).
			WithData("size", len(raw))
	}
	if in.ReplyTo != "" && !models.ValidMessageID(in.ReplyTo) {
		return ublerr.New(ublerr.ValidationError, "reply_to is not a message id")
	}
	return nil
}

func (c *Coordinator) hotBySeqLocked(roomSeq int64) *models.Message {
	if len(c.hot) == 0 {
		return nil
	}
	first := c.hot[0].RoomSeq
	idx := roomSeq - first
	if idx < 0 || idx >= int64(len(c.hot)) {
		return nil
	}
	msg := c.hot[idx]
	return &msg
}

// GetHistory pages the hot window. cursor=0 returns the newest messages;
// otherwise messages with room_seq < cursor. Pages are ascending by room_seq.
// nextCursor=0 means no older messages remain in the hot window.
func (c *Coordinator) GetHistory(cursor int64, limit int) ([]models.Message, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg == nil {
		return nil, 0, ublerr.New(ublerr.NotFound, "room %s is not initialized", c.roomID)
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	// Find the slice of hot messages below the cursor.
	end := len(c.hot)
	if cursor > 0 {
		end = 0
		for i, m := range c.hot {
			if m.RoomSeq >= cursor {
				break
			}
			end = i + 1
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	page := make([]models.Message, end-start)
	copy(page, c.hot[start:end])

	var next int64
	if start > 0 && len(page) > 0 {
		next = page[0].RoomSeq
	}
	return page, next, nil
}

// Subscribe attaches a live stream. When fromSeq >= 0 the coordinator
// replays hot messages with room_seq > fromSeq, preceded by a room.gap event
// if the requested range starts below the hot window.
func (c *Coordinator) Subscribe(fromSeq int64) (*Subscriber, []Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg == nil {
		return nil, nil, ublerr.New(ublerr.NotFound, "room %s is not initialized", c.roomID)
	}

	var backlog []Event
	if fromSeq >= 0 && len(c.hot) > 0 {
		hotMin := c.hot[0].RoomSeq
		if hotMin > fromSeq+1 {
			backlog = append(backlog, Event{Name: EventRoomGap, Data: GapData{
				FromSeq:       fromSeq + 1,
				AvailableFrom: hotMin,
			}})
		}
		for i := range c.hot {
			if c.hot[i].RoomSeq > fromSeq {
				msg := c.hot[i]
				backlog = append(backlog, Event{ID: msg.RoomSeq, Name: EventMessageCreated, Data: MessageData{Message: &msg}})
			}
		}
	}

	sub := &Subscriber{ch: make(chan Event, subscriberBuffer)}
	c.subs[sub] = struct{}{}
	metrics.SSESubscribers.Inc()
	return sub, backlog, nil
}

// Unsubscribe detaches a stream and closes its channel.
func (c *Coordinator) Unsubscribe(sub *Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked(sub)
}

func (c *Coordinator) dropLocked(sub *Subscriber) {
	if _, ok := c.subs[sub]; !ok {
		return
	}
	delete(c.subs, sub)
	close(sub.ch)
	metrics.SSESubscribers.Dec()
}

// broadcastLocked delivers an event to every subscriber without blocking the
// coordinator: a subscriber with a full buffer is dropped.
func (c *Coordinator) broadcastLocked(ev Event) {
	for sub := range c.subs {
		select {
		case sub.ch <- ev:
		default:
			c.log.Warn().Msg("dropping slow subscriber")
			c.dropLocked(sub)
		}
	}
}

func (c *Coordinator) persistLocked(ctx context.Context) error {
	s := state{
		Config: c.cfg,
		Seq:    c.seq,
		Hot:    c.hot,
	}
	for _, k := range c.seenOrder {
		s.Seen = append(s.Seen, seenRecord{Key: k, Entry: c.seen[k]})
	}
	raw, err := json.Marshal(&s)
	if err != nil {
		return ublerr.Wrap(err)
	}
	if err := c.store.SaveState(ctx, c.key, raw); err != nil {
		return ublerr.New(ublerr.Internal, "room persist failed")
	}
	return nil
}
