package store

import (
	"context"
	"sync"

	"github.com/ubl-proto/ubl/internal/models"
)

// MemoryStore keeps everything in process memory. Used by tests and
// ephemeral runs; it implements the same idempotency rules as the SQL stores.
type MemoryStore struct {
	mu         sync.Mutex
	states     map[string][]byte
	tenants    map[string]models.Tenant
	agreements map[string]models.Agreement
	rooms      map[string]models.RoomSummary // tenant_id|room_id
	documents  map[string]models.Document
	messages   map[string]models.Message
	spans      map[string]map[int64]SpanRow // tenant_id|shard → seq → row
	sessions   map[string]bool
	audit      []AuditEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:     make(map[string][]byte),
		tenants:    make(map[string]models.Tenant),
		agreements: make(map[string]models.Agreement),
		rooms:      make(map[string]models.RoomSummary),
		documents:  make(map[string]models.Document),
		messages:   make(map[string]models.Message),
		spans:      make(map[string]map[int64]SpanRow),
		sessions:   make(map[string]bool),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) LoadState(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.states[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (s *MemoryStore) SaveState(_ context.Context, key string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw := make([]byte, len(state))
	copy(raw, state)
	s.states[key] = raw
	return nil
}

func (s *MemoryStore) UpsertTenant(_ context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.TenantID] = *t
	return nil
}

// GetTenant is a test accessor over the tenant mirror.
func (s *MemoryStore) GetTenant(id string) (models.Tenant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	return t, ok
}

func (s *MemoryStore) UpsertAgreement(_ context.Context, a *models.Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.agreements[a.ID]; ok {
		existing.Metadata = a.Metadata
		s.agreements[a.ID] = existing
		return nil
	}
	s.agreements[a.ID] = *a
	return nil
}

func (s *MemoryStore) GetAgreement(_ context.Context, id string) (*models.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agreements[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *MemoryStore) UpsertRoomSummary(_ context.Context, tenantID string, rs models.RoomSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantID + "|" + rs.RoomID
	if _, ok := s.rooms[key]; !ok {
		s.rooms[key] = rs
	}
	return nil
}

// GetRoomSummary is a test accessor over the room mirror.
func (s *MemoryStore) GetRoomSummary(tenantID, roomID string) (models.RoomSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rooms[tenantID+"|"+roomID]
	return rs, ok
}

func (s *MemoryStore) UpsertDocument(_ context.Context, d *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[d.DocumentID]; !ok {
		s.documents[d.DocumentID] = *d
	}
	return nil
}

func (s *MemoryStore) MirrorMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.MsgID]; !ok {
		s.messages[m.MsgID] = *m
	}
	return nil
}

func (s *MemoryStore) InsertSpan(_ context.Context, span *SpanRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := span.TenantID + "|" + span.Shard
	shard, ok := s.spans[key]
	if !ok {
		shard = make(map[int64]SpanRow)
		s.spans[key] = shard
	}
	if _, exists := shard[span.Seq]; !exists {
		shard[span.Seq] = *span
	}
	return nil
}

func (s *MemoryStore) GetSpan(_ context.Context, tenantID, shard string, seq int64) (*SpanRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.spans[tenantID+"|"+shard]
	if !ok {
		return nil, nil
	}
	row, ok := rows[seq]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (s *MemoryStore) ListSpans(_ context.Context, tenantID, shard string, beforeSeq int64, limit int) ([]SpanRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.spans[tenantID+"|"+shard]
	if !ok {
		return nil, nil
	}
	var maxSeq int64
	for seq := range rows {
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	start := maxSeq
	if beforeSeq > 0 && beforeSeq-1 < start {
		start = beforeSeq - 1
	}
	var out []SpanRow
	for seq := start; seq >= 1 && len(out) < limit; seq-- {
		if row, ok := rows[seq]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// SpanCount is a test accessor: the number of mirrored spans in a shard.
func (s *MemoryStore) SpanCount(tenantID, shard string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spans[tenantID+"|"+shard])
}

func (s *MemoryStore) InsertSession(_ context.Context, sessionID, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = true
	return nil
}

func (s *MemoryStore) InsertAudit(_ context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, *entry)
	return nil
}

// AuditCount is a test accessor over the audit log.
func (s *MemoryStore) AuditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audit)
}
