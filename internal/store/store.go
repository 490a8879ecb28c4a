package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ubl-proto/ubl/internal/models"
)

// SpanMetadata is the JSON payload mirrored with every atom row.
type SpanMetadata struct {
	Seq      int64       `json:"seq"`
	HeadHash string      `json:"head_hash"`
	Atom     models.Atom `json:"atom"`
}

// SpanRow is one mirrored ledger atom in the index store.
type SpanRow struct {
	ID       string       // "span:<seq>"
	TenantID string
	Shard    string
	Seq      int64
	UserID   string
	Kind     string
	Hash     string // cid
	Size     int
	Metadata SpanMetadata
}

// AuditEntry is one row in the audit log.
type AuditEntry struct {
	ID        string
	TenantID  string
	UserID    string
	Action    string
	Detail    json.RawMessage
	CreatedAt time.Time
}

// Store is the persistence boundary shared by all coordinators. It combines
// the keyed single-writer state store (the source of truth for coordinator
// state) with the tabular index store (a secondary, append-only sink; never
// read to serve hot-window requests). Both SQLiteStore and PostgresStore
// implement this interface.
type Store interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Keyed coordinator state. LoadState returns nil when the key is absent;
	// SaveState replaces the whole blob in one transaction.
	LoadState(ctx context.Context, key string) ([]byte, error)
	SaveState(ctx context.Context, key string, state []byte) error

	// Index sinks. All writes are idempotent: spans insert-or-ignore,
	// everything else upserts.
	UpsertTenant(ctx context.Context, t *models.Tenant) error
	UpsertAgreement(ctx context.Context, a *models.Agreement) error
	GetAgreement(ctx context.Context, id string) (*models.Agreement, error)
	UpsertRoomSummary(ctx context.Context, tenantID string, rs models.RoomSummary) error
	UpsertDocument(ctx context.Context, d *models.Document) error
	MirrorMessage(ctx context.Context, m *models.Message) error

	InsertSpan(ctx context.Context, span *SpanRow) error
	GetSpan(ctx context.Context, tenantID, shard string, seq int64) (*SpanRow, error)
	ListSpans(ctx context.Context, tenantID, shard string, beforeSeq int64, limit int) ([]SpanRow, error)

	InsertSession(ctx context.Context, sessionID, clientName, clientVersion string) error
	InsertAudit(ctx context.Context, entry *AuditEntry) error
}
