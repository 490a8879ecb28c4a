package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ubl-proto/ubl/internal/models"
)

// SQLiteStore is the default single-node persistence backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/ubl.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/ubl.db"
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS coordinator_state (
		key TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		record TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS agreements (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		created_by TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		tenant_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		name TEXT NOT NULL,
		mode TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (tenant_id, room_id)
	);

	CREATE TABLE IF NOT EXISTS documents (
		document_id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		msg_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		room_seq INTEGER NOT NULL,
		sender_id TEXT NOT NULL,
		record TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS spans (
		tenant_id TEXT NOT NULL,
		shard TEXT NOT NULL,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		user_id TEXT,
		kind TEXT NOT NULL,
		hash TEXT NOT NULL,
		size INTEGER NOT NULL,
		metadata TEXT NOT NULL,
		PRIMARY KEY (tenant_id, shard, seq)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		client_name TEXT,
		client_version TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT,
		user_id TEXT,
		action TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS policy_cache (
		key TEXT PRIMARY KEY,
		decision TEXT NOT NULL,
		expires_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_spans_hash ON spans(tenant_id, shard, hash);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(tenant_id, room_id, room_seq);
	CREATE INDEX IF NOT EXISTS idx_agreements_tenant ON agreements(tenant_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadState retrieves a coordinator state blob, nil when absent.
func (s *SQLiteStore) LoadState(ctx context.Context, key string) ([]byte, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM coordinator_state WHERE key = ?`, key).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return []byte(state), nil
}

// SaveState replaces a coordinator state blob atomically.
func (s *SQLiteStore) SaveState(ctx context.Context, key string, state []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coordinator_state (key, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET state = excluded.state, updated_at = CURRENT_TIMESTAMP
	`, key, string(state))
	return err
}

// UpsertTenant mirrors a tenant record.
func (s *SQLiteStore) UpsertTenant(ctx context.Context, t *models.Tenant) error {
	record, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, type, record, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET record = excluded.record
	`, t.TenantID, t.Type, string(record), t.CreatedAt)
	return err
}

// UpsertAgreement persists an agreement; metadata may be refreshed, the rest
// is immutable.
func (s *SQLiteStore) UpsertAgreement(ctx context.Context, a *models.Agreement) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agreements (id, type, tenant_id, created_by, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET metadata = excluded.metadata
	`, a.ID, a.Type, a.TenantID, a.CreatedBy, string(metadata), a.CreatedAt)
	return err
}

// GetAgreement retrieves an agreement by id, nil when absent.
func (s *SQLiteStore) GetAgreement(ctx context.Context, id string) (*models.Agreement, error) {
	a := &models.Agreement{}
	var metadata string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, tenant_id, created_by, metadata, created_at
		FROM agreements WHERE id = ?
	`, id).Scan(&a.ID, &a.Type, &a.TenantID, &a.CreatedBy, &metadata, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// UpsertRoomSummary mirrors a room summary into the index.
func (s *SQLiteStore) UpsertRoomSummary(ctx context.Context, tenantID string, rs models.RoomSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (tenant_id, room_id, name, mode, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, room_id) DO NOTHING
	`, tenantID, rs.RoomID, rs.Name, rs.Mode, rs.CreatedAt)
	return err
}

// UpsertDocument mirrors a workspace document.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, d *models.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (document_id, workspace_id, tenant_id, title, content, content_hash, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO NOTHING
	`, d.DocumentID, d.WorkspaceID, d.TenantID, d.Title, d.Content, d.ContentHash, d.CreatedBy, d.CreatedAt)
	return err
}

// MirrorMessage mirrors a message into the index (best-effort sink).
func (s *SQLiteStore) MirrorMessage(ctx context.Context, m *models.Message) error {
	record, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (msg_id, tenant_id, room_id, room_seq, sender_id, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO NOTHING
	`, m.MsgID, m.TenantID, m.RoomID, m.RoomSeq, m.SenderID, string(record))
	return err
}

// InsertSpan mirrors one atom; duplicate inserts are ignored.
func (s *SQLiteStore) InsertSpan(ctx context.Context, span *SpanRow) error {
	metadata, err := json.Marshal(span.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO spans (tenant_id, shard, seq, id, user_id, kind, hash, size, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, shard, seq) DO NOTHING
	`, span.TenantID, span.Shard, span.Seq, span.ID, span.UserID, span.Kind, span.Hash, span.Size, string(metadata))
	return err
}

// GetSpan retrieves a mirrored atom by sequence number, nil when absent.
func (s *SQLiteStore) GetSpan(ctx context.Context, tenantID, shard string, seq int64) (*SpanRow, error) {
	row := &SpanRow{}
	var metadata string
	var userID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, shard, seq, id, user_id, kind, hash, size, metadata
		FROM spans WHERE tenant_id = ? AND shard = ? AND seq = ?
	`, tenantID, shard, seq).Scan(
		&row.TenantID, &row.Shard, &row.Seq, &row.ID, &userID, &row.Kind, &row.Hash, &row.Size, &metadata,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	row.UserID = userID.String
	if err := json.Unmarshal([]byte(metadata), &row.Metadata); err != nil {
		return nil, err
	}
	return row, nil
}

// ListSpans retrieves mirrored atoms in descending seq order, strictly below
// beforeSeq (0 means from the top).
func (s *SQLiteStore) ListSpans(ctx context.Context, tenantID, shard string, beforeSeq int64, limit int) ([]SpanRow, error) {
	query := `
		SELECT tenant_id, shard, seq, id, user_id, kind, hash, size, metadata
		FROM spans WHERE tenant_id = ? AND shard = ?`
	args := []any{tenantID, shard}
	if beforeSeq > 0 {
		query += ` AND seq < ?`
		args = append(args, beforeSeq)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SpanRow
	for rows.Next() {
		var row SpanRow
		var metadata string
		var userID sql.NullString
		if err := rows.Scan(&row.TenantID, &row.Shard, &row.Seq, &row.ID, &userID, &row.Kind, &row.Hash, &row.Size, &metadata); err != nil {
			return nil, err
		}
		row.UserID = userID.String
		if err := json.Unmarshal([]byte(metadata), &row.Metadata); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// InsertSession records a tool-server session.
func (s *SQLiteStore) InsertSession(ctx context.Context, sessionID, clientName, clientVersion string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, client_name, client_version, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sessionID, clientName, clientVersion, time.Now().UTC())
	return err
}

// InsertAudit appends one audit row.
func (s *SQLiteStore) InsertAudit(ctx context.Context, entry *AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, user_id, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, entry.ID, entry.TenantID, entry.UserID, entry.Action, string(entry.Detail), entry.CreatedAt)
	return err
}
