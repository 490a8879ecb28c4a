package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ubl-proto/ubl/internal/models"
)

// PostgresStore is the multi-node persistence backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS coordinator_state (
		key TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		record JSONB NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS agreements (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		created_by TEXT NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS rooms (
		tenant_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		name TEXT NOT NULL,
		mode TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
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
		room_seq BIGINT NOT NULL,
		sender_id TEXT NOT NULL,
		record JSONB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS spans (
		tenant_id TEXT NOT NULL,
		shard TEXT NOT NULL,
		seq BIGINT NOT NULL,
		id TEXT NOT NULL,
		user_id TEXT,
		kind TEXT NOT NULL,
		hash TEXT NOT NULL,
		size INTEGER NOT NULL,
		metadata JSONB NOT NULL,
		PRIMARY KEY (tenant_id, shard, seq)
	);
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		client_name TEXT,
		client_version TEXT,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT,
		user_id TEXT,
		action TEXT NOT NULL,
		detail JSONB,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS policy_cache (
		key TEXT PRIMARY KEY,
		decision JSONB NOT NULL,
		expires_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_spans_hash ON spans(tenant_id, shard, hash);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(tenant_id, room_id, room_seq);
	CREATE INDEX IF NOT EXISTS idx_agreements_tenant ON agreements(tenant_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// LoadState retrieves a coordinator state blob, nil when absent.
func (s *PostgresStore) LoadState(ctx context.Context, key string) ([]byte, error) {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM coordinator_state WHERE key = $1`, key).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return []byte(state), nil
}

// SaveState replaces a coordinator state blob atomically.
func (s *PostgresStore) SaveState(ctx context.Context, key string, state []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO coordinator_state (key, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()
	`, key, string(state))
	return err
}

// UpsertTenant mirrors a tenant record.
func (s *PostgresStore) UpsertTenant(ctx context.Context, t *models.Tenant) error {
	record, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tenants (id, type, record, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record
	`, t.TenantID, t.Type, record, t.CreatedAt)
	return err
}

// UpsertAgreement persists an agreement; metadata may be refreshed.
func (s *PostgresStore) UpsertAgreement(ctx context.Context, a *models.Agreement) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO agreements (id, type, tenant_id, created_by, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET metadata = EXCLUDED.metadata
	`, a.ID, a.Type, a.TenantID, a.CreatedBy, metadata, a.CreatedAt)
	return err
}

// GetAgreement retrieves an agreement by id, nil when absent.
func (s *PostgresStore) GetAgreement(ctx context.Context, id string) (*models.Agreement, error) {
	a := &models.Agreement{}
	var metadata []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, type, tenant_id, created_by, metadata, created_at
		FROM agreements WHERE id = $1
	`, id).Scan(&a.ID, &a.Type, &a.TenantID, &a.CreatedBy, &metadata, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// UpsertRoomSummary mirrors a room summary into the index.
func (s *PostgresStore) UpsertRoomSummary(ctx context.Context, tenantID string, rs models.RoomSummary) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (tenant_id, room_id, name, mode, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, room_id) DO NOTHING
	`, tenantID, rs.RoomID, rs.Name, rs.Mode, rs.CreatedAt)
	return err
}

// UpsertDocument mirrors a workspace document.
func (s *PostgresStore) UpsertDocument(ctx context.Context, d *models.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (document_id, workspace_id, tenant_id, title, content, content_hash, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (document_id) DO NOTHING
	`, d.DocumentID, d.WorkspaceID, d.TenantID, d.Title, d.Content, d.ContentHash, d.CreatedBy, d.CreatedAt)
	return err
}

// MirrorMessage mirrors a message into the index (best-effort sink).
func (s *PostgresStore) MirrorMessage(ctx context.Context, m *models.Message) error {
	record, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (msg_id, tenant_id, room_id, room_seq, sender_id, record)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (msg_id) DO NOTHING
	`, m.MsgID, m.TenantID, m.RoomID, m.RoomSeq, m.SenderID, record)
	return err
}

// InsertSpan mirrors one atom; duplicate inserts are ignored.
func (s *PostgresStore) InsertSpan(ctx context.Context, span *SpanRow) error {
	metadata, err := json.Marshal(span.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO spans (tenant_id, shard, seq, id, user_id, kind, hash, size, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, shard, seq) DO NOTHING
	`, span.TenantID, span.Shard, span.Seq, span.ID, span.UserID, span.Kind, span.Hash, span.Size, metadata)
	return err
}

// GetSpan retrieves a mirrored atom by sequence number, nil when absent.
func (s *PostgresStore) GetSpan(ctx context.Context, tenantID, shard string, seq int64) (*SpanRow, error) {
	row := &SpanRow{}
	var metadata []byte
	var userID *string
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, shard, seq, id, user_id, kind, hash, size, metadata
		FROM spans WHERE tenant_id = $1 AND shard = $2 AND seq = $3
	`, tenantID, shard, seq).Scan(
		&row.TenantID, &row.Shard, &row.Seq, &row.ID, &userID, &row.Kind, &row.Hash, &row.Size, &metadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if userID != nil {
		row.UserID = *userID
	}
	if err := json.Unmarshal(metadata, &row.Metadata); err != nil {
		return nil, err
	}
	return row, nil
}

// ListSpans retrieves mirrored atoms in descending seq order, strictly below
// beforeSeq (0 means from the top).
func (s *PostgresStore) ListSpans(ctx context.Context, tenantID, shard string, beforeSeq int64, limit int) ([]SpanRow, error) {
	query := `
		SELECT tenant_id, shard, seq, id, user_id, kind, hash, size, metadata
		FROM spans WHERE tenant_id = $1 AND shard = $2`
	args := []any{tenantID, shard}
	if beforeSeq > 0 {
		query += ` AND seq < $3 ORDER BY seq DESC LIMIT $4`
		args = append(args, beforeSeq, limit)
	} else {
		query += ` ORDER BY seq DESC LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SpanRow
	for rows.Next() {
		var row SpanRow
		var metadata []byte
		var userID *string
		if err := rows.Scan(&row.TenantID, &row.Shard, &row.Seq, &row.ID, &userID, &row.Kind, &row.Hash, &row.Size, &metadata); err != nil {
			return nil, err
		}
		if userID != nil {
			row.UserID = *userID
		}
		if err := json.Unmarshal(metadata, &row.Metadata); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// InsertSession records a tool-server session.
func (s *PostgresStore) InsertSession(ctx context.Context, sessionID, clientName, clientVersion string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, client_name, client_version, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, sessionID, clientName, clientVersion, time.Now().UTC())
	return err
}

// InsertAudit appends one audit row.
func (s *PostgresStore) InsertAudit(ctx context.Context, entry *AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, tenant_id, user_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.TenantID, entry.UserID, entry.Action, entry.Detail, entry.CreatedAt)
	return err
}
