// Package postgres provides a document store persisting snapshots to a
// Postgres table as JSONB payloads.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"tilecore/pkg/domain"
)

var _ domain.DocumentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/tilecore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists one JSONB row per document.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falling
// back to a localhost default) and ensures the documents table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for integration testing hooks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveDocument validates and upserts the snapshot.
func (s *Store) SaveDocument(ctx context.Context, snapshot domain.DocumentSnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", snapshot.ID, err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO documents (id, payload) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`, snapshot.ID, payload); err != nil {
		return fmt.Errorf("upsert document %s: %w", snapshot.ID, err)
	}
	return nil
}

// LoadDocument returns the stored snapshot for id, reporting absence through
// the second result.
func (s *Store) LoadDocument(ctx context.Context, id string) (domain.DocumentSnapshot, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM documents WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DocumentSnapshot{}, false, nil
	}
	if err != nil {
		return domain.DocumentSnapshot{}, false, fmt.Errorf("select document %s: %w", id, err)
	}
	var snapshot domain.DocumentSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return domain.DocumentSnapshot{}, false, fmt.Errorf("decode document %s: %w", id, err)
	}
	return snapshot, true, nil
}

// DeleteDocument removes the document, reporting whether it existed.
func (s *Store) DeleteDocument(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", id, err)
	}
	return affected > 0, nil
}

// ListDocumentIDs returns all stored document ids in sorted order.
func (s *Store) ListDocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
