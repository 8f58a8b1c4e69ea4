// Package sqlite provides a document store persisting snapshots to a single
// SQLite table as JSON blobs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"tilecore/pkg/domain"
)

var _ domain.DocumentStore = (*Store)(nil)

// Store persists one row per document. Each save rewrites the document's
// full snapshot; there is no incremental change log at this layer.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the SQLite database at path and
// ensures the documents table exists.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "tilecore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
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
	if _, err := s.db.ExecContext(ctx, `INSERT INTO documents (id, payload) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`, snapshot.ID, payload); err != nil {
		return fmt.Errorf("upsert document %s: %w", snapshot.ID, err)
	}
	return nil
}

// LoadDocument returns the stored snapshot for id, reporting absence through
// the second result.
func (s *Store) LoadDocument(ctx context.Context, id string) (domain.DocumentSnapshot, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM documents WHERE id = ?`, id).Scan(&payload)
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
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
