// Package memory provides the in-memory document store used by tests and by
// hosts that keep persistence external.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"tilecore/pkg/domain"
)

var _ domain.DocumentStore = (*Store)(nil)

// Store keeps document snapshots in a process-local map. Snapshots are
// cloned on the way in and out so callers can never alias stored state.
type Store struct {
	mu   sync.RWMutex
	docs map[string]domain.DocumentSnapshot
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{docs: make(map[string]domain.DocumentSnapshot)}
}

// SaveDocument validates and stores the snapshot, replacing any previous
// version of the same document.
func (s *Store) SaveDocument(_ context.Context, snapshot domain.DocumentSnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	clone, err := cloneSnapshot(snapshot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[snapshot.ID] = clone
	s.mu.Unlock()
	return nil
}

// LoadDocument returns the stored snapshot for id. The second result is
// false when the document does not exist.
func (s *Store) LoadDocument(_ context.Context, id string) (domain.DocumentSnapshot, bool, error) {
	s.mu.RLock()
	snapshot, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return domain.DocumentSnapshot{}, false, nil
	}
	clone, err := cloneSnapshot(snapshot)
	if err != nil {
		return domain.DocumentSnapshot{}, false, err
	}
	return clone, true, nil
}

// DeleteDocument removes the document, reporting whether it existed.
func (s *Store) DeleteDocument(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return false, nil
	}
	delete(s.docs, id)
	return true, nil
}

// ListDocumentIDs returns all stored document ids in sorted order.
func (s *Store) ListDocumentIDs(context.Context) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

// Close releases nothing; it exists to satisfy the store contract.
func (s *Store) Close() error {
	return nil
}

func cloneSnapshot(snapshot domain.DocumentSnapshot) (domain.DocumentSnapshot, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return domain.DocumentSnapshot{}, fmt.Errorf("clone document: %w", err)
	}
	var clone domain.DocumentSnapshot
	if err := json.Unmarshal(payload, &clone); err != nil {
		return domain.DocumentSnapshot{}, fmt.Errorf("clone document: %w", err)
	}
	return clone, nil
}
