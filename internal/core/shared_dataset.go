package core

import (
	"sync"

	"tilecore/pkg/domain"
	"tilecore/pkg/tileapi"
)

// SharedDataSet associates one dataset with a provider tile and a
// document-wide identity so multiple tiles can reference it. The dataset is
// exclusively owned by the wrapper; the wrapper is shared read/write by
// every linked tile and lives as long as at least one tile references it.
type SharedDataSet struct {
	mu          sync.RWMutex
	id          string
	name        string
	providerID  string
	indexOfType int
	ds          *DataSet
}

var _ tileapi.SharedModel = (*SharedDataSet)(nil)

// NewSharedDataSet wraps a fresh default dataset for the given provider
// tile. An empty id is replaced with a generated one.
func NewSharedDataSet(id, providerID, name string) *SharedDataSet {
	if id == "" {
		id = NewModelID()
	}
	return &SharedDataSet{
		id:          id,
		name:        name,
		providerID:  providerID,
		indexOfType: -1,
		ds:          NewDefaultDataSet(name),
	}
}

// SharedDataSetFromSnapshot rebuilds the wrapper and its dataset from a
// persisted snapshot.
func SharedDataSetFromSnapshot(snap domain.SharedDataSetSnapshot) (*SharedDataSet, error) {
	ds, err := NewDataSetFromSnapshot(snap.DataSet)
	if err != nil {
		return nil, err
	}
	return &SharedDataSet{
		id:          snap.ID,
		name:        snap.Name,
		providerID:  snap.ProviderID,
		indexOfType: snap.IndexOfType,
		ds:          ds,
	}, nil
}

// ModelID returns the document-wide identity.
func (s *SharedDataSet) ModelID() string {
	return s.id
}

// ModelType returns the registered shared model type string.
func (s *SharedDataSet) ModelType() string {
	return domain.SharedDataSetType
}

// Name returns the display name.
func (s *SharedDataSet) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// SetName renames the wrapper and its dataset together.
func (s *SharedDataSet) SetName(name string) {
	s.mu.Lock()
	s.name = name
	ds := s.ds
	s.mu.Unlock()
	ds.SetName(name)
}

// ProviderID returns the id of the tile that owns the data.
func (s *SharedDataSet) ProviderID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.providerID
}

// SetProviderID reassigns ownership, e.g. when the provider tile is
// recreated during document import.
func (s *SharedDataSet) SetProviderID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providerID = id
}

// IndexOfType returns the per-type display index, or -1 before assignment.
func (s *SharedDataSet) IndexOfType() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOfType
}

// SetIndexOfType assigns the per-type display index.
func (s *SharedDataSet) SetIndexOfType(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexOfType = index
}

// DataSet returns the wrapped dataset. Any tile holding the wrapper may call
// its mutating operations directly; consistency comes from the single
// serialized mutation stream, not per-tile locks.
func (s *SharedDataSet) DataSet() *DataSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ds
}

// Snapshot returns the persisted form of the wrapper and its dataset.
func (s *SharedDataSet) Snapshot() domain.SharedDataSetSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SharedDataSetSnapshot{
		ID:          s.id,
		Type:        domain.SharedDataSetType,
		Name:        s.name,
		ProviderID:  s.providerID,
		IndexOfType: s.indexOfType,
		DataSet:     s.ds.Snapshot(),
	}
}
