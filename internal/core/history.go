package core

import (
	"sync"

	"tilecore/pkg/domain"
)

// HistoryRecorder collects the undoable change stream for the host
// document's history system. It implements domain.HistorySink: each recorded
// change becomes its own entry unless an operation scope is open, in which
// case changes accumulate into one entry so the host can undo them as a
// unit (merge, link, multi-case edits).
//
// The recorder is a boundary, not an undo engine: replaying entries is the
// host document's job.
type HistoryRecorder struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
	open    *domain.HistoryEntry
}

// NewHistoryRecorder constructs an empty recorder.
func NewHistoryRecorder() *HistoryRecorder {
	return &HistoryRecorder{}
}

// Record appends a change on the undoable write path. Ephemeral changes are
// dropped; callers on the ephemeral path should not reach the sink at all,
// but the recorder guards regardless.
func (r *HistoryRecorder) Record(change domain.Change) {
	if change.Ephemeral {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open != nil {
		r.open.Changes = append(r.open.Changes, change)
		return
	}
	r.entries = append(r.entries, domain.HistoryEntry{
		Operation: string(change.Action),
		Changes:   []domain.Change{change},
	})
}

// BeginEntry opens an operation scope: subsequent changes accumulate into a
// single entry labeled op until EndEntry.
func (r *HistoryRecorder) BeginEntry(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = &domain.HistoryEntry{Operation: op}
}

// EndEntry closes the operation scope, committing the entry if it recorded
// any changes. Scopes that saw no changes leave no entry: a no-op operation
// must not pollute history.
func (r *HistoryRecorder) EndEntry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open != nil && len(r.open.Changes) > 0 {
		r.entries = append(r.entries, *r.open)
	}
	r.open = nil
}

// Entries returns a copy of the recorded entries.
func (r *HistoryRecorder) Entries() []domain.HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]domain.HistoryEntry, len(r.entries))
	copy(entries, r.entries)
	return entries
}

// Len returns the number of committed entries.
func (r *HistoryRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
