package core

import (
	"sort"

	"tilecore/pkg/domain"
)

// AddListener registers fn under key to be invoked synchronously after every
// mutation, ephemeral or not. Listeners re-pull derived state; the change
// identifies what moved, and non-ephemeral changes additionally carry the
// before/after state the history sink needs for replay. Registering an
// existing key replaces the previous listener.
func (d *DataSet) AddListener(key string, fn func(domain.Change)) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.listeners[key]; !exists {
		d.listenerKeys = append(d.listenerKeys, key)
		sort.Strings(d.listenerKeys)
	}
	d.listeners[key] = fn
}

// RemoveListener deregisters the listener under key. Unknown keys are
// silent no-ops.
func (d *DataSet) RemoveListener(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.listeners[key]; !exists {
		return
	}
	delete(d.listeners, key)
	for i, k := range d.listenerKeys {
		if k == key {
			d.listenerKeys = append(d.listenerKeys[:i], d.listenerKeys[i+1:]...)
			break
		}
	}
}

// SetHistorySink wires the default (undoable) write path into the host
// document's history system. Ephemeral changes never reach the sink.
func (d *DataSet) SetHistorySink(sink domain.HistorySink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = sink
}

// WithoutUndo runs fn with the ephemeral write path active: every change
// recorded during fn is broadcast to observers but excluded from history.
// Cursor and selection writes use this consistently, or undo/redo would
// visibly fight the user by snapping cursors back. Calls nest.
func (d *DataSet) WithoutUndo(fn func()) {
	d.mu.Lock()
	d.ephemeralDepth++
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.ephemeralDepth--
		d.mu.Unlock()
	}()
	fn()
}

// changeLocked builds a change record tagged with the active write path.
// Callers hold d.mu.
func (d *DataSet) changeLocked(entity domain.EntityType, action domain.Action, entityID string) domain.Change {
	return domain.Change{
		Entity:    entity,
		Action:    action,
		EntityID:  entityID,
		DataSetID: d.id,
		Ephemeral: d.ephemeralDepth > 0 || action == domain.ActionSelect,
	}
}

// withState attaches replayable before/after state to a change. Ephemeral
// changes never reach history and stay payload-free.
func withState(change domain.Change, before, after any) domain.Change {
	if change.Ephemeral {
		return change
	}
	payload, err := domain.NewChangePayloadFromValue(domain.ChangeState{Before: before, After: after})
	if err != nil {
		return change
	}
	change.Payload = payload
	return change
}

// emit fans changes out to listeners and the history sink. It runs after the
// mutation lock is released so listeners can safely re-read the dataset.
func (d *DataSet) emit(changes ...domain.Change) {
	if len(changes) == 0 {
		return
	}
	d.mu.RLock()
	fns := make([]func(domain.Change), 0, len(d.listenerKeys))
	for _, key := range d.listenerKeys {
		fns = append(fns, d.listeners[key])
	}
	sink := d.history
	d.mu.RUnlock()
	for _, change := range changes {
		for _, fn := range fns {
			fn(change)
		}
		if sink != nil && !change.Ephemeral {
			sink.Record(change)
		}
	}
}
