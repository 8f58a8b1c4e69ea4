package domain

import "encoding/json"

// Action indicates the type of modification performed by a change.
type Action string

// Change actions enumerate the mutations captured for observers and history.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	// ActionDelete indicates an entity was deleted.
	ActionDelete Action = "delete"
	// ActionReorder indicates case or attribute order changed without
	// touching values.
	ActionReorder Action = "reorder"
	// ActionSelect indicates transient selection state changed.
	ActionSelect Action = "select"
	// ActionLink indicates a tile was attached to a shared model.
	ActionLink Action = "link"
	// ActionUnlink indicates a tile was detached from a shared model.
	ActionUnlink Action = "unlink"
	// ActionMerge indicates one dataset was merged into another.
	ActionMerge Action = "merge"
)

// Change describes a single mutation applied to a dataset or the shared-model
// graph. Ephemeral changes are broadcast to observers but excluded from the
// host document's undo history.
type Change struct {
	Entity    EntityType
	Action    Action
	EntityID  string
	DataSetID string
	Ephemeral bool
	Payload   ChangePayload
}

// HistoryEntry groups the changes recorded by one logical operation so the
// host history system can undo them as a unit.
type HistoryEntry struct {
	Operation string
	Changes   []Change
}

// HistorySink receives non-ephemeral changes on the default (undoable) write
// path. Cursor, selection, and other view-state writes never reach a sink.
type HistorySink interface {
	Record(change Change)
}

// ChangePayload wraps a JSON snapshot of a change's before/after state.
// Callers should unmarshal the raw bytes into typed structures as needed.
type ChangePayload struct {
	defined bool
	raw     json.RawMessage
}

// NewChangePayload builds a payload wrapper from raw JSON. The bytes are
// cloned to prevent callers from mutating shared state. Passing a nil slice
// yields a defined but empty payload; use UndefinedChangePayload for "not set".
func NewChangePayload(raw json.RawMessage) ChangePayload {
	payload := ChangePayload{defined: true}
	if raw != nil {
		payload.raw = cloneRawMessage(raw)
	}
	return payload
}

// NewChangePayloadFromValue marshals a typed value into a ChangePayload.
func NewChangePayloadFromValue[T any](value T) (ChangePayload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return ChangePayload{}, err
	}
	return NewChangePayload(raw), nil
}

// UndefinedChangePayload returns an uninitialized payload wrapper.
func UndefinedChangePayload() ChangePayload {
	return ChangePayload{}
}

// ChangeState pairs the before and after forms of the entity a change
// touched; it is the payload shape carried by every non-ephemeral change. A
// host undo system restores Before to revert an entry and reapplies After to
// redo it. Nil Before means the entity was created; nil After means it was
// deleted.
type ChangeState struct {
	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`
}

// Defined reports whether the payload has been initialized.
func (p ChangePayload) Defined() bool {
	return p.defined
}

// IsEmpty reports whether the payload contains no bytes.
func (p ChangePayload) IsEmpty() bool {
	if !p.defined {
		return true
	}
	return len(p.raw) == 0
}

// Raw returns a cloned copy of the underlying JSON bytes. Nil is returned
// when the payload is undefined or empty.
func (p ChangePayload) Raw() json.RawMessage {
	if !p.defined || len(p.raw) == 0 {
		return nil
	}
	return cloneRawMessage(p.raw)
}

func cloneRawMessage(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	cloned := make(json.RawMessage, len(raw))
	copy(cloned, raw)
	return cloned
}
