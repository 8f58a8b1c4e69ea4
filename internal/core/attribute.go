package core

import (
	"strconv"

	"tilecore/pkg/domain"
)

// attribute is a named column of values, one slot per case, in the dataset's
// case order. Missing values are empty strings, never absent, so every
// (case, attribute) pair resolves to a displayable value. All access is
// mediated by the owning DataSet, which holds the lock.
type attribute struct {
	id     string
	name   string
	values []string
}

func newAttribute(id, name string, caseCount int) *attribute {
	return &attribute{id: id, name: name, values: make([]string, caseCount)}
}

func attributeFromSnapshot(snap domain.AttributeSnapshot) *attribute {
	values := make([]string, len(snap.Values))
	copy(values, snap.Values)
	return &attribute{id: snap.ID, name: snap.Name, values: values}
}

func (a *attribute) snapshot() domain.AttributeSnapshot {
	values := make([]string, len(a.values))
	copy(values, a.values)
	return domain.AttributeSnapshot{ID: a.id, Name: a.name, Values: values}
}

func (a *attribute) value(index int) (string, bool) {
	if index < 0 || index >= len(a.values) {
		return "", false
	}
	return a.values[index], true
}

func (a *attribute) setValue(index int, value string) bool {
	if index < 0 || index >= len(a.values) {
		return false
	}
	a.values[index] = value
	return true
}

// insertValue splices value in before beforeIndex; out-of-range indices
// append.
func (a *attribute) insertValue(value string, beforeIndex int) {
	if beforeIndex < 0 || beforeIndex >= len(a.values) {
		a.values = append(a.values, value)
		return
	}
	a.values = append(a.values, "")
	copy(a.values[beforeIndex+1:], a.values[beforeIndex:])
	a.values[beforeIndex] = value
}

func (a *attribute) removeValue(index int) {
	if index < 0 || index >= len(a.values) {
		return
	}
	a.values = append(a.values[:index], a.values[index+1:]...)
}

// numericValue parses the slot as a float. The second result is false for
// empty or non-numeric values.
func (a *attribute) numericValue(index int) (float64, bool) {
	v, ok := a.value(index)
	if !ok || v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
