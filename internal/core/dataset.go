package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"tilecore/pkg/domain"
)

// SortDirection selects the order applied by SortByAttribute.
type SortDirection int

const (
	// SortAscending orders smallest first.
	SortAscending SortDirection = iota
	// SortDescending orders largest first.
	SortDescending
)

// DataSet is the in-memory store of attributes, cases, and transient
// selection state shared by every tile linked to it. All mutations are
// synchronous and atomic from the caller's perspective; observers are
// notified before the mutating call returns.
//
// Stale references (ids that no longer exist) are treated as silent no-ops
// throughout: selection/removal races are expected in a reactive UI and must
// not throw. Structural invariant violations, by contrast, panic — they mean
// a caller bypassed the public operations.
type DataSet struct {
	mu           sync.RWMutex
	id           string
	name         string
	attrs        []*attribute
	attrByID     map[string]*attribute
	attrIDByName map[string]string
	caseIDs      []string
	caseIndex    map[string]int

	selectedCases map[string]struct{}
	selectedAttrs map[string]struct{}
	selectedCell  *domain.CellRef

	listeners    map[string]func(domain.Change)
	listenerKeys []string
	history      domain.HistorySink

	ephemeralDepth int
}

// NewDataSet constructs an empty dataset. An empty id is replaced with a
// fresh model id.
func NewDataSet(id, name string) *DataSet {
	if id == "" {
		id = NewModelID()
	}
	return &DataSet{
		id:            id,
		name:          name,
		attrByID:      make(map[string]*attribute),
		attrIDByName:  make(map[string]string),
		caseIndex:     make(map[string]int),
		selectedCases: make(map[string]struct{}),
		selectedAttrs: make(map[string]struct{}),
		listeners:     make(map[string]func(domain.Change)),
	}
}

// NewDefaultDataSet constructs a dataset with one default-labeled attribute
// and one empty case, the minimum content editors tolerate.
func NewDefaultDataSet(name string) *DataSet {
	ds := NewDataSet("", name)
	ds.AddAttribute(domain.DefaultLabel)
	ds.AddCases([]domain.Case{{}}, "")
	return ds
}

// NewDataSetFromSnapshot rebuilds a dataset from its serialized form. The
// snapshot is validated first; an invalid snapshot yields no dataset.
func NewDataSetFromSnapshot(snap domain.DataSetSnapshot) (*DataSet, error) {
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("dataset snapshot: %w", err)
	}
	ds := NewDataSet(snap.ID, snap.Name)
	for _, attrSnap := range snap.Attributes {
		attr := attributeFromSnapshot(attrSnap)
		ds.attrs = append(ds.attrs, attr)
		ds.attrByID[attr.id] = attr
		ds.attrIDByName[attr.name] = attr.id
	}
	for i, c := range snap.Cases {
		ds.caseIDs = append(ds.caseIDs, c.ID)
		ds.caseIndex[c.ID] = i
	}
	return ds, nil
}

// ID returns the dataset's stable identity.
func (d *DataSet) ID() string {
	return d.id
}

// Name returns the display name.
func (d *DataSet) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

// SetName renames the dataset.
func (d *DataSet) SetName(name string) {
	d.mu.Lock()
	if d.name == name {
		d.mu.Unlock()
		return
	}
	prev := d.name
	d.name = name
	change := withState(d.changeLocked(domain.EntityDataSet, domain.ActionUpdate, d.id), prev, name)
	d.mu.Unlock()
	d.emit(change)
}

// AttributeCount returns the number of attributes.
func (d *DataSet) AttributeCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.attrs)
}

// CaseCount returns the number of cases.
func (d *DataSet) CaseCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.caseIDs)
}

// AddAttribute appends a new attribute with an empty value for every
// existing case and returns its id. Name uniqueness is a caller-level
// policy, not a dataset-level constraint: some callers intentionally allow
// duplicate labels.
func (d *DataSet) AddAttribute(name string) string {
	id := NewLocalID()
	d.AddAttributeWithID(id, name, "")
	return id
}

// AddAttributeWithID inserts an attribute with the given id, spliced before
// the attribute beforeID when provided, appended otherwise. Inserting an id
// that already exists is a no-op.
func (d *DataSet) AddAttributeWithID(id, name, beforeID string) {
	d.mu.Lock()
	if _, exists := d.attrByID[id]; exists {
		d.mu.Unlock()
		return
	}
	attr := newAttribute(id, name, len(d.caseIDs))
	index := len(d.attrs)
	if beforeID != "" {
		if i, ok := d.attrIndexLocked(beforeID); ok {
			index = i
		}
	}
	d.attrs = append(d.attrs, nil)
	copy(d.attrs[index+1:], d.attrs[index:])
	d.attrs[index] = attr
	d.attrByID[id] = attr
	d.attrIDByName[name] = id
	d.checkParallelLocked()
	change := withState(d.changeLocked(domain.EntityAttribute, domain.ActionCreate, id), nil, attr.snapshot())
	d.mu.Unlock()
	d.emit(change)
}

// RemoveAttribute deletes the attribute and all its values. The case count
// is unaffected. Unknown ids are silent no-ops. The attribute is also
// removed from any selection it appears in.
func (d *DataSet) RemoveAttribute(id string) {
	d.mu.Lock()
	index, ok := d.attrIndexLocked(id)
	if !ok {
		d.mu.Unlock()
		return
	}
	attr := d.attrs[index]
	removed := attr.snapshot()
	d.attrs = append(d.attrs[:index], d.attrs[index+1:]...)
	delete(d.attrByID, id)
	if d.attrIDByName[attr.name] == id {
		delete(d.attrIDByName, attr.name)
	}
	delete(d.selectedAttrs, id)
	if d.selectedCell != nil && d.selectedCell.AttributeID == id {
		d.selectedCell = nil
	}
	change := withState(d.changeLocked(domain.EntityAttribute, domain.ActionDelete, id), removed, nil)
	d.mu.Unlock()
	d.emit(change)
}

// SetAttributeName renames an attribute. Renaming to the current name is a
// complete no-op: no observers fire and no history is recorded. The rename
// does not cascade to cached labels elsewhere; consumers must re-read.
func (d *DataSet) SetAttributeName(id, name string) {
	d.mu.Lock()
	attr, ok := d.attrByID[id]
	if !ok || attr.name == name {
		d.mu.Unlock()
		return
	}
	prev := attr.name
	if d.attrIDByName[attr.name] == id {
		delete(d.attrIDByName, attr.name)
	}
	attr.name = name
	d.attrIDByName[name] = id
	change := withState(d.changeLocked(domain.EntityAttribute, domain.ActionUpdate, id), prev, name)
	d.mu.Unlock()
	d.emit(change)
}

// MoveAttribute reorders the attribute before beforeID, or to the end when
// beforeID is empty. Values and ids are untouched.
func (d *DataSet) MoveAttribute(id, beforeID string) {
	d.mu.Lock()
	src, ok := d.attrIndexLocked(id)
	if !ok {
		d.mu.Unlock()
		return
	}
	attr := d.attrs[src]
	d.attrs = append(d.attrs[:src], d.attrs[src+1:]...)
	dst := len(d.attrs)
	if beforeID != "" {
		if i, ok := d.attrIndexLocked(beforeID); ok {
			dst = i
		}
	}
	d.attrs = append(d.attrs, nil)
	copy(d.attrs[dst+1:], d.attrs[dst:])
	d.attrs[dst] = attr
	if src == dst {
		d.mu.Unlock()
		return
	}
	change := withState(d.changeLocked(domain.EntityAttribute, domain.ActionReorder, id), src, dst)
	d.mu.Unlock()
	d.emit(change)
}

// AttributeIDs returns attribute ids in column order.
func (d *DataSet) AttributeIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, len(d.attrs))
	for i, attr := range d.attrs {
		ids[i] = attr.id
	}
	return ids
}

// AttributeNames returns attribute names in column order.
func (d *DataSet) AttributeNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.attrs))
	for i, attr := range d.attrs {
		names[i] = attr.name
	}
	return names
}

// AttrName returns the display name of an attribute.
func (d *DataSet) AttrName(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	attr, ok := d.attrByID[id]
	if !ok {
		return "", false
	}
	return attr.name, true
}

// AttrIDFromName resolves an attribute by exact display name. Duplicate
// labels are legal (a caller-level policy) and the name index is
// last-writer-wins: the most recently added or renamed holder owns the
// entry, and older same-named columns are reachable by id or index only.
func (d *DataSet) AttrIDFromName(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.attrIDByName[name]
	return id, ok
}

// HasAttrName reports whether any attribute matches name case-insensitively.
// Callers that enforce unique labels use this before renaming or adding.
func (d *DataSet) HasAttrName(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, attr := range d.attrs {
		if strings.EqualFold(attr.name, name) {
			return true
		}
	}
	return false
}

// AttrIDFromIndex returns the id of the attribute in column position index.
func (d *DataSet) AttrIDFromIndex(index int) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if index < 0 || index >= len(d.attrs) {
		return "", false
	}
	return d.attrs[index].id, true
}

// AddCases inserts cases with values keyed by attribute name. Cases are
// spliced immediately before beforeID when provided, appended otherwise.
// Attributes not mentioned in a value map default to empty string. The ids
// of the inserted cases are returned; cases without an id get a fresh one.
func (d *DataSet) AddCases(cases []domain.Case, beforeID string) []string {
	return d.addCases(cases, beforeID, false)
}

// AddCanonicalCases inserts cases with values keyed by attribute id.
func (d *DataSet) AddCanonicalCases(cases []domain.Case, beforeID string) []string {
	return d.addCases(cases, beforeID, true)
}

func (d *DataSet) addCases(cases []domain.Case, beforeID string, canonical bool) []string {
	d.mu.Lock()
	ids := make([]string, 0, len(cases))
	changes := make([]domain.Change, 0, len(cases))
	for _, c := range cases {
		id := c.ID
		if id == "" {
			id = NewLocalID()
		}
		if _, exists := d.caseIndex[id]; exists {
			continue
		}
		beforeIndex := len(d.caseIDs)
		if beforeID != "" {
			if i, ok := d.caseIndex[beforeID]; ok {
				beforeIndex = i
			}
		}
		for _, attr := range d.attrs {
			key := attr.name
			if canonical {
				key = attr.id
			}
			attr.insertValue(c.Values[key], beforeIndex)
		}
		d.insertCaseLocked(id, beforeIndex)
		ids = append(ids, id)
		inserted, _ := d.caseLocked(id, true)
		changes = append(changes, withState(d.changeLocked(domain.EntityCase, domain.ActionCreate, id), nil, inserted))
	}
	d.checkParallelLocked()
	d.mu.Unlock()
	d.emit(changes...)
	return ids
}

// SetCaseValues applies batched value writes keyed by attribute name.
// Attributes not mentioned in an update are untouched, unlike insertion,
// which defaults missing ones to empty. Unknown case or attribute keys are
// skipped silently.
func (d *DataSet) SetCaseValues(updates []domain.Case) {
	d.setCaseValues(updates, false)
}

// SetCanonicalCaseValues applies batched value writes keyed by attribute id.
func (d *DataSet) SetCanonicalCaseValues(updates []domain.Case) {
	d.setCaseValues(updates, true)
}

func (d *DataSet) setCaseValues(updates []domain.Case, canonical bool) {
	d.mu.Lock()
	changes := make([]domain.Change, 0, len(updates))
	for _, update := range updates {
		index, ok := d.caseIndex[update.ID]
		if !ok {
			continue
		}
		before, _ := d.caseLocked(update.ID, true)
		touched := false
		for key, value := range update.Values {
			attrID := key
			if !canonical {
				id, ok := d.attrIDByName[key]
				if !ok {
					continue
				}
				attrID = id
			}
			attr, ok := d.attrByID[attrID]
			if !ok {
				continue
			}
			if attr.setValue(index, value) {
				touched = true
			}
		}
		if touched {
			after, _ := d.caseLocked(update.ID, true)
			changes = append(changes, withState(d.changeLocked(domain.EntityCase, domain.ActionUpdate, update.ID), before, after))
		}
	}
	d.mu.Unlock()
	d.emit(changes...)
}

// RemoveCases deletes cases by id, removing them from any selection set.
// Unknown ids are silent no-ops.
func (d *DataSet) RemoveCases(ids []string) {
	d.mu.Lock()
	changes := make([]domain.Change, 0, len(ids))
	for _, id := range ids {
		index, ok := d.caseIndex[id]
		if !ok {
			continue
		}
		removed, _ := d.caseLocked(id, true)
		d.caseIDs = append(d.caseIDs[:index], d.caseIDs[index+1:]...)
		delete(d.caseIndex, id)
		for i := index; i < len(d.caseIDs); i++ {
			d.caseIndex[d.caseIDs[i]] = i
		}
		for _, attr := range d.attrs {
			attr.removeValue(index)
		}
		delete(d.selectedCases, id)
		if d.selectedCell != nil && d.selectedCell.CaseID == id {
			d.selectedCell = nil
		}
		changes = append(changes, withState(d.changeLocked(domain.EntityCase, domain.ActionDelete, id), removed, nil))
	}
	d.checkParallelLocked()
	d.mu.Unlock()
	d.emit(changes...)
}

// CaseIDFromIndex returns the id of the case in row position index.
func (d *DataSet) CaseIDFromIndex(index int) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if index < 0 || index >= len(d.caseIDs) {
		return "", false
	}
	return d.caseIDs[index], true
}

// CaseIndexFromID returns the row position of a case.
func (d *DataSet) CaseIndexFromID(id string) (int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	index, ok := d.caseIndex[id]
	return index, ok
}

// NextCaseID returns the id of the case following id in row order.
func (d *DataSet) NextCaseID(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	index, ok := d.caseIndex[id]
	if !ok || index+1 >= len(d.caseIDs) {
		return "", false
	}
	return d.caseIDs[index+1], true
}

// Value returns the value of the (case, attribute) pair.
func (d *DataSet) Value(caseID, attrID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	attr, ok := d.attrByID[attrID]
	if !ok {
		return "", false
	}
	index, ok := d.caseIndex[caseID]
	if !ok {
		return "", false
	}
	return attr.value(index)
}

// ValueAtIndex returns the value of the attribute at row position index.
func (d *DataSet) ValueAtIndex(index int, attrID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	attr, ok := d.attrByID[attrID]
	if !ok {
		return "", false
	}
	return attr.value(index)
}

// NumericValue parses the (case, attribute) value as a float. The second
// result is false for empty, non-numeric, or unknown references.
func (d *DataSet) NumericValue(caseID, attrID string) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	attr, ok := d.attrByID[attrID]
	if !ok {
		return 0, false
	}
	index, ok := d.caseIndex[caseID]
	if !ok {
		return 0, false
	}
	return attr.numericValue(index)
}

// NumericBounds returns the min and max numeric values of an attribute,
// ignoring empty and non-numeric slots. ok is false when no slot parses.
func (d *DataSet) NumericBounds(attrID string) (min, max float64, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	attr, found := d.attrByID[attrID]
	if !found {
		return 0, 0, false
	}
	for i := range attr.values {
		v, numeric := attr.numericValue(i)
		if !numeric {
			continue
		}
		if !ok || v < min {
			min = v
		}
		if !ok || v > max {
			max = v
		}
		ok = true
	}
	return min, max, ok
}

// GetCase materializes the case keyed by attribute name.
func (d *DataSet) GetCase(id string) (domain.Case, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.caseLocked(id, false)
}

// GetCanonicalCase materializes the case keyed by attribute id.
func (d *DataSet) GetCanonicalCase(id string) (domain.Case, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.caseLocked(id, true)
}

// GetCanonicalCaseAtIndex materializes the case at row position index.
func (d *DataSet) GetCanonicalCaseAtIndex(index int) (domain.Case, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if index < 0 || index >= len(d.caseIDs) {
		return domain.Case{}, false
	}
	return d.caseLocked(d.caseIDs[index], true)
}

// GetCanonicalCasesAtIndices materializes count cases starting at start,
// clamped to the case range. Windowed and virtualized views use this for
// positional reads.
func (d *DataSet) GetCanonicalCasesAtIndices(start, count int) []domain.Case {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if start < 0 {
		start = 0
	}
	end := start + count
	if end > len(d.caseIDs) {
		end = len(d.caseIDs)
	}
	cases := make([]domain.Case, 0, end-start)
	for i := start; i < end; i++ {
		if c, ok := d.caseLocked(d.caseIDs[i], true); ok {
			cases = append(cases, c)
		}
	}
	return cases
}

func (d *DataSet) caseLocked(id string, canonical bool) (domain.Case, bool) {
	index, ok := d.caseIndex[id]
	if !ok {
		return domain.Case{}, false
	}
	values := make(map[string]string, len(d.attrs))
	for _, attr := range d.attrs {
		key := attr.name
		if canonical {
			key = attr.id
		}
		v, _ := attr.value(index)
		values[key] = v
	}
	return domain.Case{ID: id, Values: values}, true
}

// SortByAttribute stably reorders cases by one attribute's values.
// Numeric-looking strings compare numerically and sort before non-numeric
// values; empty values sort last. Ties preserve prior relative order, so
// re-sorting by the same key with no data change is a no-op.
func (d *DataSet) SortByAttribute(attrID string, direction SortDirection) {
	d.mu.Lock()
	attr, ok := d.attrByID[attrID]
	if !ok {
		d.mu.Unlock()
		return
	}
	n := len(d.caseIDs)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool {
		cmp := compareValues(attr.values[perm[i]], attr.values[perm[j]])
		if direction == SortDescending {
			return cmp > 0
		}
		return cmp < 0
	})
	identity := true
	for i, p := range perm {
		if i != p {
			identity = false
			break
		}
	}
	if identity {
		d.mu.Unlock()
		return
	}
	prevOrder := append([]string(nil), d.caseIDs...)
	reordered := make([]string, n)
	for i, p := range perm {
		reordered[i] = d.caseIDs[p]
	}
	d.caseIDs = reordered
	for _, a := range d.attrs {
		values := make([]string, n)
		for i, p := range perm {
			values[i] = a.values[p]
		}
		a.values = values
	}
	for i, id := range d.caseIDs {
		d.caseIndex[id] = i
	}
	change := withState(d.changeLocked(domain.EntityCase, domain.ActionReorder, attrID), prevOrder, reordered)
	d.mu.Unlock()
	d.emit(change)
}

// compareValues orders two cell values: numerically when both parse as
// numbers, numbers before strings, empty values last, strings
// lexicographically otherwise.
func compareValues(a, b string) int {
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}
	af, aNum := parseNumeric(a)
	bf, bNum := parseNumeric(b)
	switch {
	case aNum && bNum:
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case aNum:
		return -1
	case bNum:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func parseNumeric(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

// Snapshot returns the round-trippable serialized form of the dataset.
// Selection state is transient and excluded.
func (d *DataSet) Snapshot() domain.DataSetSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := domain.DataSetSnapshot{
		ID:         d.id,
		Name:       d.name,
		Attributes: make([]domain.AttributeSnapshot, len(d.attrs)),
		Cases:      make([]domain.CaseSnapshot, len(d.caseIDs)),
	}
	for i, attr := range d.attrs {
		snap.Attributes[i] = attr.snapshot()
	}
	for i, id := range d.caseIDs {
		snap.Cases[i] = domain.CaseSnapshot{ID: id}
	}
	return snap
}

func (d *DataSet) attrIndexLocked(id string) (int, bool) {
	for i, attr := range d.attrs {
		if attr.id == id {
			return i, true
		}
	}
	return 0, false
}

func (d *DataSet) insertCaseLocked(id string, beforeIndex int) {
	if beforeIndex < 0 || beforeIndex >= len(d.caseIDs) {
		d.caseIDs = append(d.caseIDs, id)
		d.caseIndex[id] = len(d.caseIDs) - 1
		return
	}
	d.caseIDs = append(d.caseIDs, "")
	copy(d.caseIDs[beforeIndex+1:], d.caseIDs[beforeIndex:])
	d.caseIDs[beforeIndex] = id
	for i := beforeIndex; i < len(d.caseIDs); i++ {
		d.caseIndex[d.caseIDs[i]] = i
	}
}

// checkParallelLocked panics when any attribute's value count diverges from
// the case count. This is a hard failure: it indicates a caller bypassed the
// public operations.
func (d *DataSet) checkParallelLocked() {
	for _, attr := range d.attrs {
		if len(attr.values) != len(d.caseIDs) {
			panic(fmt.Sprintf("dataset %s: attribute %s has %d values for %d cases",
				d.id, attr.id, len(attr.values), len(d.caseIDs)))
		}
	}
}
