package core

import "tilecore/pkg/domain"

// Selection state lives on the dataset: once a dataset is shared there is no
// tile-local selection truth. All selection writes are ephemeral — they are
// broadcast to observers but never recorded as history events.

// SelectCases adds (selected=true) or removes (selected=false) the given
// case ids from the selection. Ids that reference no live case are ignored.
// Adding cases clears any attribute selection per the exclusivity rule.
func (d *DataSet) SelectCases(ids []string, selected bool) {
	d.mu.Lock()
	changed := false
	for _, id := range ids {
		if _, live := d.caseIndex[id]; !live {
			continue
		}
		if selected {
			if _, ok := d.selectedCases[id]; !ok {
				d.selectedCases[id] = struct{}{}
				changed = true
			}
		} else if _, ok := d.selectedCases[id]; ok {
			delete(d.selectedCases, id)
			changed = true
		}
	}
	if selected && changed && len(d.selectedAttrs) > 0 {
		d.selectedAttrs = make(map[string]struct{})
	}
	d.finishSelectionLocked(changed, domain.EntityCase)
}

// SetSelectedCases replaces the case selection, clearing any attribute
// selection. Stale ids are dropped.
func (d *DataSet) SetSelectedCases(ids []string) {
	d.mu.Lock()
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, live := d.caseIndex[id]; live {
			next[id] = struct{}{}
		}
	}
	changed := !sameIDSet(d.selectedCases, next) || len(d.selectedAttrs) > 0
	d.selectedCases = next
	d.selectedAttrs = make(map[string]struct{})
	d.finishSelectionLocked(changed, domain.EntityCase)
}

// SelectAllCases selects (or deselects) every case.
func (d *DataSet) SelectAllCases(selected bool) {
	if selected {
		d.mu.RLock()
		ids := append([]string(nil), d.caseIDs...)
		d.mu.RUnlock()
		d.SetSelectedCases(ids)
		return
	}
	d.SetSelectedCases(nil)
}

// SelectedCaseIDs returns the selected case ids in row order.
func (d *DataSet) SelectedCaseIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.selectedCases))
	for _, id := range d.caseIDs {
		if _, ok := d.selectedCases[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// FirstSelectedCaseID returns the selected case that comes first in row
// order. Card-style tiles derive their displayed card index from it.
func (d *DataSet) FirstSelectedCaseID() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.caseIDs {
		if _, ok := d.selectedCases[id]; ok {
			return id, true
		}
	}
	return "", false
}

// IsCaseSelected reports whether the case is selected.
func (d *DataSet) IsCaseSelected(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.selectedCases[id]
	return ok
}

// SelectAttributes adds or removes attribute ids from the selection. Adding
// attributes clears any case selection per the exclusivity rule.
func (d *DataSet) SelectAttributes(ids []string, selected bool) {
	d.mu.Lock()
	changed := false
	for _, id := range ids {
		if _, live := d.attrByID[id]; !live {
			continue
		}
		if selected {
			if _, ok := d.selectedAttrs[id]; !ok {
				d.selectedAttrs[id] = struct{}{}
				changed = true
			}
		} else if _, ok := d.selectedAttrs[id]; ok {
			delete(d.selectedAttrs, id)
			changed = true
		}
	}
	if selected && changed && len(d.selectedCases) > 0 {
		d.selectedCases = make(map[string]struct{})
	}
	d.finishSelectionLocked(changed, domain.EntityAttribute)
}

// SetSelectedAttributes replaces the attribute selection, clearing any case
// selection.
func (d *DataSet) SetSelectedAttributes(ids []string) {
	d.mu.Lock()
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, live := d.attrByID[id]; live {
			next[id] = struct{}{}
		}
	}
	changed := !sameIDSet(d.selectedAttrs, next) || len(d.selectedCases) > 0
	d.selectedAttrs = next
	d.selectedCases = make(map[string]struct{})
	d.finishSelectionLocked(changed, domain.EntityAttribute)
}

// SelectAllAttributes selects (or deselects) every attribute.
func (d *DataSet) SelectAllAttributes(selected bool) {
	if selected {
		d.SetSelectedAttributes(d.AttributeIDs())
		return
	}
	d.SetSelectedAttributes(nil)
}

// SelectedAttributeIDs returns the selected attribute ids in column order.
func (d *DataSet) SelectedAttributeIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.selectedAttrs))
	for _, attr := range d.attrs {
		if _, ok := d.selectedAttrs[attr.id]; ok {
			ids = append(ids, attr.id)
		}
	}
	return ids
}

// IsAttributeSelected reports whether the attribute is selected.
func (d *DataSet) IsAttributeSelected(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.selectedAttrs[id]
	return ok
}

// SetSelectedCell selects a single (case, attribute) pair. Cell selection
// coexists with case selection: a cell is presentationally inside exactly
// one case and one attribute, so grid-style consumers interpret the cell
// while case-highlight consumers interpret its case. Stale references are
// silent no-ops.
func (d *DataSet) SetSelectedCell(caseID, attrID string) {
	d.mu.Lock()
	if _, live := d.caseIndex[caseID]; !live {
		d.mu.Unlock()
		return
	}
	if _, live := d.attrByID[attrID]; !live {
		d.mu.Unlock()
		return
	}
	cell := domain.CellRef{CaseID: caseID, AttributeID: attrID}
	changed := d.selectedCell == nil || *d.selectedCell != cell
	d.selectedCell = &cell
	d.finishSelectionLocked(changed, domain.EntityCase)
}

// ClearSelectedCell removes the cell selection.
func (d *DataSet) ClearSelectedCell() {
	d.mu.Lock()
	changed := d.selectedCell != nil
	d.selectedCell = nil
	d.finishSelectionLocked(changed, domain.EntityCase)
}

// SelectedCell returns the selected cell, if any.
func (d *DataSet) SelectedCell() (domain.CellRef, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.selectedCell == nil {
		return domain.CellRef{}, false
	}
	return *d.selectedCell, true
}

// ClearAllSelections resets case, attribute, and cell selection.
func (d *DataSet) ClearAllSelections() {
	d.mu.Lock()
	changed := len(d.selectedCases) > 0 || len(d.selectedAttrs) > 0 || d.selectedCell != nil
	d.selectedCases = make(map[string]struct{})
	d.selectedAttrs = make(map[string]struct{})
	d.selectedCell = nil
	d.finishSelectionLocked(changed, domain.EntityDataSet)
}

// finishSelectionLocked releases the lock and broadcasts a selection token
// when anything moved. Selection changes are always ephemeral.
func (d *DataSet) finishSelectionLocked(changed bool, entity domain.EntityType) {
	if !changed {
		d.mu.Unlock()
		return
	}
	change := d.changeLocked(entity, domain.ActionSelect, "")
	d.mu.Unlock()
	d.emit(change)
}

func sameIDSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}
