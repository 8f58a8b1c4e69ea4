// Package tiles holds the tile content models that exercise the shared
// dataset core: a card-style browser, a grid-style table, and a plot-style
// graph. Each tile keeps only view state of its own; all data and selection
// truth lives in the shared dataset.
package tiles

import (
	"sync"

	"tilecore/internal/core"
	"tilecore/pkg/domain"
	"tilecore/pkg/tileapi"
)

// CardTile displays one case at a time and navigates by a cursor index. It
// provides its own dataset when mounted into a document that has none for it.
//
// The cursor is view state, not data: cursor writes and the selection they
// mirror go through the ephemeral path so undo never snaps the card back.
type CardTile struct {
	mu        sync.Mutex
	id        string
	manager   tileapi.SharedModelManager
	attacher  *tileapi.Attacher
	model     *core.SharedDataSet
	caseIndex int
}

var _ tileapi.Tile = (*CardTile)(nil)

// NewCardTile constructs a card tile that will provide its own shared
// dataset named name once the manager is ready.
func NewCardTile(id, name string, manager tileapi.SharedModelManager) *CardTile {
	c := &CardTile{id: id, manager: manager}
	c.attacher = tileapi.NewAttacher(manager, c, domain.SharedDataSetType, id, func() tileapi.SharedModel {
		return core.NewSharedDataSet("", id, name)
	})
	return c
}

// TileID returns the tile's document-wide id.
func (c *CardTile) TileID() string {
	return c.id
}

// Mount starts the attachment state machine. Safe to call before the manager
// is ready; the tile attaches once readiness fires.
func (c *CardTile) Mount() {
	c.attacher.Start()
}

// UpdateAfterSharedModelChanges repairs the cursor after any shape change in
// the linked dataset: the displayed index is clamped into the live case
// range.
func (c *CardTile) UpdateAfterSharedModelChanges(model tileapi.SharedModel) {
	shared, _ := model.(*core.SharedDataSet)
	c.mu.Lock()
	if shared != nil && c.model == nil {
		c.model = shared
		shared.DataSet().AddListener("cardTile:"+c.id, c.onDataSetChange)
	}
	ds := c.dataSetLocked()
	if ds == nil {
		c.mu.Unlock()
		return
	}
	count := ds.CaseCount()
	switch {
	case count == 0:
		c.caseIndex = 0
	case c.caseIndex >= count:
		c.caseIndex = count - 1
	case c.caseIndex < 0:
		c.caseIndex = 0
	}
	c.mu.Unlock()
}

func (c *CardTile) onDataSetChange(change domain.Change) {
	if change.Action == domain.ActionSelect {
		c.SyncCursorToSelection()
	}
}

// DataSet returns the linked dataset, or nil before attachment.
func (c *CardTile) DataSet() *core.DataSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dataSetLocked()
}

func (c *CardTile) dataSetLocked() *core.DataSet {
	if c.model == nil {
		return nil
	}
	return c.model.DataSet()
}

// CaseIndex returns the cursor position.
func (c *CardTile) CaseIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caseIndex
}

// SetCaseIndex moves the cursor, clamped into the case range, and selects the
// displayed case so other tiles highlight it. The selection write runs
// outside of history.
func (c *CardTile) SetCaseIndex(index int) {
	c.mu.Lock()
	ds := c.dataSetLocked()
	if ds == nil {
		c.mu.Unlock()
		return
	}
	count := ds.CaseCount()
	if count == 0 {
		c.caseIndex = 0
		c.mu.Unlock()
		return
	}
	if index < 0 {
		index = 0
	}
	if index >= count {
		index = count - 1
	}
	c.caseIndex = index
	c.mu.Unlock()

	if id, ok := ds.CaseIDFromIndex(index); ok {
		ds.WithoutUndo(func() {
			ds.SetSelectedCases([]string{id})
		})
	}
}

// SyncCursorToSelection moves the cursor to the first selected case, keeping
// the card in lockstep with selections made in other tiles.
func (c *CardTile) SyncCursorToSelection() {
	c.mu.Lock()
	ds := c.dataSetLocked()
	if ds == nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	id, ok := ds.FirstSelectedCaseID()
	if !ok {
		return
	}
	index, ok := ds.CaseIndexFromID(id)
	if !ok {
		return
	}
	c.mu.Lock()
	c.caseIndex = index
	c.mu.Unlock()
}

// CurrentCase materializes the displayed case keyed by attribute id.
func (c *CardTile) CurrentCase() (domain.Case, bool) {
	c.mu.Lock()
	ds := c.dataSetLocked()
	index := c.caseIndex
	c.mu.Unlock()
	if ds == nil {
		return domain.Case{}, false
	}
	return ds.GetCanonicalCaseAtIndex(index)
}

// AddNewAttr appends an attribute under the first unused default label and
// returns its id.
func (c *CardTile) AddNewAttr() (string, error) {
	ds := c.DataSet()
	if ds == nil {
		return "", domain.ErrNotReady
	}
	name := core.UniqueTitle(domain.DefaultLabelPrefix, ds.HasAttrName)
	return ds.AddAttribute(name), nil
}

// RenameAttribute renames an attribute. Card decks enforce unique labels
// case-insensitively; a colliding name is rejected with no mutation.
func (c *CardTile) RenameAttribute(attrID, name string) error {
	ds := c.DataSet()
	if ds == nil {
		return domain.ErrNotReady
	}
	if current, ok := ds.AttrName(attrID); ok && current == name {
		return nil
	}
	if ds.HasAttrName(name) {
		return domain.ValidationError{Entity: domain.EntityAttribute, ID: attrID, Field: "name", Reason: "name already in use"}
	}
	ds.SetAttributeName(attrID, name)
	return nil
}

// AddCard appends a new empty case after the displayed one and moves the
// cursor to it.
func (c *CardTile) AddCard() (string, bool) {
	ds := c.DataSet()
	if ds == nil {
		return "", false
	}
	beforeID := c.insertionPoint(ds)
	ids := ds.AddCases([]domain.Case{{}}, beforeID)
	if len(ids) == 0 {
		return "", false
	}
	if index, ok := ds.CaseIndexFromID(ids[0]); ok {
		c.SetCaseIndex(index)
	}
	return ids[0], true
}

// DuplicateCard inserts a copy of the displayed case immediately after it
// and moves the cursor to the copy.
func (c *CardTile) DuplicateCard() (string, bool) {
	ds := c.DataSet()
	if ds == nil {
		return "", false
	}
	c.mu.Lock()
	index := c.caseIndex
	c.mu.Unlock()
	original, ok := ds.GetCanonicalCaseAtIndex(index)
	if !ok {
		return "", false
	}
	beforeID := c.insertionPoint(ds)
	ids := ds.AddCanonicalCases([]domain.Case{{Values: original.Values}}, beforeID)
	if len(ids) == 0 {
		return "", false
	}
	if newIndex, ok := ds.CaseIndexFromID(ids[0]); ok {
		c.SetCaseIndex(newIndex)
	}
	return ids[0], true
}

// DeleteCard removes the displayed case. The cursor stays in place and
// clamps to the new range through the lifecycle callback.
func (c *CardTile) DeleteCard() {
	ds := c.DataSet()
	if ds == nil {
		return
	}
	c.mu.Lock()
	index := c.caseIndex
	c.mu.Unlock()
	if id, ok := ds.CaseIDFromIndex(index); ok {
		ds.RemoveCases([]string{id})
	}
}

// SetCurrentValue writes one attribute value of the displayed case.
func (c *CardTile) SetCurrentValue(attrID, value string) {
	ds := c.DataSet()
	if ds == nil {
		return
	}
	c.mu.Lock()
	index := c.caseIndex
	c.mu.Unlock()
	id, ok := ds.CaseIDFromIndex(index)
	if !ok {
		return
	}
	ds.SetCanonicalCaseValues([]domain.Case{{ID: id, Values: map[string]string{attrID: value}}})
}

// insertionPoint returns the id of the case after the cursor, or "" when the
// cursor is on the last case, so inserts land immediately after the
// displayed card.
func (c *CardTile) insertionPoint(ds *core.DataSet) string {
	c.mu.Lock()
	index := c.caseIndex
	c.mu.Unlock()
	id, ok := ds.CaseIDFromIndex(index)
	if !ok {
		return ""
	}
	next, ok := ds.NextCaseID(id)
	if !ok {
		return ""
	}
	return next
}
