package tiles

import (
	"sync"

	"tilecore/internal/core"
	"tilecore/pkg/domain"
	"tilecore/pkg/tileapi"
)

// TableTile is a grid-style view over a shared dataset. Like the card tile
// it can provide its own dataset; unlike the card tile it allows duplicate
// attribute labels, since a spreadsheet header is free-form text.
type TableTile struct {
	mu      sync.Mutex
	id      string
	manager tileapi.SharedModelManager
	attach  *tileapi.Attacher
	model   *core.SharedDataSet

	// rowWindow is the virtualized row range last requested by the view.
	rowStart, rowCount int
}

var _ tileapi.Tile = (*TableTile)(nil)

// NewTableTile constructs a table tile providing its own dataset named name.
func NewTableTile(id, name string, manager tileapi.SharedModelManager) *TableTile {
	t := &TableTile{id: id, manager: manager}
	t.attach = tileapi.NewAttacher(manager, t, domain.SharedDataSetType, id, func() tileapi.SharedModel {
		return core.NewSharedDataSet("", id, name)
	})
	return t
}

// NewLinkedTableTile constructs a table tile that only consumes datasets
// linked to it, never creating one.
func NewLinkedTableTile(id string, manager tileapi.SharedModelManager) *TableTile {
	t := &TableTile{id: id, manager: manager}
	t.attach = tileapi.NewAttacher(manager, t, domain.SharedDataSetType, "", nil)
	return t
}

// TileID returns the tile's document-wide id.
func (t *TableTile) TileID() string {
	return t.id
}

// Mount starts the attachment state machine.
func (t *TableTile) Mount() {
	t.attach.Start()
}

// UpdateAfterSharedModelChanges caches the linked dataset. The table keeps
// no row cursor; its virtualized reads clamp positionally on every access.
func (t *TableTile) UpdateAfterSharedModelChanges(model tileapi.SharedModel) {
	shared, _ := model.(*core.SharedDataSet)
	t.mu.Lock()
	defer t.mu.Unlock()
	if shared != nil && t.model == nil {
		t.model = shared
	}
}

// DataSet returns the linked dataset, or nil before attachment.
func (t *TableTile) DataSet() *core.DataSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model == nil {
		return nil
	}
	return t.model.DataSet()
}

// SetRowWindow records the virtualized row range the view displays.
func (t *TableTile) SetRowWindow(start, count int) {
	t.mu.Lock()
	t.rowStart, t.rowCount = start, count
	t.mu.Unlock()
}

// VisibleRows materializes the cases in the current row window, clamped to
// the live case range.
func (t *TableTile) VisibleRows() []domain.Case {
	ds := t.DataSet()
	if ds == nil {
		return nil
	}
	t.mu.Lock()
	start, count := t.rowStart, t.rowCount
	t.mu.Unlock()
	return ds.GetCanonicalCasesAtIndices(start, count)
}

// SetCell writes one cell value addressed by row position and attribute id.
func (t *TableTile) SetCell(rowIndex int, attrID, value string) {
	ds := t.DataSet()
	if ds == nil {
		return
	}
	caseID, ok := ds.CaseIDFromIndex(rowIndex)
	if !ok {
		return
	}
	ds.SetCanonicalCaseValues([]domain.Case{{ID: caseID, Values: map[string]string{attrID: value}}})
}

// SelectCell highlights one cell. The write is ephemeral by nature of the
// selection path.
func (t *TableTile) SelectCell(rowIndex int, attrID string) {
	ds := t.DataSet()
	if ds == nil {
		return
	}
	caseID, ok := ds.CaseIDFromIndex(rowIndex)
	if !ok {
		return
	}
	ds.SetSelectedCell(caseID, attrID)
}

// SelectRow replaces the case selection with the row at rowIndex.
func (t *TableTile) SelectRow(rowIndex int) {
	ds := t.DataSet()
	if ds == nil {
		return
	}
	caseID, ok := ds.CaseIDFromIndex(rowIndex)
	if !ok {
		return
	}
	ds.SetSelectedCases([]string{caseID})
}

// SelectColumn replaces the attribute selection with the given attribute.
func (t *TableTile) SelectColumn(attrID string) {
	ds := t.DataSet()
	if ds == nil {
		return
	}
	ds.SetSelectedAttributes([]string{attrID})
}

// RenameColumn renames an attribute header. Duplicate labels are allowed.
func (t *TableTile) RenameColumn(attrID, name string) {
	ds := t.DataSet()
	if ds == nil {
		return
	}
	ds.SetAttributeName(attrID, name)
}

// Sort reorders the underlying cases by the given attribute. The reorder is
// a data change: it persists and is undoable.
func (t *TableTile) Sort(attrID string, direction core.SortDirection) {
	ds := t.DataSet()
	if ds == nil {
		return
	}
	ds.SortByAttribute(attrID, direction)
}
