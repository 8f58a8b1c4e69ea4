package tiles

import (
	"testing"

	"tilecore/internal/core"
	"tilecore/pkg/domain"
)

func mountedTable(t *testing.T) (*TableTile, *core.DataSet, *core.SharedModelManager) {
	t.Helper()
	manager := core.NewSharedModelManager(nil)
	table := NewTableTile("table-1", "sheet", manager)
	table.Mount()
	if err := manager.SetDocument(domain.DocumentSnapshot{ID: "doc-1"}); err != nil {
		t.Fatalf("set document: %v", err)
	}
	ds := table.DataSet()
	if ds == nil {
		t.Fatalf("table not attached")
	}
	return table, ds, manager
}

func TestTableVisibleRowsClampWindow(t *testing.T) {
	table, ds, _ := mountedTable(t)
	seedCases(t, ds, "a", "b", "c") // plus the default empty case

	table.SetRowWindow(2, 10)
	rows := table.VisibleRows()
	if len(rows) != 2 {
		t.Fatalf("expected window clamped to 2 rows, got %d", len(rows))
	}
	table.SetRowWindow(-3, 2)
	if rows := table.VisibleRows(); len(rows) != 2 {
		t.Fatalf("negative start not clamped: %d rows", len(rows))
	}
}

func TestTableSetCell(t *testing.T) {
	table, ds, _ := mountedTable(t)
	attrID, _ := ds.AttrIDFromIndex(0)
	table.SetCell(0, attrID, "42")
	if v, _ := ds.ValueAtIndex(0, attrID); v != "42" {
		t.Fatalf("cell write lost: %q", v)
	}
	// Out-of-range rows are silent no-ops.
	table.SetCell(99, attrID, "x")
	if ds.CaseCount() != 1 {
		t.Fatalf("phantom row created")
	}
}

func TestTableSelectionWrites(t *testing.T) {
	table, ds, _ := mountedTable(t)
	seedCases(t, ds, "a", "b")
	attrID, _ := ds.AttrIDFromIndex(0)

	table.SelectRow(1)
	if got := ds.SelectedCaseIDs(); len(got) != 1 {
		t.Fatalf("row selection wrong: %v", got)
	}

	table.SelectColumn(attrID)
	if !ds.IsAttributeSelected(attrID) {
		t.Fatalf("column not selected")
	}
	if len(ds.SelectedCaseIDs()) != 0 {
		t.Fatalf("column selection left cases selected")
	}

	table.SelectCell(2, attrID)
	cell, ok := ds.SelectedCell()
	if !ok || cell.AttributeID != attrID {
		t.Fatalf("cell not selected: %+v", cell)
	}
}

func TestTableRenameColumnAllowsDuplicates(t *testing.T) {
	table, ds, _ := mountedTable(t)
	second := ds.AddAttribute("extra")
	table.RenameColumn(second, domain.DefaultLabel)
	if name, _ := ds.AttrName(second); name != domain.DefaultLabel {
		t.Fatalf("duplicate header rejected: %q", name)
	}
}

func TestTableSortIsUndoableDataChange(t *testing.T) {
	table, ds, _ := mountedTable(t)
	recorder := core.NewHistoryRecorder()
	ds.SetHistorySink(recorder)
	seedCases(t, ds, "3", "1", "2")
	before := recorder.Len()
	attrID, _ := ds.AttrIDFromIndex(0)

	table.Sort(attrID, core.SortAscending)
	if recorder.Len() != before+1 {
		t.Fatalf("sort not recorded as history entry")
	}
	// Empty default case sorts last; numeric rows ascend.
	if v, _ := ds.ValueAtIndex(0, attrID); v != "1" {
		t.Fatalf("unexpected first row %q", v)
	}

	// Same sort again is idempotent: no reorder, no history.
	table.Sort(attrID, core.SortAscending)
	if recorder.Len() != before+1 {
		t.Fatalf("idempotent re-sort recorded history")
	}
}

func TestLinkedTableConsumesExistingDataSet(t *testing.T) {
	_, ds, manager := mountedTable(t)

	consumer := NewLinkedTableTile("table-2", manager)
	consumer.Mount()
	linked := consumer.DataSet()
	if linked == nil || linked.ID() != ds.ID() {
		t.Fatalf("linked table did not attach to existing dataset")
	}

	// A write through the consumer is visible to the provider immediately.
	attrID, _ := ds.AttrIDFromIndex(0)
	consumer.SetCell(0, attrID, "shared")
	if v, _ := ds.ValueAtIndex(0, attrID); v != "shared" {
		t.Fatalf("consumer write not visible to provider: %q", v)
	}
}
