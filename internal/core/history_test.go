package core

import (
	"encoding/json"
	"testing"

	"tilecore/pkg/domain"
)

func TestHistoryRecorderPerChangeEntries(t *testing.T) {
	recorder := NewHistoryRecorder()
	recorder.Record(domain.Change{Entity: domain.EntityCase, Action: domain.ActionCreate, EntityID: "c1"})
	recorder.Record(domain.Change{Entity: domain.EntityCase, Action: domain.ActionUpdate, EntityID: "c1"})
	entries := recorder.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Operation != string(domain.ActionCreate) || len(entries[0].Changes) != 1 {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Operation != string(domain.ActionUpdate) {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestHistoryRecorderScopeGroupsChanges(t *testing.T) {
	recorder := NewHistoryRecorder()
	recorder.BeginEntry("merge_dataset")
	recorder.Record(domain.Change{Entity: domain.EntityAttribute, Action: domain.ActionCreate, EntityID: "a1"})
	recorder.Record(domain.Change{Entity: domain.EntityCase, Action: domain.ActionCreate, EntityID: "c1"})
	recorder.Record(domain.Change{Entity: domain.EntityCase, Action: domain.ActionCreate, EntityID: "c2"})
	recorder.EndEntry()

	entries := recorder.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 grouped entry, got %d", len(entries))
	}
	if entries[0].Operation != "merge_dataset" || len(entries[0].Changes) != 3 {
		t.Fatalf("unexpected grouped entry: %+v", entries[0])
	}

	// After the scope closes, recording reverts to per-change entries.
	recorder.Record(domain.Change{Entity: domain.EntityCase, Action: domain.ActionDelete, EntityID: "c1"})
	if recorder.Len() != 2 {
		t.Fatalf("expected 2 entries after scope, got %d", recorder.Len())
	}
}

func TestHistoryRecorderEmptyScopeLeavesNoEntry(t *testing.T) {
	recorder := NewHistoryRecorder()
	recorder.BeginEntry("noop")
	recorder.EndEntry()
	if recorder.Len() != 0 {
		t.Fatalf("empty scope committed %d entries", recorder.Len())
	}
}

func TestHistoryRecorderDropsEphemeralChanges(t *testing.T) {
	recorder := NewHistoryRecorder()
	recorder.BeginEntry("op")
	recorder.Record(domain.Change{Action: domain.ActionSelect, Ephemeral: true})
	recorder.EndEntry()
	recorder.Record(domain.Change{Action: domain.ActionUpdate, Ephemeral: true})
	if recorder.Len() != 0 {
		t.Fatalf("ephemeral changes produced %d entries", recorder.Len())
	}
}

func TestRecordedCaseChangesCarryReplayableState(t *testing.T) {
	recorder := NewHistoryRecorder()
	ds := NewDataSet("ds-1", "animals")
	ds.SetHistorySink(recorder)
	attrID := ds.AddAttribute("animal")
	ids := ds.AddCases([]domain.Case{{Values: map[string]string{"animal": "cat"}}}, "")
	ds.SetCaseValues([]domain.Case{{ID: ids[0], Values: map[string]string{"animal": "dog"}}})
	ds.RemoveCases([]string{ids[0]})

	entries := recorder.Entries()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if !entry.Changes[0].Payload.Defined() {
			t.Fatalf("entry %d (%s) carries no state", i, entry.Operation)
		}
	}

	var update struct {
		Before domain.Case `json:"before"`
		After  domain.Case `json:"after"`
	}
	if err := json.Unmarshal(entries[2].Changes[0].Payload.Raw(), &update); err != nil {
		t.Fatalf("decode update state: %v", err)
	}
	if update.Before.Values[attrID] != "cat" || update.After.Values[attrID] != "dog" {
		t.Fatalf("update state drifted: before=%v after=%v", update.Before.Values, update.After.Values)
	}

	var removal struct {
		Before domain.Case     `json:"before"`
		After  json.RawMessage `json:"after"`
	}
	if err := json.Unmarshal(entries[3].Changes[0].Payload.Raw(), &removal); err != nil {
		t.Fatalf("decode delete state: %v", err)
	}
	if removal.Before.Values[attrID] != "dog" {
		t.Fatalf("delete state lost last value: %v", removal.Before.Values)
	}
	if removal.After != nil {
		t.Fatalf("delete state has an after form: %s", removal.After)
	}
}

func TestRemovedAttributeStateIsRestorable(t *testing.T) {
	recorder := NewHistoryRecorder()
	ds := NewDataSet("ds-1", "animals")
	ds.SetHistorySink(recorder)
	attrID := ds.AddAttribute("animal")
	ds.AddCases([]domain.Case{{Values: map[string]string{"animal": "cat"}}}, "")
	ds.RemoveAttribute(attrID)

	entries := recorder.Entries()
	last := entries[len(entries)-1]
	var state struct {
		Before domain.AttributeSnapshot `json:"before"`
	}
	if err := json.Unmarshal(last.Changes[0].Payload.Raw(), &state); err != nil {
		t.Fatalf("decode delete state: %v", err)
	}
	if state.Before.ID != attrID || state.Before.Name != "animal" {
		t.Fatalf("attribute identity lost: %+v", state.Before)
	}
	if len(state.Before.Values) != 1 || state.Before.Values[0] != "cat" {
		t.Fatalf("attribute values lost: %v", state.Before.Values)
	}
}

func TestEphemeralChangesCarryNoState(t *testing.T) {
	ds := NewDataSet("ds-1", "animals")
	ds.AddAttribute("animal")
	ids := ds.AddCases([]domain.Case{{Values: map[string]string{"animal": "cat"}}}, "")

	var captured []domain.Change
	ds.AddListener("capture", func(c domain.Change) { captured = append(captured, c) })
	ds.SetSelectedCases(ids)
	ds.WithoutUndo(func() {
		ds.SetCaseValues([]domain.Case{{ID: ids[0], Values: map[string]string{"animal": "dog"}}})
	})
	if len(captured) != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", len(captured))
	}
	for _, c := range captured {
		if !c.Ephemeral {
			t.Fatalf("expected ephemeral change, got %+v", c)
		}
		if c.Payload.Defined() {
			t.Fatalf("ephemeral change carries state: %+v", c)
		}
	}
}

func TestHistoryRecorderEntriesReturnsCopy(t *testing.T) {
	recorder := NewHistoryRecorder()
	recorder.Record(domain.Change{Action: domain.ActionCreate, EntityID: "c1"})
	entries := recorder.Entries()
	entries[0].Operation = "tampered"
	if recorder.Entries()[0].Operation == "tampered" {
		t.Fatalf("Entries returned aliased storage")
	}
}
