package snapshots

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"tilecore/internal/blob"
	"tilecore/pkg/domain"
)

type mapSource map[string]domain.DataSetSnapshot

func (m mapSource) DataSetSnapshotByID(id string) (domain.DataSetSnapshot, bool) {
	snapshot, ok := m[id]
	return snapshot, ok
}

type captureAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAudit) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureAudit) all() []AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AuditEntry(nil), c.entries...)
}

func sampleSnapshot() domain.DataSetSnapshot {
	return domain.DataSetSnapshot{
		ID:   "ds-1",
		Name: "animals",
		Attributes: []domain.AttributeSnapshot{
			{ID: "a1", Name: "animal", Values: []string{"cat", "hen"}},
			{ID: "a2", Name: "legs", Values: []string{"4", "2"}},
		},
		Cases: []domain.CaseSnapshot{{ID: "c1"}, {ID: "c2"}},
	}
}

func startWorker(t *testing.T) (*Worker, *blob.Memory, *captureAudit) {
	t.Helper()
	store := blob.NewMemory()
	audit := &captureAudit{}
	worker := NewWorker(mapSource{"ds-1": sampleSnapshot()}, store, audit)
	worker.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := worker.Stop(ctx); err != nil {
			t.Errorf("stop worker: %v", err)
		}
	})
	return worker, store, audit
}

func awaitExport(t *testing.T, worker *Worker, id string) ExportRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		record, ok := worker.GetExport(id)
		if !ok {
			t.Fatalf("export %s vanished", id)
		}
		if record.Status == ExportStatusSucceeded || record.Status == ExportStatusFailed {
			return record
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("export %s did not finish", id)
	return ExportRecord{}
}

func TestWorkerExportsDefaultFormats(t *testing.T) {
	worker, store, audit := startWorker(t)
	ctx := context.Background()

	queued, err := worker.EnqueueExport(ctx, ExportInput{DataSetID: "ds-1", RequestedBy: "teacher"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if queued.Status != ExportStatusQueued || !reflect.DeepEqual(queued.Formats, []Format{FormatJSON, FormatCSV}) {
		t.Fatalf("unexpected queued record: %+v", queued)
	}

	record := awaitExport(t, worker, queued.ID)
	if record.Status != ExportStatusSucceeded {
		t.Fatalf("export failed: %s %s", record.Status, record.Error)
	}
	if len(record.Artifacts) != 2 || record.CompletedAt == nil {
		t.Fatalf("unexpected artifacts: %+v", record)
	}

	wantKeys := map[Format]string{
		FormatJSON: "exports/ds-1/" + queued.ID + ".json",
		FormatCSV:  "exports/ds-1/" + queued.ID + ".csv",
	}
	for _, artifact := range record.Artifacts {
		if artifact.Key != wantKeys[artifact.Format] {
			t.Fatalf("artifact key %q for format %s", artifact.Key, artifact.Format)
		}
	}

	_, rc, err := store.Get(ctx, wantKeys[FormatJSON])
	if err != nil {
		t.Fatalf("get json artifact: %v", err)
	}
	payload, _ := io.ReadAll(rc)
	_ = rc.Close()
	var decoded domain.DataSetSnapshot
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode json artifact: %v", err)
	}
	if !reflect.DeepEqual(decoded, sampleSnapshot()) {
		t.Fatalf("json artifact drifted: %+v", decoded)
	}

	_, rc, err = store.Get(ctx, wantKeys[FormatCSV])
	if err != nil {
		t.Fatalf("get csv artifact: %v", err)
	}
	rows, err := csv.NewReader(rc).ReadAll()
	_ = rc.Close()
	if err != nil {
		t.Fatalf("decode csv artifact: %v", err)
	}
	want := [][]string{
		{"case_id", "animal", "legs"},
		{"c1", "cat", "4"},
		{"c2", "hen", "2"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("csv rows:\n got %v\nwant %v", rows, want)
	}

	// The success audit entry lands just after the record flips to succeeded.
	var entries []AuditEntry
	deadline := time.Now().Add(2 * time.Second)
	for entries = audit.all(); len(entries) < 2 && time.Now().Before(deadline); entries = audit.all() {
		time.Sleep(5 * time.Millisecond)
	}
	if len(entries) != 2 {
		t.Fatalf("expected queued+succeeded audit entries, got %d", len(entries))
	}
	if entries[0].Status != ExportStatusQueued || entries[1].Status != ExportStatusSucceeded {
		t.Fatalf("audit statuses: %s %s", entries[0].Status, entries[1].Status)
	}
	for _, entry := range entries {
		if entry.Action != "snapshot_export" || entry.Actor != "teacher" || entry.DataSetID != "ds-1" {
			t.Fatalf("audit entry drifted: %+v", entry)
		}
	}
}

func TestWorkerDedupesRequestedFormats(t *testing.T) {
	worker, _, _ := startWorker(t)
	queued, err := worker.EnqueueExport(context.Background(), ExportInput{
		DataSetID: "ds-1",
		Formats:   []Format{FormatCSV, FormatCSV, FormatJSON},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !reflect.DeepEqual(queued.Formats, []Format{FormatCSV, FormatJSON}) {
		t.Fatalf("duplicate formats survived: %v", queued.Formats)
	}
	record := awaitExport(t, worker, queued.ID)
	if record.Status != ExportStatusSucceeded || len(record.Artifacts) != 2 {
		t.Fatalf("unexpected result: %+v", record)
	}
}

func TestWorkerRejectsBadRequests(t *testing.T) {
	worker, _, audit := startWorker(t)
	ctx := context.Background()

	if _, err := worker.EnqueueExport(ctx, ExportInput{DataSetID: "  "}); err == nil {
		t.Fatalf("blank dataset id accepted")
	}
	if _, err := worker.EnqueueExport(ctx, ExportInput{DataSetID: "nope"}); !domain.IsNotFound(err) {
		t.Fatalf("expected not-found for unknown dataset, got %v", err)
	}
	if _, err := worker.EnqueueExport(ctx, ExportInput{DataSetID: "ds-1", Formats: []Format{"xml"}}); err == nil ||
		!strings.Contains(err.Error(), "unsupported export format") {
		t.Fatalf("unsupported format accepted: %v", err)
	}
	if entries := audit.all(); len(entries) != 0 {
		t.Fatalf("rejected requests were audited: %+v", entries)
	}

	bare := NewWorker(nil, blob.NewMemory(), nil)
	if _, err := bare.EnqueueExport(ctx, ExportInput{DataSetID: "ds-1"}); err == nil {
		t.Fatalf("nil source accepted")
	}
}

func TestWorkerGetExportReturnsCopy(t *testing.T) {
	worker, _, _ := startWorker(t)
	queued, err := worker.EnqueueExport(context.Background(), ExportInput{DataSetID: "ds-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	record := awaitExport(t, worker, queued.ID)
	record.Artifacts[0].Key = "tampered"
	record.Formats[0] = "tampered"

	again, ok := worker.GetExport(queued.ID)
	if !ok {
		t.Fatalf("export missing")
	}
	if again.Artifacts[0].Key == "tampered" || again.Formats[0] == "tampered" {
		t.Fatalf("GetExport aliased internal state")
	}
	if _, ok := worker.GetExport("missing"); ok {
		t.Fatalf("unknown export id found")
	}
}
