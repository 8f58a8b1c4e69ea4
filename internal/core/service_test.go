package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tilecore/pkg/domain"
	"tilecore/pkg/tileapi"
)

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

type captureMetrics struct {
	mu           sync.Mutex
	observations []struct {
		operation string
		success   bool
	}
}

func (c *captureMetrics) Observe(_ context.Context, operation string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observations = append(c.observations, struct {
		operation string
		success   bool
	}{operation, success})
}

type captureTracer struct {
	started []string
	ended   []error
}

func (c *captureTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	c.started = append(c.started, operation)
	return ctx, captureSpan{tracer: c}
}

type captureSpan struct{ tracer *captureTracer }

func (s captureSpan) End(err error) { s.tracer.ended = append(s.tracer.ended, err) }

type failingStore struct{ err error }

func (f failingStore) SaveDocument(context.Context, domain.DocumentSnapshot) error { return f.err }

func (f failingStore) LoadDocument(context.Context, string) (domain.DocumentSnapshot, bool, error) {
	return domain.DocumentSnapshot{}, false, f.err
}

func (f failingStore) DeleteDocument(context.Context, string) (bool, error) { return false, f.err }

func (f failingStore) ListDocumentIDs(context.Context) ([]string, error) { return nil, f.err }

func (f failingStore) Close() error { return nil }

func frozenClock(at time.Time) Clock {
	return ClockFunc(func() time.Time { return at })
}

func newReadyService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	svc := NewService(opts...)
	if err := svc.NewDocument(context.Background(), "doc-1"); err != nil {
		t.Fatalf("new document: %v", err)
	}
	return svc
}

func TestCreateSharedDataSetDefaultNaming(t *testing.T) {
	svc := newReadyService(t)
	provider := &recordingTile{id: "t1"}

	first, err := svc.CreateSharedDataSet(context.Background(), provider, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Name() != "Data 1" {
		t.Fatalf("unexpected default name %q", first.Name())
	}
	second, err := svc.CreateSharedDataSet(context.Background(), &recordingTile{id: "t2"}, "")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.Name() != "Data 2" {
		t.Fatalf("unexpected second name %q", second.Name())
	}
	if first.ProviderID() != "t1" {
		t.Fatalf("provider not assigned: %q", first.ProviderID())
	}
	// The provider is linked to its own dataset on creation.
	models := svc.Manager().GetTileSharedModels(provider)
	if len(models) != 1 || models[0].ModelID() != first.ModelID() {
		t.Fatalf("provider not linked: %v", models)
	}
}

func TestCreateSharedDataSetEditsAreUndoable(t *testing.T) {
	svc := newReadyService(t)
	model, err := svc.CreateSharedDataSet(context.Background(), &recordingTile{id: "t1"}, "animals")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := svc.History().Len()
	model.DataSet().AddAttribute("legs")
	if svc.History().Len() != before+1 {
		t.Fatalf("dataset edit not recorded in history")
	}
}

func TestLinkAndUnlinkTileRecordHistory(t *testing.T) {
	svc := newReadyService(t)
	model, err := svc.CreateSharedDataSet(context.Background(), &recordingTile{id: "t1"}, "animals")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	consumer := &recordingTile{id: "t2"}
	dataSetID := model.DataSet().ID()

	if err := svc.LinkTile(context.Background(), consumer, dataSetID); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := svc.UnlinkTile(context.Background(), consumer, dataSetID); err != nil {
		t.Fatalf("unlink: %v", err)
	}

	entries := svc.History().Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(entries))
	}
	if entries[0].Changes[0].Action != domain.ActionLink || entries[1].Changes[0].Action != domain.ActionUnlink {
		t.Fatalf("unexpected recorded actions: %+v", entries)
	}

	// Both entries carry the association so the host can replay them.
	var state struct {
		After linkState `json:"after"`
	}
	if err := json.Unmarshal(entries[0].Changes[0].Payload.Raw(), &state); err != nil {
		t.Fatalf("decode link state: %v", err)
	}
	if state.After.TileID != "t2" || state.After.ModelID != model.ModelID() {
		t.Fatalf("link state drifted: %+v", state.After)
	}
	var undone struct {
		Before linkState `json:"before"`
	}
	if err := json.Unmarshal(entries[1].Changes[0].Payload.Raw(), &undone); err != nil {
		t.Fatalf("decode unlink state: %v", err)
	}
	if undone.Before.TileID != "t2" {
		t.Fatalf("unlink state drifted: %+v", undone.Before)
	}

	// Dataset survives the consumer unlink; provider still references it.
	if _, ok := svc.Manager().FindDataSet(dataSetID); !ok {
		t.Fatalf("dataset destroyed on consumer unlink")
	}
	tiles := svc.Manager().GetSharedModelTiles(model)
	if len(tiles) != 1 || tiles[0].TileID() != "t1" {
		t.Fatalf("unexpected remaining tiles: %v", tiles)
	}
}

func TestLinkTileUnknownDataSet(t *testing.T) {
	svc := newReadyService(t)
	err := svc.LinkTile(context.Background(), &recordingTile{id: "t2"}, "missing")
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestConfirmLinkDialogModes(t *testing.T) {
	svc := newReadyService(t)
	target, err := svc.CreateSharedDataSet(context.Background(), &recordingTile{id: "t1"}, "target")
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	requester := &recordingTile{id: "t2"}
	if _, err := svc.CreateSharedDataSet(context.Background(), requester, "mine"); err != nil {
		t.Fatalf("create requester dataset: %v", err)
	}

	if err := svc.ConfirmLinkDialog(context.Background(), requester, tileapi.LinkRequest{
		TargetDataSetID: target.DataSet().ID(),
		Mode:            tileapi.LinkModeLink,
	}); err != nil {
		t.Fatalf("link mode: %v", err)
	}
	if err := svc.ConfirmLinkDialog(context.Background(), requester, tileapi.LinkRequest{
		TargetDataSetID: target.DataSet().ID(),
		Mode:            tileapi.LinkMode("detach"),
	}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestMergeTileDataSetIntoIsOneHistoryEntry(t *testing.T) {
	svc := newReadyService(t)
	target, err := svc.CreateSharedDataSet(context.Background(), &recordingTile{id: "t1"}, "target")
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	target.DataSet().SetCaseValues([]domain.Case{{
		ID:     firstCaseID(t, target.DataSet()),
		Values: map[string]string{domain.DefaultLabel: "cat"},
	}})

	requester := &recordingTile{id: "t2"}
	source, err := svc.CreateSharedDataSet(context.Background(), requester, "mine")
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	source.DataSet().AddAttribute("vegetable")
	source.DataSet().SetCaseValues([]domain.Case{{
		ID:     firstCaseID(t, source.DataSet()),
		Values: map[string]string{"vegetable": "beet"},
	}})

	before := svc.History().Len()
	if err := svc.ConfirmLinkDialog(context.Background(), requester, tileapi.LinkRequest{
		TargetDataSetID: target.DataSet().ID(),
		Mode:            tileapi.LinkModeMerge,
	}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	if target.DataSet().CaseCount() != 2 {
		t.Fatalf("expected 2 cases after merge, got %d", target.DataSet().CaseCount())
	}
	entries := svc.History().Entries()
	if len(entries) != before+1 {
		t.Fatalf("expected one history entry for the merge, got %d new", len(entries)-before)
	}
	merged := entries[len(entries)-1]
	if merged.Operation != "merge_dataset" || len(merged.Changes) < 2 {
		t.Fatalf("unexpected merge entry: %+v", merged)
	}
}

func TestMergeMissingTargetLeavesNoHistory(t *testing.T) {
	svc := newReadyService(t)
	requester := &recordingTile{id: "t2"}
	if _, err := svc.CreateSharedDataSet(context.Background(), requester, "mine"); err != nil {
		t.Fatalf("create: %v", err)
	}
	before := svc.History().Len()
	err := svc.MergeTileDataSetInto(context.Background(), requester, "missing")
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if svc.History().Len() != before {
		t.Fatalf("failed merge polluted history")
	}
}

func TestMergeRequesterWithoutDataSet(t *testing.T) {
	svc := newReadyService(t)
	target, err := svc.CreateSharedDataSet(context.Background(), &recordingTile{id: "t1"}, "target")
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	err = svc.MergeTileDataSetInto(context.Background(), &recordingTile{id: "loner"}, target.DataSet().ID())
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not-found for sourceless requester, got %v", err)
	}
	if target.DataSet().CaseCount() != 1 {
		t.Fatalf("failed merge mutated target")
	}
}

func TestObserveRecordsMetricsTracesAndAudit(t *testing.T) {
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	audit := &captureAudit{}
	metrics := &captureMetrics{}
	tracer := &captureTracer{}
	svc := NewService(
		WithClock(frozenClock(at)),
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
	)
	if err := svc.NewDocument(context.Background(), "doc-1"); err != nil {
		t.Fatalf("new document: %v", err)
	}
	if _, err := svc.CreateSharedDataSet(context.Background(), &recordingTile{id: "t1"}, ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	if len(tracer.started) != 2 || tracer.started[1] != "create_shared_dataset" {
		t.Fatalf("unexpected spans: %v", tracer.started)
	}
	if len(tracer.ended) != 2 || tracer.ended[1] != nil {
		t.Fatalf("unexpected span outcomes: %v", tracer.ended)
	}
	if len(metrics.observations) != 2 || !metrics.observations[1].success {
		t.Fatalf("unexpected metrics: %+v", metrics.observations)
	}

	entries := audit.all()
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	created := entries[1]
	if created.Operation != "create_shared_dataset" || created.Status != AuditStatusSuccess {
		t.Fatalf("unexpected audit entry: %+v", created)
	}
	if created.Entity != domain.EntitySharedModel || created.Action != domain.ActionCreate {
		t.Fatalf("unexpected audit classification: %+v", created)
	}
	if created.EntityID == "" {
		t.Fatalf("audit entry missing entity id")
	}
	if !created.Timestamp.Equal(at) {
		t.Fatalf("audit timestamp not from clock: %v", created.Timestamp)
	}
	if created.Duration != 0 {
		t.Fatalf("frozen clock should yield zero duration, got %v", created.Duration)
	}
}

func TestObserveRecordsFailures(t *testing.T) {
	audit := &captureAudit{}
	metrics := &captureMetrics{}
	svc := newReadyService(t, WithAuditRecorder(audit), WithMetricsRecorder(metrics))

	err := svc.LinkTile(context.Background(), &recordingTile{id: "t2"}, "missing")
	if err == nil {
		t.Fatalf("expected link failure")
	}
	entries := audit.all()
	last := entries[len(entries)-1]
	if last.Operation != "link_tile" || last.Status != AuditStatusError || last.Error == "" {
		t.Fatalf("unexpected failure audit: %+v", last)
	}
	obs := metrics.observations[len(metrics.observations)-1]
	if obs.operation != "link_tile" || obs.success {
		t.Fatalf("unexpected failure metric: %+v", obs)
	}
}

func TestSaveAndLoadRequireStore(t *testing.T) {
	svc := newReadyService(t)
	if err := svc.SaveDocument(context.Background()); err == nil {
		t.Fatalf("expected error without a store")
	}
	if err := svc.LoadDocument(context.Background(), "doc-1"); err == nil {
		t.Fatalf("expected error without a store")
	}
}

func TestLoadDocumentStoreErrors(t *testing.T) {
	boom := errors.New("backend down")
	svc := NewService(WithDocumentStore(failingStore{err: boom}))
	if err := svc.LoadDocument(context.Background(), "doc-1"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}

	missing := NewService(WithDocumentStore(failingStore{}))
	if err := missing.LoadDocument(context.Background(), "doc-1"); !domain.IsNotFound(err) {
		t.Fatalf("expected not-found for absent document, got %v", err)
	}
}

func TestOpenDocumentAttachesHistorySinks(t *testing.T) {
	svc := NewService()
	snapshot := domain.DocumentSnapshot{
		ID: "doc-1",
		SharedModels: []domain.SharedModelEntrySnapshot{{
			SharedModel: domain.SharedDataSetSnapshot{
				ID:   "sm-1",
				Type: domain.SharedDataSetType,
				DataSet: domain.DataSetSnapshot{
					ID:         "ds-1",
					Attributes: []domain.AttributeSnapshot{{ID: "a1", Name: "animal", Values: []string{"cat"}}},
					Cases:      []domain.CaseSnapshot{{ID: "c1"}},
				},
			},
		}},
	}
	if err := svc.OpenDocument(context.Background(), snapshot); err != nil {
		t.Fatalf("open: %v", err)
	}
	model, ok := svc.Manager().FindDataSet("ds-1")
	if !ok {
		t.Fatalf("dataset not reconciled")
	}
	model.DataSet().AddAttribute("legs")
	if svc.History().Len() != 1 {
		t.Fatalf("edit on reloaded dataset not recorded: %d", svc.History().Len())
	}
}

func firstCaseID(t *testing.T, ds *DataSet) string {
	t.Helper()
	id, ok := ds.CaseIDFromIndex(0)
	if !ok {
		t.Fatalf("dataset has no cases")
	}
	return id
}
