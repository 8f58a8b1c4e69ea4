// Package snapshots exports dataset snapshots as downloadable artifacts. A
// background worker renders requested formats and persists them to a blob
// store under exports/<dataset-id>/<export-id>.<ext>.
package snapshots

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tilecore/internal/blob"
	"tilecore/pkg/domain"
)

// Format identifies an export rendition.
type Format string

const (
	// FormatJSON renders the full dataset snapshot as JSON.
	FormatJSON Format = "json"
	// FormatCSV renders attributes as columns and cases as rows.
	FormatCSV Format = "csv"
)

// ExportStatus describes the lifecycle stage of an export request.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

// ExportArtifact captures one stored rendition.
type ExportArtifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExportRecord tracks an export request and its resulting artifacts.
type ExportRecord struct {
	ID          string           `json:"id"`
	DataSetID   string           `json:"dataset_id"`
	Formats     []Format         `json:"formats"`
	Status      ExportStatus     `json:"status"`
	Error       string           `json:"error,omitempty"`
	Artifacts   []ExportArtifact `json:"artifacts,omitempty"`
	RequestedBy string           `json:"requested_by"`
	Reason      string           `json:"reason,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func (r ExportRecord) copy() ExportRecord {
	out := r
	out.Formats = append([]Format(nil), r.Formats...)
	out.Artifacts = append([]ExportArtifact(nil), r.Artifacts...)
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

// ExportInput is an enqueue request.
type ExportInput struct {
	DataSetID   string
	Formats     []Format
	RequestedBy string
	Reason      string
}

// SnapshotSource resolves the serialized dataset to export.
type SnapshotSource interface {
	DataSetSnapshotByID(id string) (domain.DataSetSnapshot, bool)
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures audit trail metadata for exports.
type AuditEntry struct {
	ID         string       `json:"id"`
	Action     string       `json:"action"`
	Actor      string       `json:"actor"`
	DataSetID  string       `json:"dataset_id"`
	Status     ExportStatus `json:"status"`
	Reason     string       `json:"reason,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Worker executes dataset exports asynchronously.
type Worker struct {
	source SnapshotSource
	store  blob.Store
	audit  AuditLogger

	queue chan exportTask
	mu    sync.RWMutex
	jobs  map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type exportTask struct {
	id    string
	input ExportInput
}

// NewWorker constructs an export worker.
func NewWorker(source SnapshotSource, store blob.Store, audit AuditLogger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source: source,
		store:  store,
		audit:  audit,
		queue:  make(chan exportTask, 32),
		jobs:   make(map[string]*ExportRecord),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

// EnqueueExport schedules an export job and returns the queued record.
func (w *Worker) EnqueueExport(ctx context.Context, input ExportInput) (ExportRecord, error) {
	if w.source == nil {
		return ExportRecord{}, fmt.Errorf("snapshot source not configured")
	}
	if strings.TrimSpace(input.DataSetID) == "" {
		return ExportRecord{}, fmt.Errorf("dataset id required")
	}
	if _, ok := w.source.DataSetSnapshotByID(input.DataSetID); !ok {
		return ExportRecord{}, domain.NotFoundError{Entity: domain.EntityDataSet, ID: input.DataSetID}
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, format := range formats {
		if _, dup := seen[format]; dup {
			continue
		}
		if format != FormatJSON && format != FormatCSV {
			return ExportRecord{}, fmt.Errorf("unsupported export format %s", format)
		}
		uniq = append(uniq, format)
		seen[format] = struct{}{}
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	record := ExportRecord{
		ID:          id,
		DataSetID:   input.DataSetID,
		Formats:     uniq,
		Status:      ExportStatusQueued,
		RequestedBy: input.RequestedBy,
		Reason:      input.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	queued := record.copy()
	w.mu.Unlock()

	w.recordAudit(ctx, input, ExportStatusQueued)

	select {
	case w.queue <- exportTask{id: id, input: input}:
	default:
		return ExportRecord{}, fmt.Errorf("export queue full")
	}
	return queued, nil
}

// GetExport returns a snapshot of the export record.
func (w *Worker) GetExport(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(task exportTask) {
	snapshot, ok := w.source.DataSetSnapshotByID(task.input.DataSetID)
	if !ok {
		w.fail(task, fmt.Sprintf("dataset %s missing", task.input.DataSetID))
		return
	}
	w.updateStatus(task.id, ExportStatusRunning, "")

	w.mu.RLock()
	record, ok := w.jobs[task.id]
	if !ok {
		w.mu.RUnlock()
		return
	}
	formats := append([]Format(nil), record.Formats...)
	w.mu.RUnlock()

	artifacts := make([]ExportArtifact, 0, len(formats))
	for _, format := range formats {
		payload, contentType, err := render(snapshot, format)
		if err != nil {
			w.fail(task, err.Error())
			return
		}
		key := fmt.Sprintf("exports/%s/%s.%s", snapshot.ID, task.id, format)
		info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: contentType})
		if err != nil {
			w.fail(task, fmt.Sprintf("store artifact failed: %v", err))
			return
		}
		artifacts = append(artifacts, ExportArtifact{
			Key:         info.Key,
			Format:      format,
			ContentType: contentType,
			SizeBytes:   info.Size,
			URL:         info.URL,
			CreatedAt:   info.LastModified,
		})
	}

	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[task.id]; ok {
		record.Status = ExportStatusSucceeded
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, task.input, ExportStatusSucceeded)
}

func (w *Worker) fail(task exportTask, reason string) {
	w.updateStatus(task.id, ExportStatusFailed, reason)
	w.recordAudit(w.ctx, task.input, ExportStatusFailed)
}

func (w *Worker) updateStatus(id string, status ExportStatus, errMsg string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = errMsg
		record.UpdatedAt = now
		if status == ExportStatusFailed {
			record.CompletedAt = &now
		}
	}
	w.mu.Unlock()
}

func (w *Worker) recordAudit(ctx context.Context, input ExportInput, status ExportStatus) {
	if w.audit == nil {
		return
	}
	w.audit.Record(ctx, AuditEntry{
		ID:         uuid.NewString(),
		Action:     "snapshot_export",
		Actor:      input.RequestedBy,
		DataSetID:  input.DataSetID,
		Status:     status,
		Reason:     input.Reason,
		OccurredAt: time.Now().UTC(),
	})
}

func render(snapshot domain.DataSetSnapshot, format Format) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		payload, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("encode json: %w", err)
		}
		return payload, "application/json", nil
	case FormatCSV:
		var buf bytes.Buffer
		writer := csv.NewWriter(&buf)
		header := make([]string, 0, len(snapshot.Attributes)+1)
		header = append(header, "case_id")
		for _, attr := range snapshot.Attributes {
			header = append(header, attr.Name)
		}
		if err := writer.Write(header); err != nil {
			return nil, "", fmt.Errorf("encode csv: %w", err)
		}
		for row, c := range snapshot.Cases {
			record := make([]string, 0, len(header))
			record = append(record, c.ID)
			for _, attr := range snapshot.Attributes {
				record = append(record, attr.Values[row])
			}
			if err := writer.Write(record); err != nil {
				return nil, "", fmt.Errorf("encode csv: %w", err)
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return nil, "", fmt.Errorf("encode csv: %w", err)
		}
		return buf.Bytes(), "text/csv", nil
	default:
		return nil, "", fmt.Errorf("unsupported export format %s", format)
	}
}
