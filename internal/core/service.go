package core

import (
	"context"
	"fmt"
	"time"

	"tilecore/pkg/domain"
	"tilecore/pkg/tileapi"
)

// Service exposes the document-level operations around the shared-model
// registry: creating and linking shared datasets, confirming link/merge
// dialogs, and loading/saving document snapshots. Every operation is traced,
// measured, and audited through the configured recorders.
type Service struct {
	manager *SharedModelManager
	history *HistoryRecorder
	store   domain.DocumentStore

	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
}

type serviceOptions struct {
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	store   domain.DocumentStore
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:  noopLogger{},
		clock:   ClockFunc(nil),
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		audit:   noopAuditRecorder{},
	}
}

// ServiceOption customizes service construction.
type ServiceOption func(*serviceOptions)

// WithLogger supplies a structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the service clock, usually for deterministic tests.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMetricsRecorder supplies an operation metrics recorder.
func WithMetricsRecorder(metrics MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithTracer supplies an operation tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder supplies an audit sink.
func WithAuditRecorder(audit AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if audit != nil {
			o.audit = audit
		}
	}
}

// WithDocumentStore wires a persistence backend for Save/LoadDocument.
func WithDocumentStore(store domain.DocumentStore) ServiceOption {
	return func(o *serviceOptions) {
		o.store = store
	}
}

// NewService constructs a service with a fresh manager and history recorder.
func NewService(opts ...ServiceOption) *Service {
	options := defaultServiceOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		manager: NewSharedModelManager(options.logger),
		history: NewHistoryRecorder(),
		store:   options.store,
		logger:  options.logger,
		clock:   options.clock,
		metrics: options.metrics,
		tracer:  options.tracer,
		audit:   options.audit,
	}
}

// Manager returns the shared-model registry.
func (s *Service) Manager() *SharedModelManager {
	return s.manager
}

// History returns the undoable change recorder.
func (s *Service) History() *HistoryRecorder {
	return s.history
}

// NewDocument initializes an empty document and readies the manager.
func (s *Service) NewDocument(ctx context.Context, id string) error {
	return s.observe(ctx, "open_document", func(context.Context) (string, error) {
		return id, s.manager.SetDocument(domain.DocumentSnapshot{ID: id})
	})
}

// OpenDocument reconciles a loaded document snapshot and readies the manager.
// History sinks are attached to every reconciled dataset so subsequent edits
// are undoable.
func (s *Service) OpenDocument(ctx context.Context, snapshot domain.DocumentSnapshot) error {
	return s.observe(ctx, "open_document", func(context.Context) (string, error) {
		if err := s.manager.SetDocument(snapshot); err != nil {
			return snapshot.ID, err
		}
		s.attachHistorySinks()
		return snapshot.ID, nil
	})
}

// LoadDocument fetches a document from the configured store and opens it.
func (s *Service) LoadDocument(ctx context.Context, id string) error {
	return s.observe(ctx, "load_document", func(ctx context.Context) (string, error) {
		if s.store == nil {
			return id, fmt.Errorf("no document store configured")
		}
		snapshot, ok, err := s.store.LoadDocument(ctx, id)
		if err != nil {
			return id, fmt.Errorf("load document %s: %w", id, err)
		}
		if !ok {
			return id, domain.NotFoundError{Entity: domain.EntityDocument, ID: id}
		}
		if err := s.manager.SetDocument(snapshot); err != nil {
			return id, err
		}
		s.attachHistorySinks()
		return id, nil
	})
}

// SaveDocument serializes the current graph into the configured store.
func (s *Service) SaveDocument(ctx context.Context) error {
	return s.observe(ctx, "save_document", func(ctx context.Context) (string, error) {
		if s.store == nil {
			return "", fmt.Errorf("no document store configured")
		}
		snapshot := s.manager.DocumentSnapshot()
		if err := s.store.SaveDocument(ctx, snapshot); err != nil {
			return snapshot.ID, fmt.Errorf("save document %s: %w", snapshot.ID, err)
		}
		return snapshot.ID, nil
	})
}

// CreateSharedDataSet creates a default-content shared dataset owned by the
// provider tile, registers it, and links the tile. An empty name gets the
// first unused "Data <n>" title among registered datasets.
func (s *Service) CreateSharedDataSet(ctx context.Context, provider tileapi.Tile, name string) (*SharedDataSet, error) {
	var created *SharedDataSet
	err := s.observe(ctx, "create_shared_dataset", func(context.Context) (string, error) {
		if provider == nil {
			return "", domain.ValidationError{Entity: domain.EntitySharedModel, Field: "provider", Reason: "provider tile required"}
		}
		if name == "" {
			name = UniqueTitle("Data", s.dataSetNameTaken)
		}
		model := NewSharedDataSet("", provider.TileID(), name)
		model.DataSet().SetHistorySink(s.history)
		if err := s.manager.AddTileSharedModel(provider, model, true); err != nil {
			return "", err
		}
		created = model
		return model.ModelID(), nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// linkState is the replayable payload for link and unlink history entries.
type linkState struct {
	TileID  string `json:"tile_id"`
	ModelID string `json:"model_id"`
}

// LinkTile attaches a consumer tile to the shared dataset wrapping
// dataSetID. The linkage is recorded as an undoable history entry.
func (s *Service) LinkTile(ctx context.Context, tile tileapi.Tile, dataSetID string) error {
	return s.observe(ctx, "link_tile", func(context.Context) (string, error) {
		model, ok := s.manager.FindDataSet(dataSetID)
		if !ok {
			return dataSetID, domain.NotFoundError{Entity: domain.EntityDataSet, ID: dataSetID}
		}
		if err := s.manager.AddTileSharedModel(tile, model, false); err != nil {
			return model.ModelID(), err
		}
		payload, _ := domain.NewChangePayloadFromValue(domain.ChangeState{
			After: linkState{TileID: tile.TileID(), ModelID: model.ModelID()},
		})
		s.history.Record(domain.Change{
			Entity:    domain.EntitySharedModel,
			Action:    domain.ActionLink,
			EntityID:  model.ModelID(),
			DataSetID: dataSetID,
			Payload:   payload,
		})
		return model.ModelID(), nil
	})
}

// UnlinkTile removes a consumer tile's association with the shared dataset.
// The dataset survives while any other tile references it.
func (s *Service) UnlinkTile(ctx context.Context, tile tileapi.Tile, dataSetID string) error {
	return s.observe(ctx, "unlink_tile", func(context.Context) (string, error) {
		model, ok := s.manager.FindDataSet(dataSetID)
		if !ok {
			return dataSetID, domain.NotFoundError{Entity: domain.EntityDataSet, ID: dataSetID}
		}
		s.manager.RemoveTileSharedModel(tile, model)
		payload, _ := domain.NewChangePayloadFromValue(domain.ChangeState{
			Before: linkState{TileID: tile.TileID(), ModelID: model.ModelID()},
		})
		s.history.Record(domain.Change{
			Entity:    domain.EntitySharedModel,
			Action:    domain.ActionUnlink,
			EntityID:  model.ModelID(),
			DataSetID: dataSetID,
			Payload:   payload,
		})
		return model.ModelID(), nil
	})
}

// ConfirmLinkDialog applies a confirmed link/merge dialog request for the
// requesting tile. Cancelled dialogs never reach the service, so reaching
// here means mutate; failure applies nothing.
func (s *Service) ConfirmLinkDialog(ctx context.Context, tile tileapi.Tile, req tileapi.LinkRequest) error {
	switch req.Mode {
	case tileapi.LinkModeLink:
		return s.LinkTile(ctx, tile, req.TargetDataSetID)
	case tileapi.LinkModeMerge:
		return s.MergeTileDataSetInto(ctx, tile, req.TargetDataSetID)
	default:
		return domain.ValidationError{Entity: domain.EntitySharedModel, Field: "mode", Reason: fmt.Sprintf("unknown link mode %q", req.Mode)}
	}
}

// MergeTileDataSetInto merges the requesting tile's own dataset into the
// target dataset. The whole merge lands in one history entry so the host can
// undo it as a unit. A missing source or target aborts with zero mutation.
func (s *Service) MergeTileDataSetInto(ctx context.Context, tile tileapi.Tile, targetDataSetID string) error {
	return s.observe(ctx, "merge_dataset", func(context.Context) (string, error) {
		target, ok := s.manager.FindDataSet(targetDataSetID)
		if !ok {
			return targetDataSetID, domain.NotFoundError{Entity: domain.EntityDataSet, ID: targetDataSetID}
		}
		var source *SharedDataSet
		for _, model := range s.manager.GetTileSharedModels(tile) {
			if shared, isDataSet := model.(*SharedDataSet); isDataSet {
				source = shared
				break
			}
		}
		if source == nil {
			return targetDataSetID, domain.NotFoundError{Entity: domain.EntityDataSet, ID: tile.TileID()}
		}
		s.history.BeginEntry("merge_dataset")
		defer s.history.EndEntry()
		return target.DataSet().ID(), MergeDataSets(target.DataSet(), source.DataSet().Snapshot())
	})
}

func (s *Service) dataSetNameTaken(candidate string) bool {
	for _, model := range s.manager.GetSharedModelsByType(domain.SharedDataSetType) {
		if model.(*SharedDataSet).Name() == candidate {
			return true
		}
	}
	return false
}

func (s *Service) attachHistorySinks() {
	for _, model := range s.manager.GetSharedModelsByType(domain.SharedDataSetType) {
		model.(*SharedDataSet).DataSet().SetHistorySink(s.history)
	}
}

// observe wraps an operation with tracing, metrics, logging, and auditing.
// fn returns the entity id its audit entry should carry.
func (s *Service) observe(ctx context.Context, op string, fn func(context.Context) (string, error)) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	entityID, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "entity", entityID, "error", err)
		s.recordAudit(ctx, op, entityID, AuditStatusError, err, duration)
		return err
	}
	s.logger.Debug("operation completed", "operation", op, "entity", entityID)
	s.recordAuditSuccess(ctx, op, entityID, duration)
	return nil
}

// auditableOperations maps operation names to the entity and action recorded
// in their audit entries. Operations outside the table are not audited.
var auditableOperations = map[string]struct {
	entity domain.EntityType
	action domain.Action
}{
	"open_document":         {domain.EntityDocument, domain.ActionUpdate},
	"load_document":         {domain.EntityDocument, domain.ActionUpdate},
	"save_document":         {domain.EntityDocument, domain.ActionUpdate},
	"create_shared_dataset": {domain.EntitySharedModel, domain.ActionCreate},
	"link_tile":             {domain.EntitySharedModel, domain.ActionLink},
	"unlink_tile":           {domain.EntitySharedModel, domain.ActionUnlink},
	"merge_dataset":         {domain.EntityDataSet, domain.ActionMerge},
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, status AuditStatus, err error, duration time.Duration) {
	meta, known := auditableOperations[op]
	if !known {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    status,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// recordAuditSuccess records a success entry for a known operation.
func (s *Service) recordAuditSuccess(ctx context.Context, op, entityID string, duration time.Duration) {
	s.recordAudit(ctx, op, entityID, AuditStatusSuccess, nil, duration)
}
