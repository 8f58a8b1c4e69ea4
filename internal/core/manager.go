package core

import (
	"sync"

	"tilecore/pkg/domain"
	"tilecore/pkg/tileapi"
)

// SharedModelManager is the per-document registry mapping tiles to shared
// models. The association graph is owned here — two adjacency maps, not
// back-references inside tiles or models — so neither endpoint carries
// ownership cycles.
//
// The manager starts unready. Until a document snapshot has been reconciled
// via SetDocument, shared-model mutations are refused with
// domain.ErrNotReady; tiles defer through their attacher and retry when the
// readiness watch fires.
type SharedModelManager struct {
	mu              sync.RWMutex
	logger          Logger
	documentID      string
	ready           bool
	readyWatchers   []func()
	models          map[string]*SharedDataSet
	modelOrder      []string
	tilesByModel    map[string][]string
	modelsByTile    map[string][]string
	providerByModel map[string]string
	tiles           map[string]tileapi.Tile
}

var _ tileapi.SharedModelManager = (*SharedModelManager)(nil)

// NewSharedModelManager constructs an unready manager. A nil logger is
// replaced with a no-op.
func NewSharedModelManager(logger Logger) *SharedModelManager {
	if logger == nil {
		logger = noopLogger{}
	}
	return &SharedModelManager{
		logger:          logger,
		models:          make(map[string]*SharedDataSet),
		tilesByModel:    make(map[string][]string),
		modelsByTile:    make(map[string][]string),
		providerByModel: make(map[string]string),
		tiles:           make(map[string]tileapi.Tile),
	}
}

// IsReady reports whether the persisted tile/shared-model graph has been
// reconciled.
func (m *SharedModelManager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// OnReady registers fn on the readiness watch. It runs immediately when the
// manager is already ready, otherwise once after SetDocument completes.
func (m *SharedModelManager) OnReady(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	if !m.ready {
		m.readyWatchers = append(m.readyWatchers, fn)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	fn()
}

// DocumentID returns the id of the reconciled document, or "" before
// readiness.
func (m *SharedModelManager) DocumentID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.documentID
}

// SetDocument reconciles a loaded document's persisted graph and flips the
// manager ready. Models present in the snapshot are registered with their
// persisted tile links so that tiles mounting afterwards attach to the
// persisted model instead of creating a duplicate.
func (m *SharedModelManager) SetDocument(snapshot domain.DocumentSnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.documentID = snapshot.ID
	for _, entry := range snapshot.SharedModels {
		model, err := SharedDataSetFromSnapshot(entry.SharedModel)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.registerModelLocked(model)
		providerID := entry.ProviderID
		if providerID == "" {
			providerID = model.ProviderID()
		}
		if providerID != "" {
			m.providerByModel[model.ModelID()] = providerID
		}
		for _, tileID := range entry.TileIDs {
			m.linkLocked(tileID, model.ModelID())
		}
	}
	for _, id := range m.modelOrder {
		m.assignIndexOfTypeLocked(m.models[id])
	}
	m.ready = true
	watchers := m.readyWatchers
	m.readyWatchers = nil
	m.mu.Unlock()
	for _, fn := range watchers {
		fn()
	}
	return nil
}

// FindFirstSharedModelByType returns the first registered model of the given
// type, restricted to one owned by providerID when non-empty.
func (m *SharedModelManager) FindFirstSharedModelByType(modelType, providerID string) tileapi.SharedModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.modelOrder {
		model := m.models[id]
		if model.ModelType() != modelType {
			continue
		}
		if providerID != "" && m.providerByModel[id] != providerID {
			continue
		}
		return model
	}
	return nil
}

// GetSharedModelsByType returns all models of the given type in registration
// order.
func (m *SharedModelManager) GetSharedModelsByType(modelType string) []tileapi.SharedModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var models []tileapi.SharedModel
	for _, id := range m.modelOrder {
		if model := m.models[id]; model.ModelType() == modelType {
			models = append(models, model)
		}
	}
	return models
}

// FindDataSet resolves a shared dataset by the wrapped dataset's id.
func (m *SharedModelManager) FindDataSet(dataSetID string) (*SharedDataSet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.modelOrder {
		model := m.models[id]
		if model.DataSet().ID() == dataSetID {
			return model, true
		}
	}
	return nil, false
}

// GetTileSharedModels returns the shared models the tile references, as
// provider or consumer, in link order.
func (m *SharedModelManager) GetTileSharedModels(tile tileapi.Tile) []tileapi.SharedModel {
	if tile == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var models []tileapi.SharedModel
	for _, modelID := range m.modelsByTile[tile.TileID()] {
		if model, ok := m.models[modelID]; ok {
			models = append(models, model)
		}
	}
	return models
}

// GetSharedModelTiles returns the live tiles referencing the model, in link
// order. Persisted links whose tile has not mounted are omitted; use
// GetSharedModelTileIDs for the full association list.
func (m *SharedModelManager) GetSharedModelTiles(model tileapi.SharedModel) []tileapi.Tile {
	if model == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var tiles []tileapi.Tile
	for _, tileID := range m.tilesByModel[model.ModelID()] {
		if tile, ok := m.tiles[tileID]; ok {
			tiles = append(tiles, tile)
		}
	}
	return tiles
}

// GetSharedModelTileIDs returns every tile id linked to the model,
// mounted or not.
func (m *SharedModelManager) GetSharedModelTileIDs(model tileapi.SharedModel) []string {
	if model == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.tilesByModel[model.ModelID()]...)
}

// AddSharedModel registers a model with the document without linking any
// tile. Registration is idempotent.
func (m *SharedModelManager) AddSharedModel(model *SharedDataSet) error {
	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		m.logger.Warn("addSharedModel before manager ready", "model", model.ModelID())
		return domain.ErrNotReady
	}
	m.registerModelLocked(model)
	m.assignIndexOfTypeLocked(model)
	m.mu.Unlock()
	return nil
}

// AddTileSharedModel registers the model if needed and links the tile to it.
// Linking an already-linked pair is a no-op. The tile is notified through
// its lifecycle callback, along with every other tile linked to the model.
func (m *SharedModelManager) AddTileSharedModel(tile tileapi.Tile, model tileapi.SharedModel, isProvider bool) error {
	if tile == nil || model == nil {
		return domain.ValidationError{Entity: domain.EntitySharedModel, Field: "link", Reason: "tile and model required"}
	}
	shared, ok := model.(*SharedDataSet)
	if !ok {
		return domain.ValidationError{Entity: domain.EntitySharedModel, ID: model.ModelID(), Field: "type", Reason: "unsupported shared model implementation"}
	}
	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		m.logger.Warn("addTileSharedModel before manager ready", "tile", tile.TileID(), "model", model.ModelID())
		return domain.ErrNotReady
	}
	m.registerModelLocked(shared)
	m.assignIndexOfTypeLocked(shared)
	tileID := tile.TileID()
	modelID := shared.ModelID()
	m.tiles[tileID] = tile
	if isProvider {
		m.providerByModel[modelID] = tileID
		shared.SetProviderID(tileID)
	}
	if m.isLinkedLocked(tileID, modelID) {
		m.mu.Unlock()
		return nil
	}
	m.linkLocked(tileID, modelID)
	affected := m.linkedTilesLocked(modelID)
	m.mu.Unlock()

	m.logger.Debug("tile linked to shared model", "tile", tileID, "model", modelID, "provider", isProvider)
	for _, t := range affected {
		t.UpdateAfterSharedModelChanges(shared)
	}
	return nil
}

// RemoveTileSharedModel removes the tile's link to the model. The model — and
// its dataset — survives as long as any other tile still references it;
// deleting an orphaned model is the caller's explicit decision via
// RemoveSharedModel.
func (m *SharedModelManager) RemoveTileSharedModel(tile tileapi.Tile, model tileapi.SharedModel) {
	if tile == nil || model == nil {
		return
	}
	m.mu.Lock()
	tileID := tile.TileID()
	modelID := model.ModelID()
	if _, known := m.models[modelID]; !known || !m.isLinkedLocked(tileID, modelID) {
		m.mu.Unlock()
		m.logger.Warn("removeTileSharedModel for unknown association", "tile", tileID, "model", modelID)
		return
	}
	m.tilesByModel[modelID] = removeString(m.tilesByModel[modelID], tileID)
	m.modelsByTile[tileID] = removeString(m.modelsByTile[tileID], modelID)
	shared := m.models[modelID]
	affected := m.linkedTilesLocked(modelID)
	m.mu.Unlock()

	m.logger.Debug("tile unlinked from shared model", "tile", tileID, "model", modelID)
	tile.UpdateAfterSharedModelChanges(shared)
	for _, t := range affected {
		t.UpdateAfterSharedModelChanges(shared)
	}
}

// RemoveSharedModel tears the model out of the document: all links are
// dropped and the per-type indices of the remaining models are compacted to
// stay contiguous. Previously linked tiles are notified with a nil model.
func (m *SharedModelManager) RemoveSharedModel(model tileapi.SharedModel) {
	if model == nil {
		return
	}
	m.mu.Lock()
	modelID := model.ModelID()
	shared, known := m.models[modelID]
	if !known {
		m.mu.Unlock()
		return
	}
	affected := m.linkedTilesLocked(modelID)
	for _, tileID := range m.tilesByModel[modelID] {
		m.modelsByTile[tileID] = removeString(m.modelsByTile[tileID], modelID)
	}
	delete(m.tilesByModel, modelID)
	delete(m.providerByModel, modelID)
	delete(m.models, modelID)
	m.modelOrder = removeString(m.modelOrder, modelID)
	shared.DataSet().RemoveListener(managerListenerKey(modelID))
	// Compact per-type indices so link indicators stay contiguous.
	index := 0
	for _, id := range m.modelOrder {
		remaining := m.models[id]
		if remaining.ModelType() == shared.ModelType() {
			remaining.SetIndexOfType(index)
			index++
		}
	}
	m.mu.Unlock()

	for _, t := range affected {
		t.UpdateAfterSharedModelChanges(nil)
	}
}

// DataSetSnapshotByID serializes one registered dataset, resolved by the
// wrapped dataset's id. Export tooling reads through this.
func (m *SharedModelManager) DataSetSnapshotByID(dataSetID string) (domain.DataSetSnapshot, bool) {
	model, ok := m.FindDataSet(dataSetID)
	if !ok {
		return domain.DataSetSnapshot{}, false
	}
	return model.DataSet().Snapshot(), true
}

// DocumentSnapshot serializes the current graph for persistence.
func (m *SharedModelManager) DocumentSnapshot() domain.DocumentSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := domain.DocumentSnapshot{ID: m.documentID}
	for _, id := range m.modelOrder {
		model := m.models[id]
		snapshot.SharedModels = append(snapshot.SharedModels, domain.SharedModelEntrySnapshot{
			SharedModel: model.Snapshot(),
			ProviderID:  m.providerByModel[id],
			TileIDs:     append([]string(nil), m.tilesByModel[id]...),
		})
	}
	return snapshot
}

func (m *SharedModelManager) registerModelLocked(model *SharedDataSet) {
	id := model.ModelID()
	if _, exists := m.models[id]; exists {
		return
	}
	m.models[id] = model
	m.modelOrder = append(m.modelOrder, id)
	if provider := model.ProviderID(); provider != "" {
		m.providerByModel[id] = provider
	}
	// Relay dataset changes to every linked tile's lifecycle callback.
	model.DataSet().AddListener(managerListenerKey(id), func(change domain.Change) {
		m.relayModelChange(model, change)
	})
}

func (m *SharedModelManager) relayModelChange(model *SharedDataSet, change domain.Change) {
	// Selection tokens fan out through dataset listeners directly; the
	// lifecycle callback is for shape changes tiles must repair cursors for.
	if change.Action == domain.ActionSelect {
		return
	}
	m.mu.RLock()
	tiles := m.linkedTilesLocked(model.ModelID())
	m.mu.RUnlock()
	for _, t := range tiles {
		t.UpdateAfterSharedModelChanges(model)
	}
}

// assignIndexOfTypeLocked gives the model the first unused per-type index,
// matching how persisted documents keep indicator colors stable.
func (m *SharedModelManager) assignIndexOfTypeLocked(model *SharedDataSet) {
	if model.IndexOfType() >= 0 {
		return
	}
	used := make(map[int]struct{})
	for _, id := range m.modelOrder {
		other := m.models[id]
		if other.ModelType() == model.ModelType() && other.IndexOfType() >= 0 {
			used[other.IndexOfType()] = struct{}{}
		}
	}
	for i := 0; ; i++ {
		if _, taken := used[i]; !taken {
			model.SetIndexOfType(i)
			return
		}
	}
}

func (m *SharedModelManager) isLinkedLocked(tileID, modelID string) bool {
	for _, id := range m.tilesByModel[modelID] {
		if id == tileID {
			return true
		}
	}
	return false
}

func (m *SharedModelManager) linkLocked(tileID, modelID string) {
	if m.isLinkedLocked(tileID, modelID) {
		return
	}
	m.tilesByModel[modelID] = append(m.tilesByModel[modelID], tileID)
	m.modelsByTile[tileID] = append(m.modelsByTile[tileID], modelID)
}

func (m *SharedModelManager) linkedTilesLocked(modelID string) []tileapi.Tile {
	var tiles []tileapi.Tile
	for _, tileID := range m.tilesByModel[modelID] {
		if tile, ok := m.tiles[tileID]; ok {
			tiles = append(tiles, tile)
		}
	}
	return tiles
}

func managerListenerKey(modelID string) string {
	return "sharedModelManager:" + modelID
}

func removeString(list []string, value string) []string {
	for i, v := range list {
		if v == value {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
