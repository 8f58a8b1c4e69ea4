// Package tileapi defines the contracts between tiles and the shared-model
// synchronization core: the manager interface tiles consume, the lifecycle
// callback tiles expose, and the link/merge dialog contract.
package tileapi

// SharedModel is the document-wide identity of a model shared between tiles.
// The concrete dataset behind a shared model is owned by the core; tiles hold
// the wrapper and re-pull derived state when notified.
type SharedModel interface {
	// ModelID returns the document-wide identity of the shared model.
	ModelID() string
	// ModelType returns the registered type string (e.g. "SharedDataSet").
	ModelType() string
	// ProviderID returns the id of the tile that owns the model, or "".
	ProviderID() string
	// IndexOfType returns the per-type display index assigned by the
	// manager, or a negative value before assignment.
	IndexOfType() int
	// SetIndexOfType assigns the per-type display index.
	SetIndexOfType(index int)
}

// Tile is implemented by every tile content model that participates in
// shared-model synchronization.
type Tile interface {
	// TileID returns the tile's stable document-wide id.
	TileID() string
	// UpdateAfterSharedModelChanges is invoked by the manager whenever a
	// shared model the tile references changes shape. The model is nil when
	// the change affected the tile's association graph rather than one
	// specific model. The tile's job is to repair any locally cached
	// index or cursor into valid range.
	UpdateAfterSharedModelChanges(model SharedModel)
}

// SharedModelManager is the per-document registry brokering dataset access
// between tiles. It is the single point of truth for which shared models
// exist and which tiles reference them.
type SharedModelManager interface {
	// IsReady reports whether the manager has finished reconciling the
	// document's persisted tile/shared-model graph. Until then tiles must
	// defer any shared-model mutation.
	IsReady() bool
	// OnReady registers fn to run once the manager becomes ready; fn runs
	// immediately if the manager is already ready. This is the reactive
	// watch tiles use to drive their attachment state machine.
	OnReady(fn func())
	// FindFirstSharedModelByType returns the first shared model of the
	// given type, optionally restricted to one owned by providerID.
	// Nil is returned when no model matches.
	FindFirstSharedModelByType(modelType, providerID string) SharedModel
	// GetSharedModelsByType returns all models of the given type in
	// registration order.
	GetSharedModelsByType(modelType string) []SharedModel
	// GetTileSharedModels returns all shared models the tile references.
	GetTileSharedModels(tile Tile) []SharedModel
	// GetSharedModelTiles returns all tiles referencing the model.
	GetSharedModelTiles(model SharedModel) []Tile
	// AddTileSharedModel registers the model with the document if needed
	// and links the tile to it. Adding an existing link is a no-op.
	// domain.ErrNotReady is returned before readiness.
	AddTileSharedModel(tile Tile, model SharedModel, isProvider bool) error
	// RemoveTileSharedModel removes the tile's link to the model. Removing
	// the last reference does not delete the underlying dataset.
	RemoveTileSharedModel(tile Tile, model SharedModel)
}

// LinkMode selects the action a link dialog confirmation applies.
type LinkMode string

const (
	// LinkModeLink attaches the requesting tile to the target dataset.
	LinkModeLink LinkMode = "link"
	// LinkModeMerge merges the requesting tile's dataset into the target.
	LinkModeMerge LinkMode = "merge"
)

// LinkRequest is the confirmation payload supplied by a link/merge dialog.
// No mutation happens until the dialog confirms; cancellation leaves every
// dataset unchanged.
type LinkRequest struct {
	TargetDataSetID string
	Mode            LinkMode
}
