package tileapi

import "sync"

// AttachState enumerates the phases of a tile's shared-model attachment.
type AttachState string

const (
	// AttachStateUnattached means the tile holds no shared model and has
	// not yet begun waiting on the manager.
	AttachStateUnattached AttachState = "unattached"
	// AttachStateWaitingForReady means the tile needs a model but the
	// manager has not finished reconciling the loaded document.
	AttachStateWaitingForReady AttachState = "waiting_for_ready"
	// AttachStateAttached means the tile is linked to its shared model.
	AttachStateAttached AttachState = "attached"
)

// Attacher drives a tile's readiness-gated attachment to a shared model.
// Reevaluate is safe to call on every relevant input change: it acts only
// once the manager is ready and the model reference is resolved, and
// re-running it after attachment is a no-op. A tile that skipped this gate
// and created a model prematurely would risk creating a duplicate instead of
// attaching to the persisted one.
type Attacher struct {
	mu         sync.Mutex
	manager    SharedModelManager
	tile       Tile
	modelType  string
	providerID string
	isProvider bool
	create     func() SharedModel
	state      AttachState
	model      SharedModel
}

// NewAttacher builds an attacher for tile. providerID restricts discovery to
// a model owned by that tile ("" matches any provider). create, when
// non-nil, is invoked to build a fresh model if discovery finds none; the
// attacher then links the tile as the model's provider.
func NewAttacher(manager SharedModelManager, tile Tile, modelType, providerID string, create func() SharedModel) *Attacher {
	return &Attacher{
		manager:    manager,
		tile:       tile,
		modelType:  modelType,
		providerID: providerID,
		isProvider: create != nil,
		create:     create,
		state:      AttachStateUnattached,
	}
}

// State returns the current attachment phase.
func (a *Attacher) State() AttachState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Model returns the attached shared model, or nil before attachment.
func (a *Attacher) Model() SharedModel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

// Start registers the attacher with the manager's readiness watch and runs
// an initial evaluation.
func (a *Attacher) Start() {
	a.manager.OnReady(func() { a.Reevaluate() })
	a.Reevaluate()
}

// Reevaluate advances the state machine:
//
//	Unattached -> WaitingForReady -> Attached
//
// The transition into Attached is idempotent; once attached the call returns
// immediately without side effects.
func (a *Attacher) Reevaluate() AttachState {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == AttachStateAttached {
		return a.state
	}
	if !a.manager.IsReady() {
		a.state = AttachStateWaitingForReady
		return a.state
	}

	model := a.manager.FindFirstSharedModelByType(a.modelType, a.providerID)
	if model == nil && a.create != nil {
		model = a.create()
	}
	if model == nil {
		a.state = AttachStateUnattached
		return a.state
	}
	if err := a.manager.AddTileSharedModel(a.tile, model, a.isProvider); err != nil {
		// Readiness flipped between the check and the attach; stay in the
		// waiting state and let the next watch invocation retry.
		a.state = AttachStateWaitingForReady
		return a.state
	}
	a.model = model
	a.state = AttachStateAttached
	return a.state
}
