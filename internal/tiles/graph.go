package tiles

import (
	"sync"

	"tilecore/internal/core"
	"tilecore/pkg/tileapi"
)

// GraphTile is a plot-style consumer that may link to several shared
// datasets at once. Each link carries its own x/y attribute role bindings
// and a color-coded indicator index; indices always stay contiguous over the
// current links, so unlinking the middle dataset renumbers the rest.
type GraphTile struct {
	mu      sync.Mutex
	id      string
	manager tileapi.SharedModelManager
	links   []*graphLink
}

type graphLink struct {
	model   *core.SharedDataSet
	xAttrID string
	yAttrID string
}

// GraphPoint is one plotted case.
type GraphPoint struct {
	CaseID   string
	X, Y     float64
	Valid    bool
	Selected bool
}

var _ tileapi.Tile = (*GraphTile)(nil)

// NewGraphTile constructs an unlinked graph tile. Datasets are attached
// through the link dialog, never created by the graph itself.
func NewGraphTile(id string, manager tileapi.SharedModelManager) *GraphTile {
	return &GraphTile{id: id, manager: manager}
}

// TileID returns the tile's document-wide id.
func (g *GraphTile) TileID() string {
	return g.id
}

// UpdateAfterSharedModelChanges reconciles the graph's link list against the
// manager's association graph: new links get default attribute bindings,
// removed links disappear and the remaining indicator indices compact, and
// bindings whose attribute was deleted are rebound.
func (g *GraphTile) UpdateAfterSharedModelChanges(tileapi.SharedModel) {
	current := g.manager.GetTileSharedModels(g)
	g.mu.Lock()
	defer g.mu.Unlock()

	byModel := make(map[string]*graphLink, len(g.links))
	for _, link := range g.links {
		byModel[link.model.ModelID()] = link
	}
	next := make([]*graphLink, 0, len(current))
	for _, model := range current {
		shared, ok := model.(*core.SharedDataSet)
		if !ok {
			continue
		}
		link, exists := byModel[shared.ModelID()]
		if !exists {
			link = &graphLink{model: shared}
		}
		g.repairBindingsLocked(link)
		next = append(next, link)
	}
	g.links = next
}

// repairBindingsLocked defaults or rebinds the link's x/y roles: a missing or
// deleted binding takes the first attribute not already used by the other
// role.
func (g *GraphTile) repairBindingsLocked(link *graphLink) {
	ds := link.model.DataSet()
	valid := func(id string) bool {
		if id == "" {
			return false
		}
		_, ok := ds.AttrName(id)
		return ok
	}
	firstUnused := func(exclude string) string {
		for _, id := range ds.AttributeIDs() {
			if id != exclude {
				return id
			}
		}
		return ""
	}
	if !valid(link.xAttrID) {
		link.xAttrID = firstUnused(link.yAttrID)
	}
	if !valid(link.yAttrID) {
		link.yAttrID = firstUnused(link.xAttrID)
	}
}

// LinkCount returns the number of linked datasets.
func (g *GraphTile) LinkCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.links)
}

// LinkIndicatorIndex returns the contiguous indicator index of the link to
// dataSetID, or -1 when not linked.
func (g *GraphTile) LinkIndicatorIndex(dataSetID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, link := range g.links {
		if link.model.DataSet().ID() == dataSetID {
			return i
		}
	}
	return -1
}

// Bindings returns the x/y attribute ids bound for dataSetID.
func (g *GraphTile) Bindings(dataSetID string) (xAttrID, yAttrID string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	link := g.linkForLocked(dataSetID)
	if link == nil {
		return "", "", false
	}
	return link.xAttrID, link.yAttrID, true
}

// SetXBinding assigns the x role for dataSetID. Unknown attributes are
// rejected silently; the existing binding stays.
func (g *GraphTile) SetXBinding(dataSetID, attrID string) {
	g.setBinding(dataSetID, attrID, true)
}

// SetYBinding assigns the y role for dataSetID.
func (g *GraphTile) SetYBinding(dataSetID, attrID string) {
	g.setBinding(dataSetID, attrID, false)
}

func (g *GraphTile) setBinding(dataSetID, attrID string, x bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	link := g.linkForLocked(dataSetID)
	if link == nil {
		return
	}
	if _, ok := link.model.DataSet().AttrName(attrID); !ok {
		return
	}
	if x {
		link.xAttrID = attrID
	} else {
		link.yAttrID = attrID
	}
}

// Points derives the plotted points for dataSetID from the current bindings.
// Cases whose bound values do not parse numerically come back with Valid
// false so the view can skip them without losing selection alignment.
func (g *GraphTile) Points(dataSetID string) []GraphPoint {
	g.mu.Lock()
	link := g.linkForLocked(dataSetID)
	g.mu.Unlock()
	if link == nil {
		return nil
	}
	ds := link.model.DataSet()
	count := ds.CaseCount()
	points := make([]GraphPoint, 0, count)
	for i := 0; i < count; i++ {
		caseID, ok := ds.CaseIDFromIndex(i)
		if !ok {
			continue
		}
		x, xOK := ds.NumericValue(caseID, link.xAttrID)
		y, yOK := ds.NumericValue(caseID, link.yAttrID)
		points = append(points, GraphPoint{
			CaseID:   caseID,
			X:        x,
			Y:        y,
			Valid:    xOK && yOK,
			Selected: ds.IsCaseSelected(caseID),
		})
	}
	return points
}

// SelectPoint highlights the case behind a point, additively when additive
// is set, replacing the selection otherwise.
func (g *GraphTile) SelectPoint(dataSetID, caseID string, additive bool) {
	g.mu.Lock()
	link := g.linkForLocked(dataSetID)
	g.mu.Unlock()
	if link == nil {
		return
	}
	ds := link.model.DataSet()
	if additive {
		ds.SelectCases([]string{caseID}, true)
		return
	}
	ds.SetSelectedCases([]string{caseID})
}

// AxisBounds returns the numeric bounds of the bound attribute on the given
// axis for dataSetID.
func (g *GraphTile) AxisBounds(dataSetID string, x bool) (min, max float64, ok bool) {
	g.mu.Lock()
	link := g.linkForLocked(dataSetID)
	g.mu.Unlock()
	if link == nil {
		return 0, 0, false
	}
	attrID := link.yAttrID
	if x {
		attrID = link.xAttrID
	}
	return link.model.DataSet().NumericBounds(attrID)
}

func (g *GraphTile) linkForLocked(dataSetID string) *graphLink {
	for _, link := range g.links {
		if link.model.DataSet().ID() == dataSetID {
			return link
		}
	}
	return nil
}
