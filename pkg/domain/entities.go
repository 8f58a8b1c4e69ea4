// Package domain defines the serializable entity model, change records, and
// boundary contracts shared by the tilecore synchronization core.
package domain

import "fmt"

// EntityType identifies the kind of record referenced by a Change or a
// persistence bucket.
type EntityType string

// Supported entity type identifiers.
const (
	// EntityDataSet identifies a dataset record.
	EntityDataSet EntityType = "data_set"
	// EntityAttribute identifies a dataset attribute (column).
	EntityAttribute EntityType = "attribute"
	// EntityCase identifies a dataset case (row).
	EntityCase EntityType = "case"
	// EntitySharedModel identifies a shared model wrapper.
	EntitySharedModel EntityType = "shared_model"
	// EntityTile identifies a tile participating in the document graph.
	EntityTile EntityType = "tile"
	// EntityDocument identifies a document-level record.
	EntityDocument EntityType = "document"
)

// SharedDataSetType is the model type string under which shared datasets are
// registered with the shared model manager.
const SharedDataSetType = "SharedDataSet"

// DefaultLabel is the name given to the placeholder attribute of a freshly
// created dataset. Editors do not tolerate a literally empty dataset, so new
// datasets start with one default-labeled attribute and one empty case.
const DefaultLabel = "Label 1"

// DefaultLabelPrefix seeds UniqueTitle when additional placeholder attributes
// are needed.
const DefaultLabelPrefix = "Label"

// AttributeSnapshot is the serialized form of a dataset column. Values are
// stored attribute-side, parallel to the dataset's case order: Values[i] is
// the value of the i-th case. Missing values are empty strings, never absent.
type AttributeSnapshot struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// CaseSnapshot is the serialized form of a row identity. Values live on the
// attribute side to avoid duplication.
type CaseSnapshot struct {
	ID string `json:"id"`
}

// Case is the materialized view of a row: a mapping from attribute key to
// value. Canonical cases are keyed by attribute id; display cases are keyed
// by attribute name.
type Case struct {
	ID     string            `json:"id"`
	Values map[string]string `json:"values,omitempty"`
}

// CellRef addresses a single (case, attribute) pair.
type CellRef struct {
	CaseID      string `json:"caseId"`
	AttributeID string `json:"attributeId"`
}

// DataSetSnapshot is the round-trippable serialized form of a dataset.
// Selection state is transient and intentionally not part of the snapshot.
type DataSetSnapshot struct {
	ID         string              `json:"id"`
	Name       string              `json:"name,omitempty"`
	Attributes []AttributeSnapshot `json:"attributes"`
	Cases      []CaseSnapshot      `json:"cases"`
}

// Validate checks the structural invariants of a snapshot: every attribute
// carries exactly one value slot per case, and ids are unique within their
// kind. A violation indicates a producer bypassed the public operations.
func (s DataSetSnapshot) Validate() error {
	attrIDs := make(map[string]struct{}, len(s.Attributes))
	attrNames := make(map[string]struct{}, len(s.Attributes))
	for _, attr := range s.Attributes {
		if attr.ID == "" {
			return ValidationError{Entity: EntityAttribute, Field: "id", Reason: "missing attribute id"}
		}
		if _, ok := attrIDs[attr.ID]; ok {
			return ValidationError{Entity: EntityAttribute, ID: attr.ID, Field: "id", Reason: "duplicate attribute id"}
		}
		attrIDs[attr.ID] = struct{}{}
		attrNames[attr.Name] = struct{}{}
		if len(attr.Values) != len(s.Cases) {
			return ValidationError{
				Entity: EntityAttribute,
				ID:     attr.ID,
				Field:  "values",
				Reason: fmt.Sprintf("attribute has %d values for %d cases", len(attr.Values), len(s.Cases)),
			}
		}
	}
	caseIDs := make(map[string]struct{}, len(s.Cases))
	for _, c := range s.Cases {
		if c.ID == "" {
			return ValidationError{Entity: EntityCase, Field: "id", Reason: "missing case id"}
		}
		if _, ok := caseIDs[c.ID]; ok {
			return ValidationError{Entity: EntityCase, ID: c.ID, Field: "id", Reason: "duplicate case id"}
		}
		caseIDs[c.ID] = struct{}{}
	}
	return nil
}

// IsEmpty reports whether the snapshot holds no user data: no values beyond
// empty strings and at most the default placeholder content.
func (s DataSetSnapshot) IsEmpty() bool {
	for _, attr := range s.Attributes {
		for _, v := range attr.Values {
			if v != "" {
				return false
			}
		}
	}
	return true
}

// SharedDataSetSnapshot wraps a dataset snapshot with document-wide identity
// and provenance metadata.
type SharedDataSetSnapshot struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	ProviderID  string          `json:"providerId,omitempty"`
	IndexOfType int             `json:"indexOfType"`
	DataSet     DataSetSnapshot `json:"dataSet"`
}

// SharedModelEntrySnapshot records one shared model and the tiles referencing
// it within a document.
type SharedModelEntrySnapshot struct {
	SharedModel SharedDataSetSnapshot `json:"sharedModel"`
	ProviderID  string                `json:"providerId,omitempty"`
	TileIDs     []string              `json:"tileIds"`
}

// DocumentSnapshot is the persisted tile/shared-model graph of one document.
type DocumentSnapshot struct {
	ID           string                     `json:"id"`
	SharedModels []SharedModelEntrySnapshot `json:"sharedModels"`
}

// Validate checks every embedded dataset snapshot and shared-model identity.
func (d DocumentSnapshot) Validate() error {
	if d.ID == "" {
		return ValidationError{Entity: EntityDocument, Field: "id", Reason: "missing document id"}
	}
	seen := make(map[string]struct{}, len(d.SharedModels))
	for _, entry := range d.SharedModels {
		model := entry.SharedModel
		if model.ID == "" {
			return ValidationError{Entity: EntitySharedModel, Field: "id", Reason: "missing shared model id"}
		}
		if _, ok := seen[model.ID]; ok {
			return ValidationError{Entity: EntitySharedModel, ID: model.ID, Field: "id", Reason: "duplicate shared model id"}
		}
		seen[model.ID] = struct{}{}
		if model.Type != SharedDataSetType {
			return ValidationError{Entity: EntitySharedModel, ID: model.ID, Field: "type", Reason: fmt.Sprintf("unknown shared model type %q", model.Type)}
		}
		if err := model.DataSet.Validate(); err != nil {
			return fmt.Errorf("shared model %s: %w", model.ID, err)
		}
	}
	return nil
}
