package core

import (
	"fmt"
	"strings"

	"tilecore/pkg/domain"
)

// MergeDataSets merges the serialized source dataset into the live target:
// attributes reconcile by exact name, cases append after the target's
// existing rows. The target's pre-existing attributes and cases are never
// removed or reordered.
//
// Validation happens before the first mutation; an invalid source leaves the
// target byte-for-byte unchanged. Past validation every step is infallible,
// so the merge is atomic without rollback machinery.
func MergeDataSets(target *DataSet, source domain.DataSetSnapshot) error {
	if target == nil {
		return domain.ValidationError{Entity: domain.EntityDataSet, Field: "target", Reason: "target dataset required"}
	}
	if err := source.Validate(); err != nil {
		return fmt.Errorf("merge source: %w", err)
	}

	// Name-keyed attribute union. A source placeholder attribute (default
	// label, no data) colliding with a target name is appended under a fresh
	// unique label instead of folding into the collision: merging two
	// untouched datasets must yield both placeholder columns, one per side.
	targetAttrIDs := make([]string, len(source.Attributes))
	for i, attr := range source.Attributes {
		name := attr.Name
		if existing, ok := target.AttrIDFromName(name); ok {
			if isPlaceholderAttribute(attr) {
				name = UniqueTitle(domain.DefaultLabelPrefix, target.HasAttrName)
			} else {
				targetAttrIDs[i] = existing
				continue
			}
		}
		targetAttrIDs[i] = target.AddAttribute(name)
	}

	// Append one target case per source case, aligned positionally. Target
	// attributes with no source counterpart stay empty; fresh case ids avoid
	// colliding with rows the source and target may share a history with.
	cases := make([]domain.Case, len(source.Cases))
	for row := range source.Cases {
		values := make(map[string]string, len(source.Attributes))
		for i, attr := range source.Attributes {
			values[targetAttrIDs[i]] = attr.Values[row]
		}
		cases[row] = domain.Case{Values: values}
	}
	target.AddCanonicalCases(cases, "")
	return nil
}

// isPlaceholderAttribute reports whether the attribute is untouched scaffold
// content: a default-prefixed label with no non-empty values.
func isPlaceholderAttribute(attr domain.AttributeSnapshot) bool {
	if !strings.HasPrefix(attr.Name, domain.DefaultLabelPrefix) {
		return false
	}
	for _, v := range attr.Values {
		if v != "" {
			return false
		}
	}
	return true
}
