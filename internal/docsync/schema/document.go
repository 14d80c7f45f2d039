// Package schema provides the data structures shared by the dualsync engine:
// documents, graph edges, sync records and per-document results.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// MaxIDLength bounds document identifiers so they fit comfortably into
// vector payloads, graph properties and lock keys.
const MaxIDLength = 512

// Document is a validated unit of the canonical corpus.
//
// Documents are owned by the caller; the engine only reads them.
type Document struct {
	// ID is stable and caller-assigned.
	ID string `json:"id" yaml:"id"`

	// Content is the semantic payload that gets embedded.
	Content string `json:"content" yaml:"content"`

	// Metadata carries flat key/value attributes. Some keys (see EdgeKeys)
	// imply relationships in the graph store.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Validate checks if the Document has valid field values.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(d.ID) > MaxIDLength {
		return fmt.Errorf("id must be %d characters or less (got %d)", MaxIDLength, len(d.ID))
	}
	for _, r := range d.ID {
		if unicode.IsControl(r) {
			return fmt.Errorf("id must not contain control characters")
		}
	}
	return nil
}

// MetadataKeys returns the metadata keys in sorted order.
func (d *Document) MetadataKeys() []string {
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultEdgeKeys are the metadata keys whose values name related documents.
var DefaultEdgeKeys = []string{"references", "belongs_to", "depends_on", "related_to"}

// Edges derives the outgoing graph edges implied by the document metadata.
//
// Each key in keys that is present in Metadata is read as a comma-separated
// list of target document ids. Self references and duplicates are dropped.
// The result is sorted by (Type, To) so callers get a stable edge set.
func (d *Document) Edges(keys []string) []Edge {
	seen := make(map[Edge]bool)
	var edges []Edge
	for _, key := range keys {
		raw, ok := d.Metadata[key]
		if !ok {
			continue
		}
		for _, part := range strings.Split(raw, ",") {
			to := strings.TrimSpace(part)
			if to == "" || to == d.ID {
				continue
			}
			e := Edge{From: d.ID, To: to, Type: key}
			if seen[e] {
				continue
			}
			seen[e] = true
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Type != edges[j].Type {
			return edges[i].Type < edges[j].Type
		}
		return edges[i].To < edges[j].To
	})
	return edges
}
