// Package index is the in-memory note vector index: a collection of items
// (id, vector, metadata) with begin/end update semantics, whole-document
// persistence through a Backend and exact cosine-similarity queries.
package index

import (
	"time"

	"github.com/hyperjump/kanren/internal/metadata"
)

// CurrentVersion is the data version written by CreateIndex when none is given.
const CurrentVersion = 1

// MetadataIDKey is the metadata field holding the owning note id. RenameItem
// keeps it in sync with the item id.
const MetadataIDKey = "id"

// Item is one indexed note.
type Item struct {
	ID          string            `json:"id"`
	Metadata    metadata.Document `json:"metadata"`
	Vector      []float32         `json:"vector"`
	Norm        float64           `json:"norm"`
	ContentHash string            `json:"content_hash,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	out.Metadata = it.Metadata.Clone()
	if it.Vector != nil {
		out.Vector = make([]float32, len(it.Vector))
		copy(out.Vector, it.Vector)
	}
	return out
}

// MetadataConfig lists metadata fields the index was created for.
type MetadataConfig struct {
	Indexed []string `json:"indexed,omitempty"`
}

// Data is the whole persisted index document.
type Data struct {
	Version        int            `json:"version"`
	MetadataConfig MetadataConfig `json:"metadata_config"`
	Items          []Item         `json:"items"`
}

// Clone returns a deep copy of d.
func (d *Data) Clone() *Data {
	if d == nil {
		return nil
	}
	out := &Data{
		Version:        d.Version,
		MetadataConfig: MetadataConfig{Indexed: append([]string(nil), d.MetadataConfig.Indexed...)},
		Items:          make([]Item, len(d.Items)),
	}
	for i, it := range d.Items {
		out.Items[i] = it.Clone()
	}
	return out
}

// workingCopy copies the item slice but shares vectors and metadata maps.
// Mutations always replace those rather than editing them in place, so the
// committed snapshot is never touched.
func (d *Data) workingCopy() *Data {
	return &Data{
		Version:        d.Version,
		MetadataConfig: d.MetadataConfig,
		Items:          append(make([]Item, 0, len(d.Items)+1), d.Items...),
	}
}

func (d *Data) indexOf(id string) int {
	for i := range d.Items {
		if d.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// dimension returns the vector length shared by the items, ignoring skipID.
// Zero means the index places no constraint yet.
func (d *Data) dimension(skipID string) int {
	for i := range d.Items {
		if d.Items[i].ID != skipID {
			return len(d.Items[i].Vector)
		}
	}
	return 0
}

// Stats summarizes an index.
type Stats struct {
	Version        int            `json:"version"`
	MetadataConfig MetadataConfig `json:"metadata_config"`
	Items          int            `json:"items"`
}

// QueryResult is a scored item returned by QueryItems.
type QueryResult struct {
	Item  Item    `json:"item"`
	Score float64 `json:"score"`
}
