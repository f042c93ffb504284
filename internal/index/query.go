package index

import (
	"context"
	"sort"

	"github.com/hyperjump/kanren/internal/metadata"
	"github.com/hyperjump/kanren/internal/vector"
)

// QueryItems returns up to topK committed items most similar to query by
// cosine similarity, best first. Items are filtered on metadata before
// scoring; ties keep insertion order.
func (x *LocalIndex) QueryItems(ctx context.Context, query []float32, topK int, filter *metadata.Filter) ([]QueryResult, error) {
	d, err := x.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}
	if topK <= 0 || len(d.Items) == 0 {
		return []QueryResult{}, nil
	}

	queryNorm := vector.L2Norm(query)
	results := make([]QueryResult, 0, len(d.Items))
	for i := range d.Items {
		it := &d.Items[i]
		if !filter.Matches(it.Metadata) {
			continue
		}
		if len(it.Vector) != len(query) {
			return nil, &vector.ErrDimensionMismatch{Expected: len(it.Vector), Actual: len(query)}
		}
		results = append(results, QueryResult{
			Item:  *it,
			Score: vector.NormalizedCosineSimilarity(query, queryNorm, it.Vector, it.Norm),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Item = results[i].Item.Clone()
	}
	return results, nil
}
