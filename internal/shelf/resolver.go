// Package shelf resolves shelf identifiers to their analysis geometry and
// ties the resolver to the occupancy computation.
package shelf

import (
	"fmt"

	"github.com/YSLin901019/ntu-iot/internal/analyzer"
	"github.com/YSLin901019/ntu-iot/internal/db"
)

// Store is the persistence surface the resolver needs.
type Store interface {
	GetShelfInfo(shelfID string) (*db.Shelf, error)
}

// Resolver maps a shelf identifier to its sensing geometry. The found flag
// is false when the shelf is unknown; absence is not an error.
type Resolver interface {
	Resolve(shelfID string) (analyzer.Geometry, bool, error)
}

// StoreResolver resolves geometry from the persisted shelf record first,
// falling back to an injected default table for shelves that report
// readings before an operator configures them.
type StoreResolver struct {
	store    Store
	defaults map[string]float64
}

// NewStoreResolver builds a resolver over store with the given fallback
// geometry table (shelf ID to empty-shelf depth in centimeters).
func NewStoreResolver(store Store, defaults map[string]float64) *StoreResolver {
	return &StoreResolver{store: store, defaults: defaults}
}

// Resolve implements Resolver. A persisted record wins over the default
// table, and within the record the calibrated shelf length wins over the
// configured max distance.
func (r *StoreResolver) Resolve(shelfID string) (analyzer.Geometry, bool, error) {
	s, err := r.store.GetShelfInfo(shelfID)
	if err != nil {
		return analyzer.Geometry{}, false, fmt.Errorf("failed to resolve shelf %s: %w", shelfID, err)
	}

	if s != nil {
		maxDistance := s.MaxDistance
		if s.ShelfLength > 0 {
			maxDistance = s.ShelfLength
		}
		return analyzer.Geometry{
			MaxDistance:   maxDistance,
			ProductLength: s.ProductLength,
		}, true, nil
	}

	if depth, ok := r.defaults[shelfID]; ok {
		return analyzer.Geometry{MaxDistance: depth}, true, nil
	}

	return analyzer.Geometry{}, false, nil
}

// Analyze resolves shelfID and runs the occupancy analysis on one reading.
// Resolution failures of any kind degrade to the empty result, keeping the
// ingestion path total.
func Analyze(r Resolver, shelfID string, distanceCM, threshold float64) analyzer.Result {
	geom, found, err := r.Resolve(shelfID)
	if err != nil || !found {
		return analyzer.Empty
	}
	return analyzer.Analyze(geom, distanceCM, threshold)
}
