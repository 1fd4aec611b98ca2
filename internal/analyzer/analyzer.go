// Package analyzer contains the occupancy decision logic for shelf-mounted
// ultrasonic distance sensors. It is pure computation: callers resolve shelf
// geometry and feed validated readings; every branch yields a concrete
// result and no function here returns an error.
package analyzer

import "fmt"

// DefaultOccupiedThreshold is the fallback detection threshold in
// centimeters, used when a shelf has no bound product. A reading must
// occlude more than this much shelf depth to count as occupied.
const DefaultOccupiedThreshold = 2.0

// Geometry is the calibrated sensing geometry of one shelf: the maximum
// distance the sensor reports over an empty shelf, and optionally the
// length of a single product unit bound to the shelf.
type Geometry struct {
	MaxDistance   float64  `json:"max_distance"`
	ProductLength *float64 `json:"product_length,omitempty"`
}

// Result is the outcome of analyzing one reading.
type Result struct {
	Occupied    bool    `json:"occupied"`
	FillPercent float64 `json:"fill_percent"`
}

func (r Result) String() string {
	return fmt.Sprintf("occupied=%v fill=%.1f%%", r.Occupied, r.FillPercent)
}

// Empty is the result for a shelf with nothing on it. It is also the result
// for every degenerate input: missing geometry, non-positive max distance,
// or a reading at or beyond the shelf back wall. Reporting empty instead of
// erroring keeps the ingestion path total over partially provisioned
// shelves.
var Empty = Result{Occupied: false, FillPercent: 0}

// IsValidDistance reports whether a raw distance reading is usable.
// Sensors signal a read failure with a negative value.
func IsValidDistance(distanceCM float64) bool {
	return distanceCM >= 0
}

// Analyze converts one validated distance reading into an occupancy
// decision and fill percentage.
//
// A reading at or past MaxDistance means the beam reaches the back wall:
// nothing on the shelf. Otherwise the occluded depth is
// MaxDistance - distanceCM. When the shelf has a bound product, an
// occlusion shorter than one product unit counts as empty rather than
// partially filled; without a product the flat threshold decides.
// FillPercent is clamped to [0, 100] and is always 0 when not occupied.
func Analyze(geom Geometry, distanceCM float64, threshold float64) Result {
	if geom.MaxDistance <= 0 {
		return Empty
	}
	if distanceCM >= geom.MaxDistance {
		return Empty
	}

	occupiedLength := geom.MaxDistance - distanceCM

	if geom.ProductLength != nil && *geom.ProductLength > 0 {
		if occupiedLength < *geom.ProductLength {
			// Too short to hold even one unit.
			return Empty
		}
	} else if occupiedLength <= threshold {
		return Empty
	}

	fill := occupiedLength / geom.MaxDistance * 100.0
	if fill < 0 {
		fill = 0
	}
	if fill > 100 {
		fill = 100
	}
	return Result{Occupied: true, FillPercent: fill}
}

// EstimateCount approximates how many product units fit in the occluded
// shelf depth. It is a derived inventory metric, independent of the
// occupancy decision, and never returns a negative count.
func EstimateCount(distanceCM, productLength, maxDistance float64) int {
	if productLength <= 0 {
		return 0
	}
	occupiedSpace := maxDistance - distanceCM
	if occupiedSpace < productLength {
		return 0
	}
	return int(occupiedSpace / productLength)
}

// FormatUptime renders a device uptime in milliseconds as HH:MM:SS.
func FormatUptime(uptimeMS int64) string {
	seconds := uptimeMS / 1000
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
