package match

import (
	"fmt"

	"github.com/danmuck/setl/internal/grid"
)

// Record is one exact pattern occurrence. Row and Col locate the pattern's
// top-left corner in 0-indexed, unpadded world coordinates.
type Record struct {
	Generation int
	Row        int
	Col        int
	Rotation   grid.Rotation
}

// Key is the aggregation group of r.
func (r Record) Key() Key {
	return Key{Generation: r.Generation, Rotation: r.Rotation}
}

// String renders generation:row:col:rotation.
func (r Record) String() string {
	return fmt.Sprintf("%d:%d:%d:%d", r.Generation, r.Row, r.Col, uint8(r.Rotation))
}

// Key groups records by generation then rotation.
type Key struct {
	Generation int
	Rotation   grid.Rotation
}

// Less orders keys generation-major.
func (k Key) Less(o Key) bool {
	if k.Generation != o.Generation {
		return k.Generation < o.Generation
	}
	return k.Rotation < o.Rotation
}

// Seq is the dense index of k used as a message sequence number.
func (k Key) Seq() uint64 {
	return uint64(k.Generation)*grid.NumRotations + uint64(k.Rotation)
}
