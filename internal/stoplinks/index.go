// Package stoplinks implements the per-access-profile Stop<->road-edge
// snap index: for each stop, an ordered list of (edge_id, offset) pairs
// describing where that stop sits along nearby road-network edges.
package stoplinks

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/passbi/passbi_core/internal/csaerr"
)

// Link is a single point on a road edge where a stop snaps.
type Link struct {
	EdgeID uint32
	Offset uint16
}

// Index is an append-only-per-stop stop<->edge index for one access-mode
// profile (e.g. "pedestrian"). Storage is a pointer table of (start,count)
// pairs, one per stop, over a flat array of (edge_id,offset) pairs.
type Index struct {
	ProfileName  string
	RouterDBGuid uuid.UUID

	pointers []uint32 // pairs: start, count — indexed by stop id
	data     []uint32 // pairs: edge_id, offset

	lastStop uint32
	started  bool
}

// NewIndex returns an empty index for the given access-mode profile, tied
// to the road-network database identified by routerDBGuid.
func NewIndex(profileName string, routerDBGuid uuid.UUID) *Index {
	return &Index{ProfileName: profileName, RouterDBGuid: routerDBGuid}
}

// NumStops returns how many stop slots (including empty ones) the pointer
// table currently covers.
func (idx *Index) NumStops() int {
	return len(idx.pointers) / 2
}

// Add appends a (edgeID, offset) link for stopID. Stops must be added in
// ascending order; adding to a stop below the most recently started one
// fails, since the compact layout requires each stop's links to be
// contiguous.
func (idx *Index) Add(stopID, edgeID uint32, offset uint16) error {
	if idx.started && stopID < idx.lastStop {
		return fmt.Errorf("%w: stop %d after stop %d", csaerr.ErrStopLinkOutOfOrder, stopID, idx.lastStop)
	}

	// Grow the pointer table up to and including stopID, each new slot
	// starting empty at the current end of the data array.
	for uint32(idx.NumStops()) <= stopID {
		idx.pointers = append(idx.pointers, uint32(len(idx.data)/2), 0)
	}
	idx.lastStop = stopID
	idx.started = true

	idx.data = append(idx.data, edgeID, uint32(offset))
	idx.pointers[stopID*2+1]++
	return nil
}

// Enumerate returns the links for stopID, or nil if the stop has none.
func (idx *Index) Enumerate(stopID uint32) []Link {
	if int(stopID) >= idx.NumStops() {
		return nil
	}
	start := idx.pointers[stopID*2]
	count := idx.pointers[stopID*2+1]
	if count == 0 {
		return nil
	}
	out := make([]Link, count)
	for i := uint32(0); i < count; i++ {
		base := (start + i) * 2
		out[i] = Link{EdgeID: idx.data[base], Offset: uint16(idx.data[base+1])}
	}
	return out
}
