// Package access implements the bounded road-network "closest stops"
// search: an edge-relaxing Dijkstra, bounded by a time budget, that
// reports transit stops reachable from (or to) a geographic point by
// following the pre-snapped stop-links index.
//
// The road-network graph and its Dijkstra primitive are external
// collaborators (spec's road-network router database and Itinero-style
// Dykstra) — this package only drives them through the small interfaces
// below.
package access

// RouterPoint is a point on the road network: a specific offset along a
// specific edge, plus the geographic coordinates for that offset.
type RouterPoint struct {
	EdgeID uint32
	Offset uint16 // fraction along the edge, 0..65535
	Lat    float64
	Lon    float64
}

// Direction controls whether the search routes source->stop (Forward) or
// stop->source (Backward).
type Direction int

const (
	Forward Direction = iota
	Backward
)

// SourcePath seeds the Dijkstra at a vertex with an initial weight and,
// optionally, the edge that vertex was reached through (nil for a
// vertex-only seed).
type SourcePath struct {
	Vertex uint32
	Weight float64
	Edge   *uint32
}

// RoadGraph is the minimal read-only view of the road network this
// package needs: edge endpoints and a time-seconds weight already scaled
// by the access-mode profile's speed factor. Fails fast (ok=false) if the
// edge has no time-based weight under the active profile.
type RoadGraph interface {
	EdgeEndpoints(edgeID uint32) (from, to uint32)
	EdgeWeight(edgeID uint32) (seconds float64, ok bool)
}

// RoadDijkstra is the external road-network Dijkstra primitive this
// package drives: an edge-relaxing search bounded by a max weight.
type RoadDijkstra interface {
	// Step advances the search by settling the next vertex. Returns false
	// once the frontier is exhausted or the max-weight bound is reached.
	Step() bool
	// TryGetVisit returns the settled weight and the edge the search
	// arrived at vertex through, or ok=false if vertex is not yet settled.
	TryGetVisit(vertex uint32) (weight float64, parentEdge int64, ok bool)
}

// VisitFunc is invoked by the Dijkstra every time it settles a new
// vertex via a given edge; returning true requests early termination
// (this is the `was_found` hook from the external contract).
type VisitFunc func(vertex uint32, weight float64, parentEdge int64) bool

// DijkstraFactory constructs a bounded Dijkstra search rooted at
// sourcePaths. graph/weight handling/turn restrictions are opaque
// collaborators baked into the implementation the factory returns.
type DijkstraFactory func(sourcePaths []SourcePath, maxWeight float64, backward bool, visit VisitFunc) RoadDijkstra

// StopFoundFunc is called once per reachable stop with its total
// time-in-seconds. Returning true terminates the search early.
type StopFoundFunc func(stopID uint32, seconds float64) (shouldStop bool)
