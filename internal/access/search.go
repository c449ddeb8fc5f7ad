package access

import (
	"context"
	"fmt"
	"sort"

	"github.com/passbi/passbi_core/internal/csaerr"
	"github.com/passbi/passbi_core/internal/stoplinks"
)

const offsetScale = 65536.0

// linkedStop is one stop snapped onto a particular edge, inverted from
// the stop-keyed StopLinks index so the search can answer "which stops
// sit on the edge I just settled?" in O(1).
type linkedStop struct {
	stop   uint32
	offset uint16
}

// BoundedSearch is the ClosestStopsSearch: a bounded Dijkstra-style
// exploration of the road network that reports transit stops within a
// time budget.
type BoundedSearch struct {
	graph    RoadGraph
	factory  DijkstraFactory
	maxSecs  float64
	edgeToStops map[uint32][]linkedStop

	// populated by Run(), queryable afterwards
	source      RouterPoint
	direction   Direction
	dijkstra    RoadDijkstra
	weightTo    map[uint32]float64
	viaVertex   map[uint32]uint32
	viaEdge     map[uint32]int64
	viaOffset   map[uint32]uint16
}

// NewBoundedSearch builds a search over graph using index to find stops
// on settled edges. The inverse (edge -> stops) map is built once here,
// since the StopLinks on-disk format is stop-keyed.
func NewBoundedSearch(graph RoadGraph, index *stoplinks.Index, factory DijkstraFactory, maxSeconds float64) *BoundedSearch {
	edgeToStops := make(map[uint32][]linkedStop)
	for stopID := 0; stopID < index.NumStops(); stopID++ {
		for _, link := range index.Enumerate(uint32(stopID)) {
			edgeToStops[link.EdgeID] = append(edgeToStops[link.EdgeID], linkedStop{stop: uint32(stopID), offset: link.Offset})
		}
	}
	return &BoundedSearch{
		graph:       graph,
		factory:     factory,
		maxSecs:     maxSeconds,
		edgeToStops: edgeToStops,
	}
}

// Run executes the bounded search from source in the given direction,
// invoking onStopFound for each stop it reaches. It returns
// csaerr.ErrInvalidProfile if the source edge has no time-based weight,
// and csaerr.ErrCancelled if ctx is cancelled before the search finishes.
func (s *BoundedSearch) Run(ctx context.Context, source RouterPoint, direction Direction, onStopFound StopFoundFunc) error {
	s.source = source
	s.direction = direction
	s.weightTo = make(map[uint32]float64)
	s.viaVertex = make(map[uint32]uint32)
	s.viaEdge = make(map[uint32]int64)
	s.viaOffset = make(map[uint32]uint16)

	edgeWeight, ok := s.graph.EdgeWeight(source.EdgeID)
	if !ok {
		return csaerr.ErrInvalidProfile
	}

	stop, err := s.runSameEdgeCase(source, edgeWeight, onStopFound)
	if err != nil {
		return err
	}
	if stop {
		return nil
	}

	from, to := s.graph.EdgeEndpoints(source.EdgeID)
	fromWeight := edgeWeight * float64(source.Offset) / offsetScale
	toWeight := edgeWeight - fromWeight
	sourcePaths := []SourcePath{
		{Vertex: from, Weight: fromWeight},
		{Vertex: to, Weight: toWeight},
	}

	terminated := false
	visit := func(vertex uint32, weight float64, parentEdge int64) bool {
		if s.onVertexSettled(vertex, weight, parentEdge, onStopFound) {
			terminated = true
			return true
		}
		return false
	}

	s.dijkstra = s.factory(sourcePaths, s.maxSecs, direction == Backward, visit)

	for !terminated {
		select {
		case <-ctx.Done():
			return csaerr.ErrCancelled
		default:
		}
		if !s.dijkstra.Step() {
			break
		}
	}
	return nil
}

// runSameEdgeCase handles the edge-on-source-edge special case: stops
// linked to the source's own edge are reachable directly, with no
// intermediate vertex, before any Dijkstra relaxation happens.
func (s *BoundedSearch) runSameEdgeCase(source RouterPoint, edgeWeight float64, onStopFound StopFoundFunc) (stopped bool, err error) {
	links := s.edgeToStops[source.EdgeID]
	sort.Slice(links, func(i, j int) bool { return links[i].offset < links[j].offset })

	for _, link := range links {
		var offsetDiff float64
		if link.offset >= source.Offset {
			offsetDiff = float64(link.offset-source.Offset) / offsetScale
		} else {
			offsetDiff = float64(source.Offset-link.offset) / offsetScale
		}
		weight := edgeWeight * offsetDiff
		if weight > s.maxSecs {
			continue
		}
		if s.report(link.stop, weight, source.EdgeID, link.offset, onStopFound) {
			return true, nil
		}
	}
	return false, nil
}

// onVertexSettled is the low-level Visit hook: whenever the Dijkstra
// settles vertex via parentEdge, check whether that edge carries any
// stop links and, for each, report the remaining weight to the stop's
// precise offset.
func (s *BoundedSearch) onVertexSettled(vertex uint32, weight float64, parentEdge int64, onStopFound StopFoundFunc) bool {
	if parentEdge < 0 {
		return false
	}
	edgeID := uint32(parentEdge)
	links := s.edgeToStops[edgeID]
	if len(links) == 0 {
		return false
	}

	edgeWeight, ok := s.graph.EdgeWeight(edgeID)
	if !ok {
		return false
	}
	from, to := s.graph.EdgeEndpoints(edgeID)

	// vertex is the far end of the edge from the search's point of view;
	// the near end's settled weight is weight - edgeWeight.
	nearWeight := weight - edgeWeight
	nearIsFrom := to == vertex

	for _, link := range links {
		frac := float64(link.offset) / offsetScale
		var onEdge float64
		if nearIsFrom {
			onEdge = edgeWeight * frac
		} else {
			onEdge = edgeWeight * (1 - frac)
		}
		total := nearWeight + onEdge
		if total > s.maxSecs {
			continue
		}
		if s.report(link.stop, total, edgeID, link.offset, onStopFound) {
			return true
		}
	}
	return false
}

// report records the best-known weight/path to stop and, if this is a new
// best, invokes onStopFound.
func (s *BoundedSearch) report(stop uint32, weight float64, viaEdge uint32, viaOffset uint16, onStopFound StopFoundFunc) bool {
	if existing, ok := s.weightTo[stop]; ok && existing <= weight {
		return false
	}
	s.weightTo[stop] = weight
	s.viaEdge[stop] = int64(viaEdge)
	s.viaOffset[stop] = viaOffset
	return onStopFound(stop, weight)
}

// WeightTo returns the best known time-in-seconds to reach stop, if any.
func (s *BoundedSearch) WeightTo(stop uint32) (float64, bool) {
	w, ok := s.weightTo[stop]
	return w, ok
}

// TargetPoint returns the road-network point (edge, offset) the search
// used to reach stop, taking the best over all edge-snap candidates.
func (s *BoundedSearch) TargetPoint(stop uint32) (edgeID uint32, offset uint16, ok bool) {
	edge, exists := s.viaEdge[stop]
	if !exists {
		return 0, 0, false
	}
	return uint32(edge), s.viaOffset[stop], true
}

// PathTo reconstructs the settled vertex sequence from the source to
// stop (or stop to source in Backward mode), by walking parent edges
// backward through the Dijkstra's visit table. Returns an error if Run
// has not been called or stop was never found.
func (s *BoundedSearch) PathTo(stop uint32) ([]uint32, error) {
	if s.dijkstra == nil {
		return nil, fmt.Errorf("access: PathTo called before Run")
	}
	edge, ok := s.viaEdge[stop]
	if !ok {
		return nil, fmt.Errorf("access: stop %d was not reached", stop)
	}

	from, to := s.graph.EdgeEndpoints(uint32(edge))
	_, _, okFrom := s.dijkstra.TryGetVisit(from)
	_, _, okTo := s.dijkstra.TryGetVisit(to)

	var v uint32
	switch {
	case okTo:
		v = to
	case okFrom:
		v = from
	default:
		// stop was found via the same-edge special case: no settled
		// vertex chain exists, the path is just the source edge itself.
		return []uint32{from, to}, nil
	}

	var vertices []uint32
	for {
		vertices = append([]uint32{v}, vertices...)
		_, parentEdge, ok := s.dijkstra.TryGetVisit(v)
		if !ok || parentEdge < 0 {
			break
		}
		pFrom, pTo := s.graph.EdgeEndpoints(uint32(parentEdge))
		if pTo == v {
			v = pFrom
		} else {
			v = pTo
		}
		if len(vertices) > 0 && vertices[0] == v {
			break // defensive: avoid infinite loop on a malformed visit table
		}
	}
	return vertices, nil
}
