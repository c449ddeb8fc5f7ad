package access

import (
	"context"
	"sort"
	"testing"

	"github.com/passbi/passbi_core/internal/csaerr"
	"github.com/passbi/passbi_core/internal/stoplinks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fake road graph + Dijkstra, standing in for the external collaborator ---

type testEdge struct {
	from, to uint32
	weight   float64
}

type fakeGraph struct {
	edges map[uint32]testEdge
	adj   map[uint32][]uint32
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{edges: map[uint32]testEdge{}, adj: map[uint32][]uint32{}}
}

func (g *fakeGraph) addEdge(id, from, to uint32, weight float64) {
	g.edges[id] = testEdge{from: from, to: to, weight: weight}
	g.adj[from] = append(g.adj[from], id)
	g.adj[to] = append(g.adj[to], id)
}

func (g *fakeGraph) EdgeEndpoints(id uint32) (uint32, uint32) {
	e := g.edges[id]
	return e.from, e.to
}

func (g *fakeGraph) EdgeWeight(id uint32) (float64, bool) {
	e, ok := g.edges[id]
	if !ok {
		return 0, false
	}
	return e.weight, true
}

type settleInfo struct {
	weight     float64
	parentEdge int64
}

type pqItem struct {
	vertex     uint32
	weight     float64
	parentEdge int64
}

type fakeDijkstra struct {
	graph     *fakeGraph
	pq        []pqItem
	settled   map[uint32]settleInfo
	maxWeight float64
	visit     VisitFunc
}

func newFakeDijkstra(graph *fakeGraph, sourcePaths []SourcePath, maxWeight float64, visit VisitFunc) *fakeDijkstra {
	d := &fakeDijkstra{graph: graph, settled: map[uint32]settleInfo{}, maxWeight: maxWeight, visit: visit}
	for _, sp := range sourcePaths {
		parentEdge := int64(-1)
		if sp.Edge != nil {
			parentEdge = int64(*sp.Edge)
		}
		d.pq = append(d.pq, pqItem{vertex: sp.Vertex, weight: sp.Weight, parentEdge: parentEdge})
	}
	return d
}

func (d *fakeDijkstra) Step() bool {
	for len(d.pq) > 0 {
		sort.Slice(d.pq, func(i, j int) bool { return d.pq[i].weight < d.pq[j].weight })
		item := d.pq[0]
		d.pq = d.pq[1:]

		if _, ok := d.settled[item.vertex]; ok {
			continue
		}
		if item.weight > d.maxWeight {
			return false
		}
		d.settled[item.vertex] = settleInfo{weight: item.weight, parentEdge: item.parentEdge}
		d.visit(item.vertex, item.weight, item.parentEdge)

		for _, edgeID := range d.graph.adj[item.vertex] {
			from, to := d.graph.EdgeEndpoints(edgeID)
			var neighbor uint32
			if from == item.vertex {
				neighbor = to
			} else {
				neighbor = from
			}
			if _, ok := d.settled[neighbor]; ok {
				continue
			}
			w, _ := d.graph.EdgeWeight(edgeID)
			d.pq = append(d.pq, pqItem{vertex: neighbor, weight: item.weight + w, parentEdge: int64(edgeID)})
		}
		return true
	}
	return false
}

func (d *fakeDijkstra) TryGetVisit(vertex uint32) (float64, int64, bool) {
	info, ok := d.settled[vertex]
	if !ok {
		return 0, -1, false
	}
	return info.weight, info.parentEdge, true
}

func fakeFactory(graph *fakeGraph) DijkstraFactory {
	return func(sourcePaths []SourcePath, maxWeight float64, backward bool, visit VisitFunc) RoadDijkstra {
		return newFakeDijkstra(graph, sourcePaths, maxWeight, visit)
	}
}

// --- tests ---

func buildTestTopology(t *testing.T) (*fakeGraph, *stoplinks.Index) {
	t.Helper()
	g := newFakeGraph()
	g.addEdge(10, 0, 1, 100) // A(0) -- B(1), 100s
	g.addEdge(20, 1, 2, 50)  // B(1) -- C(2), 50s

	idx := stoplinks.NewIndex("pedestrian", uuid.New())
	require.NoError(t, idx.Add(100, 10, 32768)) // stop 100, halfway along edge 10
	require.NoError(t, idx.Add(200, 20, 65535))  // stop 200, at the far end of edge 20

	return g, idx
}

func TestBoundedSearch_SameEdgeDirectCase(t *testing.T) {
	g, idx := buildTestTopology(t)
	search := NewBoundedSearch(g, idx, fakeFactory(g), 200)

	var found []uint32
	err := search.Run(context.Background(), RouterPoint{EdgeID: 10, Offset: 0}, Forward, func(stop uint32, seconds float64) bool {
		found = append(found, stop)
		return false
	})
	require.NoError(t, err)

	assert.Contains(t, found, uint32(100))
	w, ok := search.WeightTo(100)
	require.True(t, ok)
	assert.InDelta(t, 50.0, w, 0.01)
}

func TestBoundedSearch_ReportsStopOnSettledEdge(t *testing.T) {
	g, idx := buildTestTopology(t)
	search := NewBoundedSearch(g, idx, fakeFactory(g), 200)

	err := search.Run(context.Background(), RouterPoint{EdgeID: 10, Offset: 0}, Forward, func(stop uint32, seconds float64) bool {
		return false
	})
	require.NoError(t, err)

	w, ok := search.WeightTo(200)
	require.True(t, ok)
	assert.InDelta(t, 150.0, w, 0.01)
}

func TestBoundedSearch_RespectsMaxSeconds(t *testing.T) {
	g, idx := buildTestTopology(t)
	search := NewBoundedSearch(g, idx, fakeFactory(g), 60) // too tight to reach stop 200

	err := search.Run(context.Background(), RouterPoint{EdgeID: 10, Offset: 0}, Forward, func(stop uint32, seconds float64) bool {
		return false
	})
	require.NoError(t, err)

	_, ok := search.WeightTo(200)
	assert.False(t, ok)
}

func TestBoundedSearch_EarlyTermination(t *testing.T) {
	g, idx := buildTestTopology(t)
	search := NewBoundedSearch(g, idx, fakeFactory(g), 200)

	var found []uint32
	err := search.Run(context.Background(), RouterPoint{EdgeID: 10, Offset: 0}, Forward, func(stop uint32, seconds float64) bool {
		found = append(found, stop)
		return true // stop immediately after the first report
	})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestBoundedSearch_InvalidProfileFailsFast(t *testing.T) {
	g, idx := buildTestTopology(t)
	search := NewBoundedSearch(g, idx, fakeFactory(g), 200)

	err := search.Run(context.Background(), RouterPoint{EdgeID: 999, Offset: 0}, Forward, func(uint32, float64) bool { return false })
	assert.ErrorIs(t, err, csaerr.ErrInvalidProfile)
}

func TestBoundedSearch_Cancellation(t *testing.T) {
	g, idx := buildTestTopology(t)
	search := NewBoundedSearch(g, idx, fakeFactory(g), 200)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := search.Run(ctx, RouterPoint{EdgeID: 10, Offset: 0}, Forward, func(uint32, float64) bool { return false })
	assert.ErrorIs(t, err, csaerr.ErrCancelled)
}

func TestBoundedSearch_PathTo(t *testing.T) {
	g, idx := buildTestTopology(t)
	search := NewBoundedSearch(g, idx, fakeFactory(g), 200)

	err := search.Run(context.Background(), RouterPoint{EdgeID: 10, Offset: 0}, Forward, func(uint32, float64) bool { return false })
	require.NoError(t, err)

	path, err := search.PathTo(200)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, path)
}
