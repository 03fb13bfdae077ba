package grid

import (
	"sort"
	"testing"

	"gotest.tools/assert"
)

func lineGraph() *Graph {
	// CT - N1 - N2, one customer at N2
	g := NewGraph("CT")
	g.AddNode(&Node{ID: "CT", Kind: KindSubstation})
	g.AddNode(&Node{ID: "N1", Kind: KindPhysical})
	g.AddNode(&Node{ID: "N2", Kind: KindPhysical})
	g.AddNode(&Node{ID: "ES001", Kind: KindCustomer, Phase: "R"})
	g.AddSpan(&Span{Origin: "CT", Dest: "N1", Length: 0.1})
	g.AddSpan(&Span{Origin: "N1", Dest: "N2", Length: 0.1})
	g.AddSpan(&Span{Origin: "N2", Dest: "ES001"})
	return g
}

func TestAddSpanLinkCounters(t *testing.T) {
	g := lineGraph()

	n1, _ := g.Node("N1")
	n2, _ := g.Node("N2")
	assert.Equal(t, n1.LinksOrig, 2)
	// the customer link does not count toward N2's links
	assert.Equal(t, n2.LinksOrig, 1)
}

func TestParallelSpans(t *testing.T) {
	g := lineGraph()
	g.AddSpan(&Span{Origin: "N1", Dest: "N2", Length: 0.2})

	assert.Equal(t, len(g.Spans("N1", "N2")), 2)
	// unordered pair lookup
	assert.Equal(t, len(g.Spans("N2", "N1")), 2)
	assert.Equal(t, g.SpanCount(), 4)

	g.RemoveSpan("N1", "N2", 1)
	assert.Equal(t, len(g.Spans("N1", "N2")), 1)
	assert.Equal(t, g.Spans("N1", "N2")[0].Length, 0.1)
}

func TestRemoveLastSpanDropsAdjacency(t *testing.T) {
	g := lineGraph()
	g.RemoveSpan("N1", "N2", 0)

	_, ok := g.ShortestPath("CT", "N2")
	assert.Assert(t, !ok)
	n1, _ := g.Node("N1")
	assert.Equal(t, n1.LinksOrig, 1)
}

func TestShortestPath(t *testing.T) {
	g := lineGraph()
	path, ok := g.ShortestPath("CT", "ES001")
	assert.Assert(t, ok)
	assert.DeepEqual(t, path, []string{"CT", "N1", "N2", "ES001"})

	path, ok = g.ShortestPath("CT", "CT")
	assert.Assert(t, ok)
	assert.DeepEqual(t, path, []string{"CT"})
}

func TestReachable(t *testing.T) {
	g := lineGraph()
	g.AddNode(&Node{ID: "LOST", Kind: KindPhysical})

	seen := g.Reachable("CT")
	assert.Assert(t, seen["ES001"])
	assert.Assert(t, !seen["LOST"])
}

func TestNodeSets(t *testing.T) {
	// CT - A - B with branches B-C and B-D, customer on C
	g := NewGraph("CT")
	for _, id := range []string{"CT", "A", "B", "C", "D"} {
		kind := KindPhysical
		if id == "CT" {
			kind = KindSubstation
		}
		g.AddNode(&Node{ID: id, Kind: kind})
	}
	g.AddNode(&Node{ID: "CUP", Kind: KindCustomer})
	g.AddSpan(&Span{Origin: "CT", Dest: "A"})
	g.AddSpan(&Span{Origin: "A", Dest: "B"})
	g.AddSpan(&Span{Origin: "B", Dest: "C"})
	g.AddSpan(&Span{Origin: "B", Dest: "D"})
	g.AddSpan(&Span{Origin: "C", Dest: "CUP"})

	terminals := g.TerminalNodes()
	sort.Strings(terminals)
	assert.DeepEqual(t, terminals, []string{"C", "D"})

	assert.DeepEqual(t, g.SplittingNodes(), []string{"B"})
	assert.DeepEqual(t, g.CustomerBearingNodes(), []string{"C"})
	assert.DeepEqual(t, g.Customers(), []string{"CUP"})
}
