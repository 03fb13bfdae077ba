/*
cycles.go Guarantees a tree topology: every node reachable from the
substation, zero cycles. Two finder strategies share one interface; the
exhaustive enumeration is the correctness reference for the fast check.
*/

package grid

import (
	"log"
	"math"
	"sort"
	"strings"

	"github.com/gtea/depertec_core/internal/pkg/conductor"
	"github.com/gtea/depertec_core/internal/pkg/topology"
)

// maxCycleIterations bounds the whole elimination procedure. Exceeding it
// leaves the loop structure unresolved (quality 3) without crashing.
const maxCycleIterations = 20

// CycleFinder locates cycles reachable from a root node. Cycles are reported
// as node sequences without the closing repeat.
type CycleFinder interface {
	Find(g *Graph, root string) [][]string
}

// FastFinder stops at the first cycle found by a depth-first walk.
type FastFinder struct{}

// Find returns at most one cycle.
func (FastFinder) Find(g *Graph, root string) [][]string {
	state := make(map[string]int) // 0 unseen, 1 in stack, 2 done
	var path []string
	var found []string

	var walk func(cur, parent string) bool
	walk = func(cur, parent string) bool {
		state[cur] = 1
		path = append(path, cur)
		for _, next := range sortedNeighbors(g, cur) {
			if next == parent {
				continue
			}
			switch state[next] {
			case 0:
				if walk(next, cur) {
					return true
				}
			case 1:
				for i, id := range path {
					if id == next {
						found = append([]string{}, path[i:]...)
						return true
					}
				}
			}
		}
		state[cur] = 2
		path = path[:len(path)-1]
		return false
	}

	if walk(root, "") {
		return [][]string{found}
	}
	return nil
}

// ExhaustiveFinder enumerates every simple cycle of three or more nodes
// reachable from the root.
type ExhaustiveFinder struct{}

// Find returns all distinct cycles.
func (ExhaustiveFinder) Find(g *Graph, root string) [][]string {
	seen := make(map[string]bool)
	var out [][]string

	var walk func(path []string)
	walk = func(path []string) {
		cur := path[len(path)-1]
		for _, next := range sortedNeighbors(g, cur) {
			if len(path) >= 2 && next == path[len(path)-2] {
				continue
			}
			idx := -1
			for i, id := range path[:len(path)-1] {
				if id == next {
					idx = i
					break
				}
			}
			if idx >= 0 {
				cycle := append([]string{}, path[idx:]...)
				if len(cycle) >= 3 {
					key := canonical(cycle)
					if !seen[key] {
						seen[key] = true
						out = append(out, cycle)
					}
				}
				continue
			}
			walk(append(path, next))
		}
	}

	walk([]string{root})
	return out
}

func sortedNeighbors(g *Graph, id string) []string {
	nbs := g.Neighbors(id)
	sort.Strings(nbs)
	return nbs
}

// canonical builds an orientation/rotation independent key for a cycle.
func canonical(cycle []string) string {
	sorted := append([]string{}, cycle...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

// Eliminate repairs reachability and removes cycles until the graph rooted at
// the substation is a tree (parallel spans between a node pair are kept as
// multiplicity, not treated as loops).
func Eliminate(g *Graph, net *topology.Network) topology.Quality {
	quality := repairReachability(g, net)

	fast := FastFinder{}
	exhaustive := ExhaustiveFinder{}
	for iter := 0; iter < maxCycleIterations; iter++ {
		if cycles := fast.Find(g, g.Substation); len(cycles) > 0 && len(cycles[0]) >= 3 {
			// prefer the edge nearest the walk's start
			removeCycleEdge(g, cycles[0], 0)
			quality = quality.Raise(topology.QualityCorrected)
			continue
		}

		all := exhaustive.Find(g, g.Substation)
		if len(all) == 0 {
			return quality
		}
		sort.Slice(all, func(i, j int) bool { return len(all[i]) < len(all[j]) })
		// prefer the edge farthest from the substation
		removeCycleEdge(g, all[0], len(all[0])-1)
		quality = quality.Raise(topology.QualityCorrected)
	}

	log.Printf("[Grid] cycle elimination did not settle in %v iterations", maxCycleIterations)
	return quality.Raise(topology.QualityAbort)
}

// removeCycleEdge breaks one edge of a cycle, starting the search at the
// preferred position. Edges carrying parallel spans are skipped when any
// single-span edge exists: removing one span of a parallel pair does not
// open the loop, it only thins the conductor.
func removeCycleEdge(g *Graph, cycle []string, start int) {
	n := len(cycle)
	a, b := cycle[start%n], cycle[(start+1)%n]
	for i := 0; i < n; i++ {
		x, y := cycle[(start+i)%n], cycle[(start+i+1)%n]
		if len(g.Spans(x, y)) == 1 {
			a, b = x, y
			break
		}
	}
	log.Printf("[Grid] cycle of %v nodes, removing span %v-%v", n, a, b)
	g.RemoveSpan(a, b, 0)
}

// repairReachability links every isolated non-customer node straight to its
// feeder entry node. The synthesized span is appended to the network's span
// table so later stages see it.
func repairReachability(g *Graph, net *topology.Network) topology.Quality {
	quality := topology.QualityClean
	reachable := g.Reachable(g.Substation)

	var isolated []*Node
	g.Nodes(func(n *Node) {
		if !reachable[n.ID] && !n.Kind.IsCustomer() {
			isolated = append(isolated, n)
		}
	})
	sort.Slice(isolated, func(i, j int) bool { return isolated[i].ID < isolated[j].ID })

	for _, n := range isolated {
		entry := ensureFeederEntry(g, g.Substation, n.Transformer, n.Feeder, net)
		length := math.Hypot(n.X-entry.X, n.Y-entry.Y) / 1000
		cable := borrowCable(g, n.ID)
		log.Printf("[Grid] node %v unreachable, linked to %v (%.3f km, %v)", n.ID, entry.ID, length, cable)
		s := &Span{
			Origin:      entry.ID,
			Dest:        n.ID,
			Cable:       cable,
			Length:      length,
			Transformer: n.Transformer,
			Voltage:     400,
			Feeder:      n.Feeder,
		}
		g.AddSpan(s)
		net.Spans = append(net.Spans, topology.SpanRecord{
			SubstationID: net.SubstationID,
			Substation:   net.SubstationName,
			Feeder:       n.Feeder,
			Transformer:  n.Transformer,
			Origin:       entry.ID,
			Dest:         n.ID,
			Cable:        cable,
			Length:       length,
		})
		quality = quality.Raise(topology.QualityCorrected)
	}
	return quality
}

// borrowCable picks the cable of any span touching a neighbor of the node,
// falling back to the network default.
func borrowCable(g *Graph, id string) string {
	for _, nb := range sortedNeighbors(g, id) {
		for _, s := range g.Spans(id, nb) {
			if s.Cable != "" {
				return s.Cable
			}
		}
	}
	return conductor.Default().Name
}
