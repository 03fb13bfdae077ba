/*
snapshot.go Flat serializable form of an assembled graph. Snapshots are what
the archive stores and what the cache path restores instead of repeating
repair, assembly and cycle elimination.
*/

package grid

import "fmt"

// SnapshotNode is one node in wire form.
type SnapshotNode struct {
	ID          string  `json:"ID" bson:"id"`
	Kind        int     `json:"Kind" bson:"kind"`
	PhysKind    string  `json:"PhysKind,omitempty" bson:"physkind,omitempty"`
	Transformer string  `json:"Transformer,omitempty" bson:"transformer,omitempty"`
	Voltage     int     `json:"Voltage,omitempty" bson:"voltage,omitempty"`
	Feeder      string  `json:"Feeder,omitempty" bson:"feeder,omitempty"`
	X           float64 `json:"X,omitempty" bson:"x,omitempty"`
	Y           float64 `json:"Y,omitempty" bson:"y,omitempty"`
	Phase       string  `json:"Phase,omitempty" bson:"phase,omitempty"`
	ThreePhase  bool    `json:"ThreePhase,omitempty" bson:"threephase,omitempty"`
}

// SnapshotSpan is one edge in wire form.
type SnapshotSpan struct {
	Origin      string  `json:"Origin" bson:"origin"`
	Dest        string  `json:"Dest" bson:"dest"`
	Cable       string  `json:"Cable,omitempty" bson:"cable,omitempty"`
	Length      float64 `json:"Length,omitempty" bson:"length,omitempty"`
	Transformer string  `json:"Transformer,omitempty" bson:"transformer,omitempty"`
	Voltage     int     `json:"Voltage,omitempty" bson:"voltage,omitempty"`
	Feeder      string  `json:"Feeder,omitempty" bson:"feeder,omitempty"`
	Virtual     bool    `json:"Virtual,omitempty" bson:"virtual,omitempty"`
}

// Snapshot is a complete graph in wire form.
type Snapshot struct {
	Substation string         `json:"Substation" bson:"substation"`
	Nodes      []SnapshotNode `json:"Nodes" bson:"nodes"`
	Spans      []SnapshotSpan `json:"Spans" bson:"spans"`
}

// Export flattens the graph. Span order within a pair is preserved; pair and
// node order is not significant.
func (g *Graph) Export() Snapshot {
	snap := Snapshot{Substation: g.Substation}
	g.Nodes(func(n *Node) {
		snap.Nodes = append(snap.Nodes, SnapshotNode{
			ID:          n.ID,
			Kind:        int(n.Kind),
			PhysKind:    n.PhysKind,
			Transformer: n.Transformer,
			Voltage:     n.Voltage,
			Feeder:      n.Feeder,
			X:           n.X,
			Y:           n.Y,
			Phase:       n.Phase,
			ThreePhase:  n.ThreePhase,
		})
	})
	g.EachSpan(func(a, b string, idx int, s *Span) {
		snap.Spans = append(snap.Spans, SnapshotSpan{
			Origin:      s.Origin,
			Dest:        s.Dest,
			Cable:       s.Cable,
			Length:      s.Length,
			Transformer: s.Transformer,
			Voltage:     s.Voltage,
			Feeder:      s.Feeder,
			Virtual:     s.Virtual,
		})
	})
	return snap
}

// Import rebuilds a graph from a snapshot. Link counters are recomputed by
// re-adding every span.
func Import(snap Snapshot) (*Graph, error) {
	if snap.Substation == "" || len(snap.Nodes) == 0 {
		return nil, fmt.Errorf("grid: empty snapshot")
	}
	g := NewGraph(snap.Substation)
	for _, n := range snap.Nodes {
		g.AddNode(&Node{
			ID:          n.ID,
			Kind:        NodeKind(n.Kind),
			PhysKind:    n.PhysKind,
			Transformer: n.Transformer,
			Voltage:     n.Voltage,
			Feeder:      n.Feeder,
			X:           n.X,
			Y:           n.Y,
			Phase:       n.Phase,
			ThreePhase:  n.ThreePhase,
		})
	}
	for _, s := range snap.Spans {
		if !g.HasNode(s.Origin) || !g.HasNode(s.Dest) {
			return nil, fmt.Errorf("grid: snapshot span %v-%v references missing node", s.Origin, s.Dest)
		}
		g.AddSpan(&Span{
			Origin:      s.Origin,
			Dest:        s.Dest,
			Cable:       s.Cable,
			Length:      s.Length,
			Transformer: s.Transformer,
			Voltage:     s.Voltage,
			Feeder:      s.Feeder,
			Virtual:     s.Virtual,
		})
	}
	if !g.HasNode(snap.Substation) {
		return nil, fmt.Errorf("grid: snapshot lacks its substation node %v", snap.Substation)
	}
	return g, nil
}
