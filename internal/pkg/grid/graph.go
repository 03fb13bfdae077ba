/*
graph.go Multigraph of one substation's low voltage network. Parallel spans
between the same node pair are stored as an explicit list per unordered pair;
nodes are typed records selected by kind, not attribute bags.
*/

package grid

// NodeKind enumerates the closed set of node types.
type NodeKind int

const (
	// KindSubstation is the root of the network (CT).
	KindSubstation NodeKind = iota
	// KindTransformer is the virtual node of one transformer.
	KindTransformer
	// KindVoltageLevel is the virtual 230V or 400V output of a transformer.
	KindVoltageLevel
	// KindFeeder is the virtual entry point of one feeder line.
	KindFeeder
	// KindPhysical is a declared network point (pole, joint, box, ...).
	KindPhysical
	// KindCustomer is a customer metering point.
	KindCustomer
	// KindHeadMeter is the aggregate meter at a transformer output.
	KindHeadMeter
)

func (k NodeKind) String() string {
	switch k {
	case KindSubstation:
		return "CT"
	case KindTransformer:
		return "TRAFO"
	case KindVoltageLevel:
		return "CT_VIRTUAL"
	case KindFeeder:
		return "LBT"
	case KindPhysical:
		return "NODO"
	case KindCustomer:
		return "CUPS"
	case KindHeadMeter:
		return "CUPS_TR"
	}
	return "?"
}

// IsCustomer reports whether the kind is excluded from link counting.
func (k NodeKind) IsCustomer() bool {
	return k == KindCustomer || k == KindHeadMeter
}

// Node is one graph vertex. LinksOrig counts edges toward non-customer
// neighbors; the solver keeps its own remaining counter per hour.
type Node struct {
	ID          string
	Kind        NodeKind
	PhysKind    string // declared table kind for physical nodes
	Transformer string
	Voltage     int
	Feeder      string
	X, Y        float64
	LinksOrig   int
	Color       string

	// Phase identifies the connection phase of single phase customers.
	Phase      string
	ThreePhase bool
}

// Span is one edge of the multigraph.
type Span struct {
	Origin      string
	Dest        string
	Cable       string
	Length      float64 // km
	Transformer string
	Voltage     int
	Feeder      string
	Virtual     bool // zero-length structural link
}

type pairKey struct {
	a, b string
}

func keyOf(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// Graph is the multigraph rooted at the substation node.
type Graph struct {
	Substation string
	nodes      map[string]*Node
	spans      map[pairKey][]*Span
	adj        map[string]map[string]bool
}

// NewGraph returns an empty graph rooted at the given substation node id.
func NewGraph(substation string) *Graph {
	return &Graph{
		Substation: substation,
		nodes:      make(map[string]*Node),
		spans:      make(map[pairKey][]*Span),
		adj:        make(map[string]map[string]bool),
	}
}

// AddNode inserts a node. Adding an existing id is a no-op and returns the
// stored node.
func (g *Graph) AddNode(n *Node) *Node {
	if existing, ok := g.nodes[n.ID]; ok {
		return existing
	}
	g.nodes[n.ID] = n
	g.adj[n.ID] = make(map[string]bool)
	return n
}

// Node returns the node for an id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// HasNode reports node existence.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// AddSpan inserts one edge. Both endpoints must exist. Link counters on each
// endpoint grow only when the opposite endpoint is not a customer point.
func (g *Graph) AddSpan(s *Span) {
	a, okA := g.nodes[s.Origin]
	b, okB := g.nodes[s.Dest]
	if !okA || !okB {
		panic("grid: span endpoint not in graph: " + s.Origin + "-" + s.Dest)
	}
	k := keyOf(s.Origin, s.Dest)
	g.spans[k] = append(g.spans[k], s)
	g.adj[s.Origin][s.Dest] = true
	g.adj[s.Dest][s.Origin] = true

	if !b.Kind.IsCustomer() {
		a.LinksOrig++
	}
	if !a.Kind.IsCustomer() {
		b.LinksOrig++
	}
}

// Spans returns the parallel spans between two nodes, in insertion order.
func (g *Graph) Spans(a, b string) []*Span {
	return g.spans[keyOf(a, b)]
}

// RemoveSpan deletes the idx-th parallel span between a and b and updates the
// endpoints' link counters.
func (g *Graph) RemoveSpan(a, b string, idx int) {
	k := keyOf(a, b)
	list := g.spans[k]
	if idx < 0 || idx >= len(list) {
		return
	}
	g.spans[k] = append(list[:idx], list[idx+1:]...)
	if len(g.spans[k]) == 0 {
		delete(g.spans, k)
		delete(g.adj[a], b)
		delete(g.adj[b], a)
	}
	na := g.nodes[a]
	nb := g.nodes[b]
	if !nb.Kind.IsCustomer() && na.LinksOrig > 0 {
		na.LinksOrig--
	}
	if !na.Kind.IsCustomer() && nb.LinksOrig > 0 {
		nb.LinksOrig--
	}
}

// Neighbors returns the distinct neighbor ids of a node.
func (g *Graph) Neighbors(id string) []string {
	out := make([]string, 0, len(g.adj[id]))
	for n := range g.adj[id] {
		out = append(out, n)
	}
	return out
}

// NodeCount reports the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// SpanCount reports the number of edges, parallel spans counted individually.
func (g *Graph) SpanCount() int {
	n := 0
	for _, list := range g.spans {
		n += len(list)
	}
	return n
}

// Nodes iterates all nodes.
func (g *Graph) Nodes(fn func(*Node)) {
	for _, n := range g.nodes {
		fn(n)
	}
}

// EachSpan iterates every edge once, with its parallel index.
func (g *Graph) EachSpan(fn func(a, b string, idx int, s *Span)) {
	for k, list := range g.spans {
		for i, s := range list {
			fn(k.a, k.b, i, s)
		}
	}
}

// Reachable returns the set of nodes reachable from the given root.
func (g *Graph) Reachable(root string) map[string]bool {
	seen := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range g.adj[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// ShortestPath returns the fewest-edge path between two nodes, endpoints
// included, or ok=false when disconnected.
func (g *Graph) ShortestPath(from, to string) ([]string, bool) {
	if from == to {
		return []string{from}, true
	}
	prev := map[string]string{from: from}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range g.adj[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				path := []string{to}
				for at := cur; ; at = prev[at] {
					path = append([]string{at}, path...)
					if at == from {
						return path, true
					}
				}
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

// TerminalNodes returns non-customer nodes that end a line: a single
// non-customer link, excluding the substation itself.
func (g *Graph) TerminalNodes() []string {
	var out []string
	for id, n := range g.nodes {
		if n.Kind.IsCustomer() || id == g.Substation {
			continue
		}
		if n.LinksOrig == 1 {
			out = append(out, id)
		}
	}
	return out
}

// CustomerBearingNodes returns non-customer nodes with at least one attached
// customer point.
func (g *Graph) CustomerBearingNodes() []string {
	var out []string
	for id, n := range g.nodes {
		if n.Kind.IsCustomer() {
			continue
		}
		for nb := range g.adj[id] {
			if g.nodes[nb].Kind.IsCustomer() {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// SplittingNodes returns nodes where three or more non-customer branches meet.
func (g *Graph) SplittingNodes() []string {
	var out []string
	for id, n := range g.nodes {
		if n.Kind.IsCustomer() || id == g.Substation {
			continue
		}
		if n.LinksOrig >= 3 {
			out = append(out, id)
		}
	}
	return out
}

// Customers returns all customer point ids.
func (g *Graph) Customers() []string {
	var out []string
	for id, n := range g.nodes {
		if n.Kind == KindCustomer {
			out = append(out, id)
		}
	}
	return out
}
