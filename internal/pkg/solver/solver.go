/*
solver.go Bottom-up load propagation and loss resolution, run once per
simulated hour. Power injected at customer points climbs the tree toward the
substation; each span's resistance is recomputed from the current it carries.
*/

package solver

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/gtea/depertec_core/internal/pkg/conductor"
	"github.com/gtea/depertec_core/internal/pkg/grid"
	"github.com/gtea/depertec_core/internal/pkg/loadcurve"
	"github.com/gtea/depertec_core/internal/pkg/topology"
)

// Config holds the electrical constants of one run.
type Config struct {
	LineVoltage400 float64 `json:"LineVoltage400"`
	LineVoltage230 float64 `json:"LineVoltage230"`
	CableReactance float64 `json:"CableReactance"` // Ohm/km, constant
	CableTemp      float64 `json:"CableTemp"`      // C
	UpperLimit     float64 `json:"UpperLimit"`     // % band above the measured value
	LowerLimit     float64 `json:"LowerLimit"`     // % band below the measured value
}

// DefaultConfig mirrors the usual run parameters.
func DefaultConfig() Config {
	return Config{
		LineVoltage400: 400,
		LineVoltage230: 230,
		CableReactance: 0,
		CableTemp:      20,
		UpperLimit:     10,
		LowerLimit:     10,
	}
}

// Solver resolves one substation's tree-shaped multigraph.
type Solver struct {
	config  Config
	catalog *conductor.Catalog
	graph   *grid.Graph
	parent  map[string]string
}

// New configures a solver for an assembled, cycle-free graph.
func New(jsonConfig []byte, catalog *conductor.Catalog, g *grid.Graph) (*Solver, error) {
	config := DefaultConfig()
	if len(jsonConfig) > 0 {
		if err := json.Unmarshal(jsonConfig, &config); err != nil {
			return nil, err
		}
	}
	s := &Solver{config: config, catalog: catalog, graph: g}
	s.parent = parentsToward(g, g.Substation)
	return s, nil
}

// Config is an accessor for the solver's configuration.
func (s *Solver) Config() Config {
	return s.config
}

// parentsToward maps every reachable node to its next hop toward the root.
func parentsToward(g *grid.Graph, root string) map[string]string {
	parent := make(map[string]string)
	seen := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.Neighbors(cur) {
			if seen[next] {
				continue
			}
			seen[next] = true
			parent[next] = cur
			queue = append(queue, next)
		}
	}
	return parent
}

// Resolve computes the loss picture for one hour. The result is complete and
// self-contained; calling Resolve twice with the same inputs yields identical
// results.
func (s *Solver) Resolve(date string, hour int, curves *loadcurve.Set) (*HourResult, error) {
	res := newHourResult(date, hour)

	s.inject(res, curves)

	// local loads: every customer reports through its connection span
	customerBearing := s.graph.CustomerBearingNodes()
	sort.Strings(customerBearing)
	for _, id := range customerBearing {
		s.collectCustomers(res, id)
	}

	if err := s.propagate(res); err != nil {
		res.Quality = topology.QualityHourError
		return res, err
	}
	return res, nil
}

// inject writes each customer's signed hourly power onto its node. Single
// phase customers load their connection phase; three phase customers are
// assumed balanced. Reactive power is not metered and stays 0.
func (s *Solver) inject(res *HourResult, curves *loadcurve.Set) {
	for _, id := range s.graph.Customers() {
		n, _ := s.graph.Node(id)
		p := curves.Power(id, res.Date, res.Hour)
		if p == 0 {
			continue
		}
		acc := res.Node(id)
		if n.ThreePhase || n.Phase == "" {
			acc.P.AddBalanced(p)
		} else {
			acc.P.Add(n.Phase, p)
		}
	}
}

// collectCustomers pulls the attached customers' power into a bearing node,
// including the loss on each connection span.
func (s *Solver) collectCustomers(res *HourResult, id string) {
	acc := res.Node(id)
	neighbors := s.graph.Neighbors(id)
	sort.Strings(neighbors)
	for _, nb := range neighbors {
		node, _ := s.graph.Node(nb)
		if node.Kind != grid.KindCustomer {
			continue
		}
		cup := res.Node(nb)
		spans := s.graph.Spans(id, nb)
		for i, span := range spans {
			loss := s.spanLoss(res, id, nb, i, span, *cup, len(spans))
			if i == 0 {
				acc.P.R += cup.P.R + loss.P.R
				acc.P.S += cup.P.S + loss.P.S
				acc.P.T += cup.P.T + loss.P.T
				acc.Q.R += cup.Q.R + loss.Q.R
				acc.Q.S += cup.Q.S + loss.Q.S
				acc.Q.T += cup.Q.T + loss.Q.T
			} else {
				acc.P.R += loss.P.R
				acc.P.S += loss.P.S
				acc.P.T += loss.P.T
				acc.Q.R += loss.Q.R
				acc.Q.S += loss.Q.S
				acc.Q.T += loss.Q.T
			}
		}
	}
}

// propagate climbs the tree: a node reports to its parent once all its child
// branches have reported (remaining link count 1). A full pass without
// progress means an unresolved loop; that hour is abandoned with error 4.
func (s *Solver) propagate(res *HourResult) error {
	remaining := make(map[string]int)
	var pending []string
	s.graph.Nodes(func(n *grid.Node) {
		if n.Kind.IsCustomer() || n.ID == s.graph.Substation {
			return
		}
		if _, ok := s.parent[n.ID]; !ok {
			log.Printf("[Solver] node %v unreachable, left out of propagation", n.ID)
			return
		}
		remaining[n.ID] = s.branchCount(n.ID)
		pending = append(pending, n.ID)
	})
	sort.Strings(pending)

	for len(pending) > 0 {
		progressed := false
		next := pending[:0]
		for _, id := range pending {
			if remaining[id] != 1 {
				next = append(next, id)
				continue
			}
			s.report(res, id)
			remaining[id] = 0
			up := s.parent[id]
			if up != s.graph.Substation {
				remaining[up]--
			}
			progressed = true
		}
		pending = next
		if !progressed {
			return fmt.Errorf("solver: no progress with %v nodes pending (%v %v): unresolved loop", len(pending), res.Date, res.Hour)
		}
	}
	return nil
}

// branchCount counts distinct non-customer neighbors. Parallel spans toward
// the same neighbor are one branch; they only matter for the current split.
func (s *Solver) branchCount(id string) int {
	count := 0
	for _, nb := range s.graph.Neighbors(id) {
		n, _ := s.graph.Node(nb)
		if !n.Kind.IsCustomer() {
			count++
		}
	}
	return count
}

// report pushes a node's accumulated power through its uplink spans into the
// parent. The first parallel span carries power plus loss, the rest only add
// their own loss.
func (s *Solver) report(res *HourResult, id string) {
	up := s.parent[id]
	acc := *res.Node(id)
	parent := res.Node(up)
	spans := s.graph.Spans(id, up)
	for i, span := range spans {
		loss := s.spanLoss(res, up, id, i, span, acc, len(spans))
		if i == 0 {
			parent.P.R += acc.P.R + loss.P.R
			parent.P.S += acc.P.S + loss.P.S
			parent.P.T += acc.P.T + loss.P.T
			parent.Q.R += acc.Q.R + loss.Q.R
			parent.Q.S += acc.Q.S + loss.Q.S
			parent.Q.T += acc.Q.T + loss.Q.T
		} else {
			parent.P.R += loss.P.R
			parent.P.S += loss.P.S
			parent.P.T += loss.P.T
			parent.Q.R += loss.Q.R
			parent.Q.S += loss.Q.S
			parent.Q.T += loss.Q.T
		}
	}
}

// spanLoss computes and records the per-phase loss of one span given the
// power flowing through it. Parallel spans split the current evenly.
func (s *Solver) spanLoss(res *HourResult, a, b string, idx int, span *grid.Span, flow NodePower, nParallel int) SpanLoss {
	sl := res.Span(NewSpanKey(a, b, idx))
	if span.Length <= 0 {
		return *sl
	}

	phaseVolt := s.lineVoltage(span.Voltage) / math.Sqrt(3)
	compute := func(p, q float64) (float64, float64) {
		if p == 0 && q == 0 {
			return 0, 0
		}
		current := math.Sqrt(p*1000*p*1000+q*1000*q*1000) / phaseVolt / float64(nParallel)
		cable, found := s.catalog.Lookup(span.Cable)
		if !found {
			cable = conductor.Default()
		}
		r := cable.Resistance(current, s.config.CableTemp) * span.Length
		x := s.config.CableReactance * span.Length
		lossP := r * current * current / 1000
		lossQ := x * current * current / 1000
		if p < 0 {
			// losses caused by injected generation are tracked negative
			lossP = -lossP
			lossQ = -lossQ
		}
		return lossP, lossQ
	}

	var out SpanLoss
	out.P.R, out.Q.R = compute(flow.P.R, flow.Q.R)
	out.P.S, out.Q.S = compute(flow.P.S, flow.Q.S)
	out.P.T, out.Q.T = compute(flow.P.T, flow.Q.T)

	sl.P = out.P
	sl.Q = out.Q
	return out
}

func (s *Solver) lineVoltage(level int) float64 {
	if level == 230 {
		return s.config.LineVoltage230
	}
	return s.config.LineVoltage400
}
