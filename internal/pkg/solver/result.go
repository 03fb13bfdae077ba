/*
result.go Per-hour result structures. Accumulators live here, keyed by node
and span, and are rebuilt from zero on every Resolve call; the graph itself
carries no hour state.
*/

package solver

import (
	"github.com/gtea/depertec_core/internal/pkg/topology"
)

// PhaseVals holds one value per phase R, S, T.
type PhaseVals struct {
	R, S, T float64
}

// Add accumulates v on the named phase.
func (p *PhaseVals) Add(phase string, v float64) {
	switch phase {
	case "R":
		p.R += v
	case "S":
		p.S += v
	case "T":
		p.T += v
	}
}

// AddBalanced spreads v equally across the three phases.
func (p *PhaseVals) AddBalanced(v float64) {
	p.R += v / 3
	p.S += v / 3
	p.T += v / 3
}

// Sum returns R+S+T.
func (p PhaseVals) Sum() float64 {
	return p.R + p.S + p.T
}

// NodePower is the accumulated downstream power at one node [kW, kVAr].
type NodePower struct {
	P PhaseVals
	Q PhaseVals
}

// SpanKey addresses one parallel span of an unordered node pair.
type SpanKey struct {
	A, B  string
	Index int
}

// NewSpanKey normalizes the endpoint order.
func NewSpanKey(a, b string, idx int) SpanKey {
	if a > b {
		a, b = b, a
	}
	return SpanKey{A: a, B: b, Index: idx}
}

// SpanLoss is the loss dissipated in one span for one hour. The sign follows
// the downstream power: negative loss belongs to injected generation.
type SpanLoss struct {
	P PhaseVals
	Q PhaseVals
}

// HourResult carries everything computed for one simulated hour.
type HourResult struct {
	Date    string // YYYYMMDD
	Hour    int    // 1..25
	Quality topology.Quality
	Nodes   map[string]*NodePower
	Spans   map[SpanKey]*SpanLoss
}

func newHourResult(date string, hour int) *HourResult {
	return &HourResult{
		Date:  date,
		Hour:  hour,
		Nodes: make(map[string]*NodePower),
		Spans: make(map[SpanKey]*SpanLoss),
	}
}

// Node returns the accumulator of a node, creating it zeroed.
func (r *HourResult) Node(id string) *NodePower {
	n, ok := r.Nodes[id]
	if !ok {
		n = &NodePower{}
		r.Nodes[id] = n
	}
	return n
}

// Span returns the accumulator of a span, creating it zeroed.
func (r *HourResult) Span(k SpanKey) *SpanLoss {
	s, ok := r.Spans[k]
	if !ok {
		s = &SpanLoss{}
		r.Spans[k] = s
	}
	return s
}
