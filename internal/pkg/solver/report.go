/*
report.go Hourly aggregate rows: the substation, each transformer and each
voltage-level output, with computed power, the head-meter measurement and the
deviation code between them.
*/

package solver

import (
	"sort"
	"strconv"

	"github.com/gtea/depertec_core/internal/pkg/grid"
	"github.com/gtea/depertec_core/internal/pkg/loadcurve"
)

// Deviation codes for the computed-vs-measured comparison.
const (
	CompareOK         = 0 // within the configured band
	CompareUnder      = 1 // computed below the band
	CompareOver       = 2 // computed above the band
	CompareNoMeasured = 3 // measured value missing or zero
)

// Aggregate is one scope row of an hour: what the scope node would have to
// supply, what its head meter saw, and the losses attributed downstream.
type Aggregate struct {
	Scope       string // node id: substation, transformer or voltage level
	CodeLVC     string // head-meter code marker used for the measured lookup
	CompareCode int
	Computed    PhaseVals // P at the scope node [kW]
	MeasuredAE  float64
	MeasuredAS  float64
	LossAE      PhaseVals // downstream losses tied to delivered power
	LossAS      PhaseVals // downstream losses tied to injected generation
	LossQ       PhaseVals
	Connected   PhaseVals // attached customer load
}

// Aggregates builds the scope rows for one resolved hour.
func (s *Solver) Aggregates(res *HourResult, curves *loadcurve.Set) []Aggregate {
	var out []Aggregate

	ct := s.graph.Substation
	out = append(out, s.aggregate(res, curves, ct, "", func(sp *grid.Span) bool { return true },
		func(n *grid.Node) bool { return true }))

	trafos := s.scopeChildren(ct, grid.KindTransformer)
	for _, tr := range trafos {
		marker := grid.TrafoCode(tr)
		out = append(out, s.aggregate(res, curves, tr, marker,
			func(sp *grid.Span) bool { return sp.Transformer == tr },
			func(n *grid.Node) bool { return n.Transformer == tr }))

		for _, lvl := range s.scopeChildren(tr, grid.KindVoltageLevel) {
			node, _ := s.graph.Node(lvl)
			voltage := node.Voltage
			suffix := "2"
			if voltage == 230 {
				suffix = "1"
			}
			out = append(out, s.aggregate(res, curves, lvl, marker+suffix,
				func(sp *grid.Span) bool { return sp.Transformer == tr && sp.Voltage == voltage },
				func(n *grid.Node) bool { return n.Transformer == tr && n.Voltage == voltage }))
		}
	}
	return out
}

func (s *Solver) scopeChildren(id string, kind grid.NodeKind) []string {
	var out []string
	for _, nb := range s.graph.Neighbors(id) {
		n, _ := s.graph.Node(nb)
		if n.Kind == kind {
			out = append(out, nb)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Solver) aggregate(res *HourResult, curves *loadcurve.Set, scope, marker string, spanIn func(*grid.Span) bool, customerIn func(*grid.Node) bool) Aggregate {
	agg := Aggregate{Scope: scope, CodeLVC: marker}

	if acc, ok := res.Nodes[scope]; ok {
		agg.Computed = acc.P
	}
	agg.MeasuredAE = curves.HeadAE(marker, res.Date, res.Hour)
	agg.MeasuredAS = curves.HeadAS(marker, res.Date, res.Hour)

	s.graph.EachSpan(func(a, b string, idx int, sp *grid.Span) {
		if !spanIn(sp) {
			return
		}
		loss, ok := res.Spans[NewSpanKey(a, b, idx)]
		if !ok {
			return
		}
		split := func(v float64, ae, as *float64, q float64, aq *float64) {
			if v >= 0 {
				*ae += v
				*aq += q
			} else {
				*as += -v
			}
		}
		split(loss.P.R, &agg.LossAE.R, &agg.LossAS.R, loss.Q.R, &agg.LossQ.R)
		split(loss.P.S, &agg.LossAE.S, &agg.LossAS.S, loss.Q.S, &agg.LossQ.S)
		split(loss.P.T, &agg.LossAE.T, &agg.LossAS.T, loss.Q.T, &agg.LossQ.T)
	})

	s.graph.Nodes(func(n *grid.Node) {
		if n.Kind != grid.KindCustomer || !customerIn(n) {
			return
		}
		if acc, ok := res.Nodes[n.ID]; ok {
			agg.Connected.R += acc.P.R
			agg.Connected.S += acc.P.S
			agg.Connected.T += acc.P.T
		}
	})

	agg.CompareCode = s.compare(agg.Computed.Sum(), agg.MeasuredAE)
	return agg
}

// compare grades the computed total against the measured one. The deviation
// is expressed as the percentage missing from 100.
func (s *Solver) compare(computed, measured float64) int {
	if measured == 0 {
		return CompareNoMeasured
	}
	dev := 100 - computed*100/measured
	switch {
	case -s.config.UpperLimit <= dev && dev <= s.config.LowerLimit:
		return CompareOK
	case dev > s.config.LowerLimit:
		return CompareUnder
	case dev < -s.config.UpperLimit:
		return CompareOver
	}
	return CompareNoMeasured
}

// CaseID builds the persisted case identifier YYYYMMDDHH.
func CaseID(date string, hour int) (int64, error) {
	d, err := strconv.ParseInt(date, 10, 64)
	if err != nil {
		return 0, err
	}
	return d*100 + int64(hour), nil
}
