/*
assemble.go Builds the multigraph from a repaired Network: substation root,
virtual transformer and voltage-level nodes, feeder entry points, physical
spans, and customer attachments with 230V shadow paths.
*/

package grid

import (
	"log"
	"strconv"
	"strings"

	"github.com/gtea/depertec_core/internal/pkg/conductor"
	"github.com/gtea/depertec_core/internal/pkg/topology"
)

// nodeColors tags node kinds for presentation output.
var nodeColors = map[string]string{
	"CT":         "red",
	"TRAFO":      "orange",
	"CT_VIRTUAL": "gold",
	"LBT":        "yellow",
	"ARQUETA":    "cyan",
	"CGP":        "green",
	"DERIVACION": "blue",
	"APOYO":      "brown",
	"CUPS":       "black",
	"CUPS_TR":    "magenta",
}

func colorFor(tag string) string {
	if c, ok := nodeColors[tag]; ok {
		return c
	}
	return "gray"
}

// TrafoCode returns the metering code prefix of a transformer. The head-meter
// naming convention appends "1" (230V output) or "2" (400V output) to it.
func TrafoCode(trafo string) string {
	return strings.Replace(trafo, "R", "", 1)
}

// MeterVoltage derives the voltage level a head meter measures from its id.
func MeterVoltage(meterID, trafo string) int {
	code := TrafoCode(trafo)
	if strings.Contains(meterID, code+"1") {
		return 230
	}
	return 400
}

// VoltageNodeID names the virtual node of one transformer voltage output.
func VoltageNodeID(trafo string, voltage int) string {
	return trafo + "_" + strconv.Itoa(voltage)
}

// Assemble builds the multigraph for a repaired network. The returned quality
// is the network's level raised by any defect found during assembly.
func Assemble(net *topology.Network) (*Graph, topology.Quality) {
	quality := net.Quality
	ct := strconv.Itoa(net.SubstationID)
	g := NewGraph(ct)
	g.AddNode(&Node{ID: ct, Kind: KindSubstation, Transformer: "CT",
		X: net.SubstationX, Y: net.SubstationY, Color: colorFor("CT")})

	trafos := transformerSet(net)
	for _, tr := range trafos {
		addTransformer(g, tr, net)
	}

	for _, m := range net.HeadMeters {
		tr := m.Transformer
		if !g.HasNode(tr) {
			addTransformer(g, tr, net)
		}
		voltage := MeterVoltage(m.ID, tr)
		lvl := ensureVoltageLevel(g, tr, voltage)
		meter := g.AddNode(&Node{ID: m.ID, Kind: KindHeadMeter, Transformer: tr,
			Voltage: voltage, X: m.X, Y: m.Y, Color: colorFor("CUPS_TR")})
		g.AddSpan(&Span{Origin: lvl.ID, Dest: meter.ID, Transformer: tr,
			Voltage: voltage, Virtual: true})
	}

	for _, f := range net.Feeders {
		ensureFeederEntry(g, ct, f.Transformer, f.ID, net)
	}

	// physical spans
	nodeByID := make(map[string]topology.NodeRecord)
	for _, n := range net.Nodes {
		nodeByID[n.ID] = n
	}
	synthesized := 0
	for i := range net.Spans {
		s := &net.Spans[i]
		tr := s.Transformer
		if tr == "" && len(trafos) > 0 {
			tr = trafos[0]
		}
		origin := resolveEndpoint(g, ct, tr, s.Feeder, s.Origin, s.OriginX, s.OriginY, nodeByID, net, &synthesized)
		dest := resolveEndpoint(g, ct, tr, s.Feeder, s.Dest, s.DestX, s.DestY, nodeByID, net, &synthesized)
		g.AddSpan(&Span{
			Origin:      origin,
			Dest:        dest,
			Cable:       s.Cable,
			Length:      s.Length,
			Transformer: tr,
			Voltage:     400,
			Feeder:      s.Feeder,
		})
	}
	if synthesized == 1 {
		quality = quality.Raise(topology.QualityMinor)
	} else if synthesized > 1 {
		quality = quality.Raise(topology.QualityCorrected)
	}

	// customer attachments
	for _, c := range net.Customers {
		attach := customerAttachNode(g, c, net, &quality)
		if c.Voltage == 230 {
			attach = shadowAttach(g, ct, c.Transformer, attach)
		}
		cup := g.AddNode(&Node{ID: c.ID, Kind: KindCustomer, Transformer: c.Transformer,
			Voltage: c.Voltage, Feeder: c.Feeder, X: c.X, Y: c.Y,
			Phase: c.Phase, ThreePhase: c.ThreePhase, Color: colorFor("CUPS")})
		g.AddSpan(&Span{
			Origin:      attach,
			Dest:        cup.ID,
			Cable:       conductor.Default().Name,
			Length:      c.NearestDist / 1000,
			Transformer: c.Transformer,
			Voltage:     c.Voltage,
			Feeder:      c.Feeder,
		})
	}

	return g, quality
}

// transformerSet prefers the head-meter list, then spans, then nodes.
func transformerSet(net *topology.Network) []string {
	ordered := func(records func(func(string))) []string {
		seen := make(map[string]bool)
		var out []string
		records(func(tr string) {
			if tr == "" || seen[tr] {
				return
			}
			seen[tr] = true
			out = append(out, tr)
		})
		return out
	}
	if len(net.HeadMeters) > 0 {
		return ordered(func(add func(string)) {
			for _, m := range net.HeadMeters {
				add(m.Transformer)
			}
		})
	}
	out := ordered(func(add func(string)) {
		for _, s := range net.Spans {
			add(s.Transformer)
		}
		for _, n := range net.Nodes {
			add(n.Transformer)
		}
		for _, c := range net.Customers {
			add(c.Transformer)
		}
	})
	if len(out) == 0 {
		out = []string{"TR1"}
	}
	return out
}

func addTransformer(g *Graph, tr string, net *topology.Network) {
	n := g.AddNode(&Node{ID: tr, Kind: KindTransformer, Transformer: tr,
		X: net.SubstationX, Y: net.SubstationY, Color: colorFor("TRAFO")})
	g.AddSpan(&Span{Origin: g.Substation, Dest: n.ID, Transformer: tr, Virtual: true})
	ensureVoltageLevel(g, tr, 400)
}

func ensureVoltageLevel(g *Graph, tr string, voltage int) *Node {
	id := VoltageNodeID(tr, voltage)
	if n, ok := g.Node(id); ok {
		return n
	}
	base, _ := g.Node(tr)
	n := g.AddNode(&Node{ID: id, Kind: KindVoltageLevel, Transformer: tr,
		Voltage: voltage, X: base.X, Y: base.Y, Color: colorFor("CT_VIRTUAL")})
	g.AddSpan(&Span{Origin: tr, Dest: id, Transformer: tr, Voltage: voltage, Virtual: true})
	return n
}

// ensureFeederEntry creates the virtual node every physical span of a feeder
// hangs beneath, linked under the transformer's 400V output.
func ensureFeederEntry(g *Graph, ct, tr, feeder string, net *topology.Network) *Node {
	id := ct + "_" + feeder
	if n, ok := g.Node(id); ok {
		return n
	}
	if !g.HasNode(tr) {
		addTransformer(g, tr, net)
	}
	lvl := ensureVoltageLevel(g, tr, 400)
	n := g.AddNode(&Node{ID: id, Kind: KindFeeder, Transformer: tr, Voltage: 400,
		Feeder: feeder, X: lvl.X, Y: lvl.Y, Color: colorFor("LBT")})
	g.AddSpan(&Span{Origin: lvl.ID, Dest: id, Transformer: tr, Voltage: 400,
		Feeder: feeder, Virtual: true})
	return n
}

// resolveEndpoint maps one span endpoint to its graph node, synthesizing
// undeclared nodes from the span's own coordinates.
func resolveEndpoint(g *Graph, ct, tr, feeder, raw string, x, y float64, nodeByID map[string]topology.NodeRecord, net *topology.Network, synthesized *int) string {
	if rec, ok := nodeByID[raw]; ok && rec.Kind == "CT" {
		return ensureFeederEntry(g, ct, tr, feeder, net).ID
	}
	if raw == ct {
		return ensureFeederEntry(g, ct, tr, feeder, net).ID
	}

	id := raw + "_" + feeder
	if g.HasNode(id) {
		return id
	}
	if rec, ok := nodeByID[raw]; ok {
		g.AddNode(&Node{ID: id, Kind: KindPhysical, PhysKind: rec.Kind,
			Transformer: tr, Voltage: 400, Feeder: feeder,
			X: rec.X, Y: rec.Y, Color: colorFor(rec.Kind)})
		return id
	}
	log.Printf("[Grid] node %v not declared, synthesized from span coordinates", raw)
	*synthesized++
	g.AddNode(&Node{ID: id, Kind: KindPhysical, PhysKind: "SINTETICO",
		Transformer: tr, Voltage: 400, Feeder: feeder,
		X: x, Y: y, Color: colorFor("SINTETICO")})
	return id
}

func customerAttachNode(g *Graph, c topology.CustomerRecord, net *topology.Network, quality *topology.Quality) string {
	if c.NearestNode == "" {
		if !g.HasNode(c.Transformer) {
			addTransformer(g, c.Transformer, net)
		}
		return c.Transformer
	}
	id := c.NearestNode + "_" + c.Feeder
	if g.HasNode(id) {
		return id
	}
	// the nearest node belongs to another feeder's suffix space
	for _, f := range net.Feeders {
		candidate := c.NearestNode + "_" + f.ID
		if g.HasNode(candidate) {
			return candidate
		}
	}
	log.Printf("[Grid] customer %v: attachment node %v missing, using transformer", c.ID, c.NearestNode)
	*quality = quality.Raise(topology.QualityCorrected)
	if !g.HasNode(c.Transformer) {
		addTransformer(g, c.Transformer, net)
	}
	return c.Transformer
}

// shadowAttach duplicates the path from the transformer's 400V output down to
// the attachment node under a "_230" suffix, reusing cable and length, so the
// two voltage levels accumulate independently.
func shadowAttach(g *Graph, ct, tr, attach string) string {
	lvl230 := ensureVoltageLevel(g, tr, 230)
	path, ok := g.ShortestPath(ct, attach)
	if !ok {
		return lvl230.ID
	}

	// keep only the part of the path below the 400V output
	start := -1
	for i, id := range path {
		if id == VoltageNodeID(tr, 400) {
			start = i
			break
		}
	}
	if start < 0 || start == len(path)-1 {
		return lvl230.ID
	}

	prev := lvl230.ID
	for i := start + 1; i < len(path); i++ {
		orig, _ := g.Node(path[i])
		shadowID := path[i] + "_230"
		if !g.HasNode(shadowID) {
			g.AddNode(&Node{ID: shadowID, Kind: orig.Kind, PhysKind: orig.PhysKind,
				Transformer: tr, Voltage: 230, Feeder: orig.Feeder,
				X: orig.X, Y: orig.Y, Color: orig.Color})
		}
		if len(g.Spans(prev, shadowID)) == 0 {
			template := g.Spans(path[i-1], path[i])[0]
			g.AddSpan(&Span{
				Origin:      prev,
				Dest:        shadowID,
				Cable:       template.Cable,
				Length:      template.Length,
				Transformer: tr,
				Voltage:     230,
				Feeder:      template.Feeder,
				Virtual:     template.Virtual,
			})
		}
		prev = shadowID
	}
	return prev
}
