package grid

import (
	"testing"

	"github.com/gtea/depertec_core/internal/pkg/topology"
	"gotest.tools/assert"
)

// assembleNet describes one transformer, one feeder, a CT node and two
// physical nodes in a line, with a single phase customer at the end.
func assembleNet() *topology.Network {
	return &topology.Network{
		Quality:        topology.QualityClean,
		SubstationID:   8417,
		SubstationName: "MIRAMONTE",
		SubstationX:    1000,
		SubstationY:    1000,
		Nodes: []topology.NodeRecord{
			{ID: "CTN", Kind: "CT", Transformer: "TR1", Feeder: "100", X: 1000, Y: 1000},
			{ID: "N1", Kind: "ARQUETA", Transformer: "TR1", Feeder: "100", X: 1100, Y: 1000},
			{ID: "N2", Kind: "CGP", Transformer: "TR1", Feeder: "100", X: 1200, Y: 1000},
		},
		Spans: []topology.SpanRecord{
			{Origin: "CTN", Dest: "N1", Feeder: "100", Transformer: "TR1", Cable: "TEST_4x16_CU", Length: 0.1},
			{Origin: "N1", Dest: "N2", Feeder: "100", Transformer: "TR1", Cable: "TEST_4x16_CU", Length: 0.1},
		},
		Customers: []topology.CustomerRecord{
			{ID: "ES001", Feeder: "100", Transformer: "TR1", Phase: "R", Voltage: 400,
				NearestNode: "N2", NearestDist: 5},
		},
		HeadMeters: []topology.CustomerRecord{
			{ID: "CUPST12XX", Feeder: "100", Transformer: "TR1", HeadMeter: true},
		},
		Feeders: []topology.Feeder{{ID: "100", Transformer: "TR1", Name: "LINEA 1"}},
	}
}

func TestAssembleVirtualBackbone(t *testing.T) {
	g, q := Assemble(assembleNet())
	assert.Equal(t, q, topology.QualityClean)

	assert.Equal(t, g.Substation, "8417")
	for _, id := range []string{"8417", "TR1", "TR1_400", "8417_100"} {
		assert.Assert(t, g.HasNode(id), "missing %v", id)
	}

	// zero length virtual chain CT -> trafo -> voltage -> feeder entry
	assert.Assert(t, g.Spans("8417", "TR1")[0].Virtual)
	assert.Assert(t, g.Spans("TR1", "TR1_400")[0].Virtual)
	assert.Assert(t, g.Spans("TR1_400", "8417_100")[0].Virtual)
}

func TestAssemblePhysicalNodesCarryFeederSuffix(t *testing.T) {
	g, _ := Assemble(assembleNet())

	assert.Assert(t, g.HasNode("N1_100"))
	assert.Assert(t, g.HasNode("N2_100"))
	// the CT-kind endpoint maps to the feeder entry node
	assert.Equal(t, len(g.Spans("8417_100", "N1_100")), 1)

	n1, _ := g.Node("N1_100")
	assert.Equal(t, n1.Kind, KindPhysical)
	assert.Equal(t, n1.PhysKind, "ARQUETA")
	assert.Equal(t, n1.Color, "cyan")
}

func TestAssembleHeadMeterVoltage(t *testing.T) {
	// trafo code of TR1 is T1; meter id containing T12 measures the 400V side
	assert.Equal(t, MeterVoltage("CUPST12XX", "TR1"), 400)
	assert.Equal(t, MeterVoltage("CUPST11XX", "TR1"), 230)

	g, _ := Assemble(assembleNet())
	m, ok := g.Node("CUPST12XX")
	assert.Assert(t, ok)
	assert.Equal(t, m.Kind, KindHeadMeter)
	assert.Equal(t, m.Voltage, 400)
	assert.Equal(t, len(g.Spans("TR1_400", "CUPST12XX")), 1)
}

func TestAssembleCustomerAttachment(t *testing.T) {
	g, _ := Assemble(assembleNet())

	cup, ok := g.Node("ES001")
	assert.Assert(t, ok)
	assert.Equal(t, cup.Kind, KindCustomer)
	spans := g.Spans("N2_100", "ES001")
	assert.Equal(t, len(spans), 1)
	assert.Equal(t, spans[0].Length, 0.005)

	// customer links do not count toward the attachment node's branches
	n2, _ := g.Node("N2_100")
	assert.Equal(t, n2.LinksOrig, 1)
}

func TestAssembleSynthesizesUndeclaredEndpoint(t *testing.T) {
	net := assembleNet()
	net.Spans = append(net.Spans, topology.SpanRecord{
		Origin: "N2", Dest: "NX", Feeder: "100", Transformer: "TR1",
		Cable: "TEST_4x16_CU", Length: 0.05, DestX: 1300, DestY: 1000,
	})
	g, q := Assemble(net)

	assert.Assert(t, g.HasNode("NX_100"))
	nx, _ := g.Node("NX_100")
	assert.Equal(t, nx.X, 1300.0)
	assert.Equal(t, q, topology.QualityMinor)
}

func TestAssemble230VShadowPath(t *testing.T) {
	net := assembleNet()
	net.Customers = append(net.Customers, topology.CustomerRecord{
		ID: "ES230", Feeder: "100", Transformer: "TR1", Phase: "S", Voltage: 230,
		NearestNode: "N2", NearestDist: 3,
	})
	g, _ := Assemble(net)

	// a parallel 230V path mirrors the physical route
	for _, id := range []string{"TR1_230", "8417_100_230", "N1_100_230", "N2_100_230"} {
		assert.Assert(t, g.HasNode(id), "missing %v", id)
	}
	shadow, _ := g.Node("N2_100_230")
	assert.Equal(t, shadow.Voltage, 230)

	// shadow spans reuse the 400V cable and length
	orig := g.Spans("N1_100", "N2_100")[0]
	dup := g.Spans("N1_100_230", "N2_100_230")[0]
	assert.Equal(t, dup.Cable, orig.Cable)
	assert.Equal(t, dup.Length, orig.Length)
	assert.Equal(t, dup.Voltage, 230)

	// the customer hangs off the shadow node
	assert.Equal(t, len(g.Spans("N2_100_230", "ES230")), 1)
}

func TestAssembleCustomerWithoutNearestNode(t *testing.T) {
	net := assembleNet()
	net.Customers[0].NearestNode = ""
	g, _ := Assemble(net)

	assert.Equal(t, len(g.Spans("TR1", "ES001")), 1)
}
