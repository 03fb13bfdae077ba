/*
records.go Raw tabular records for one substation's network description.
Three tables describe a substation: nodes, spans (cable segments) and customer
assignments. Field names mirror the exported table headers.
*/

package topology

// NodeRecord is one row of the node table.
type NodeRecord struct {
	ID          string
	SubstationID int
	Substation  string
	Feeder      string
	FeederName  string
	Transformer string
	Kind        string // ARQUETA, CGP, DERIVACION, APOYO, ...
	X           float64
	Y           float64
}

// SpanRecord is one row of the span (traza) table.
type SpanRecord struct {
	SubstationID int
	Substation   string
	Feeder       string
	Transformer  string
	Origin       string
	Dest         string
	Cable        string
	LocationType string // TIPO_UBICACION: aerial, buried, facade, ...
	OriginX      float64
	OriginY      float64
	DestX        float64
	DestY        float64
	Length       float64 // km, derived during repair
}

// CustomerRecord is one row of the customer assignment table. Head-meter rows
// (aggregate metering at the transformer output) share the shape and are split
// out during repair.
type CustomerRecord struct {
	ID           string // CUPS
	SubstationID int
	Substation   string
	Feeder       string
	Transformer  string
	Phase        string // R, S or T for single phase connections
	ThreePhase   bool
	ContractedKW float64
	Voltage      int // measured tier, 230 or 400
	X            float64
	Y            float64
	HeadMeter    bool

	// Filled by repair.
	NearestNode string
	NearestDist float64
}

// Feeder identifies one low voltage line leaving a transformer.
type Feeder struct {
	ID          string
	Transformer string
	Name        string // blank when the feeder only appears in the span table
}

// Network is the repaired description of one substation, ready for assembly.
type Network struct {
	Quality        Quality
	SubstationID   int
	SubstationName string
	SubstationX    float64
	SubstationY    float64
	Nodes          []NodeRecord
	Spans          []SpanRecord
	Customers      []CustomerRecord
	HeadMeters     []CustomerRecord
	Feeders        []Feeder
	ZeroLenSpans   int
}
