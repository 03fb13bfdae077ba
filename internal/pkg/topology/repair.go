/*
repair.go Turns the raw tables of one substation into a validated Network.
Defects are corrected with ordered fallbacks and recorded in the quality
level; unusable inputs abort with QualityAbort and no partial result.
*/

package topology

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/gtea/depertec_core/internal/pkg/conductor"
)

// ErrAborted is returned when the input data cannot produce a usable graph.
var ErrAborted = errors.New("topology: data quality abort")

// zeroLenLimit aborts the run when more than this share of spans has no
// resolvable length.
const zeroLenLimit = 0.20

// cableFallback is one step of the cable resolution cascade. Steps run in
// order; the first hit wins and raises the network quality to its level.
type cableFallback struct {
	name    string
	level   Quality
	resolve func(s SpanRecord, spans []SpanRecord, cat *conductor.Catalog) (string, bool)
}

func cableFallbacks() []cableFallback {
	return []cableFallback{
		{
			name:  "catalog",
			level: QualityClean,
			resolve: func(s SpanRecord, _ []SpanRecord, cat *conductor.Catalog) (string, bool) {
				if c, found := cat.Lookup(s.Cable); found {
					return c.Name, true
				}
				return "", false
			},
		},
		{
			name:  "location-type sibling",
			level: QualityMinor,
			resolve: func(s SpanRecord, spans []SpanRecord, cat *conductor.Catalog) (string, bool) {
				for _, other := range spans {
					if other.LocationType != s.LocationType {
						continue
					}
					if c, found := cat.Lookup(other.Cable); found {
						return c.Name, true
					}
				}
				return "", false
			},
		},
		{
			name:  "any sibling",
			level: QualityCorrected,
			resolve: func(s SpanRecord, spans []SpanRecord, cat *conductor.Catalog) (string, bool) {
				for _, other := range spans {
					if c, found := cat.Lookup(other.Cable); found {
						return c.Name, true
					}
				}
				return "", false
			},
		},
		{
			name:  "default",
			level: QualityCorrected,
			resolve: func(_ SpanRecord, _ []SpanRecord, _ *conductor.Catalog) (string, bool) {
				return conductor.Default().Name, true
			},
		},
	}
}

// resolveCable walks the fallback cascade for one span.
func resolveCable(s SpanRecord, spans []SpanRecord, cat *conductor.Catalog) (string, Quality) {
	for _, fb := range cableFallbacks() {
		if name, ok := fb.resolve(s, spans, cat); ok {
			if fb.level > QualityClean {
				log.Printf("[Topology] span %v-%v: cable %q resolved via %v", s.Origin, s.Dest, s.Cable, fb.name)
			}
			return name, fb.level
		}
	}
	// unreachable, the default step always hits
	return conductor.Default().Name, QualityCorrected
}

// Repair validates and corrects the three tables of one substation.
func Repair(substationID int, substationName string, nodes []NodeRecord, spans []SpanRecord, customers []CustomerRecord, cat *conductor.Catalog) (*Network, error) {
	net := &Network{
		Quality:        QualityClean,
		SubstationID:   substationID,
		SubstationName: substationName,
	}

	if len(nodes) == 0 && len(spans) == 0 && len(customers) == 0 {
		net.Quality = QualityAbort
		return net, fmt.Errorf("%w: no rows for substation %v (%v)", ErrAborted, substationID, substationName)
	}

	var meters []CustomerRecord
	var cups []CustomerRecord
	for _, c := range customers {
		if c.HeadMeter {
			meters = append(meters, c)
		} else {
			cups = append(cups, c)
		}
	}
	if len(cups) == 0 {
		net.Quality = QualityAbort
		return net, fmt.Errorf("%w: no customer points for substation %v", ErrAborted, substationID)
	}

	net.SubstationX, net.SubstationY = substationCoords(nodes)
	net.Nodes = nodes
	net.HeadMeters = meters

	// span lengths and coordinate repair
	for i := range spans {
		repairCoords(&spans[i], nodes, net)
		spans[i].Length = spanLength(spans[i])
		if spans[i].Length <= 0 {
			net.ZeroLenSpans++
		}
	}
	if len(spans) > 0 && float64(net.ZeroLenSpans) > zeroLenLimit*float64(len(spans)) {
		net.Quality = QualityAbort
		return net, fmt.Errorf("%w: %v of %v spans have zero length", ErrAborted, net.ZeroLenSpans, len(spans))
	}

	// cable resolution cascade
	for i := range spans {
		name, level := resolveCable(spans[i], spans, cat)
		spans[i].Cable = name
		net.Quality = net.Quality.Raise(level)
	}

	// a customer-only description keeps every customer connected through a
	// synthesized span straight to its transformer
	if len(nodes) == 0 && len(spans) == 0 {
		log.Printf("[Topology] substation %v described only by customers, synthesizing spans", substationID)
		net.Quality = net.Quality.Raise(QualityCorrected)
		for i := range cups {
			placeholder := "ACOM_" + cups[i].ID
			span := SpanRecord{
				SubstationID: substationID,
				Substation:   substationName,
				Feeder:       cups[i].Feeder,
				Transformer:  cups[i].Transformer,
				Origin:       cups[i].Transformer,
				Dest:         placeholder,
				Cable:        conductor.Default().Name,
				OriginX:      net.SubstationX,
				OriginY:      net.SubstationY,
				DestX:        cups[i].X,
				DestY:        cups[i].Y,
			}
			// without a substation position the distance is meaningless
			span.Length = spanLength(span)
			spans = append(spans, span)
			cups[i].NearestNode = placeholder
			cups[i].NearestDist = 0
		}
	} else {
		assignNearestNodes(cups, nodes, net)
	}

	net.Spans = spans
	net.Customers = cups
	net.Feeders = feederInventory(nodes, spans)
	return net, nil
}

func substationCoords(nodes []NodeRecord) (float64, float64) {
	for _, n := range nodes {
		if n.Kind == "CT" {
			return n.X, n.Y
		}
	}
	if len(nodes) > 0 {
		return nodes[0].X, nodes[0].Y
	}
	return 0, 0
}

// repairCoords substitutes non-positive span endpoint coordinates from the
// node table, falling back to the substation position.
func repairCoords(s *SpanRecord, nodes []NodeRecord, net *Network) {
	fix := func(x, y *float64, nodeID string) {
		if *x > 0 && *y > 0 {
			return
		}
		for _, n := range nodes {
			if n.ID == nodeID && n.X > 0 && n.Y > 0 {
				*x, *y = n.X, n.Y
				net.Quality = net.Quality.Raise(QualityMinor)
				return
			}
		}
		if net.SubstationX > 0 && net.SubstationY > 0 {
			*x, *y = net.SubstationX, net.SubstationY
			net.Quality = net.Quality.Raise(QualityCorrected)
			return
		}
		*x, *y = 0, 0
	}
	fix(&s.OriginX, &s.OriginY, s.Origin)
	fix(&s.DestX, &s.DestY, s.Dest)
}

// spanLength returns the straight-line span length in km.
func spanLength(s SpanRecord) float64 {
	if s.OriginX <= 0 || s.DestX <= 0 || s.OriginY <= 0 || s.DestY <= 0 {
		return 0
	}
	return dist(s.OriginX, s.OriginY, s.DestX, s.DestY) / 1000
}

func dist(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

// assignNearestNodes links every customer to the closest node of its own
// transformer. A customer with no candidate node keeps NearestNode empty and
// is attached to the transformer virtual node during assembly.
func assignNearestNodes(cups []CustomerRecord, nodes []NodeRecord, net *Network) {
	for i := range cups {
		best := ""
		bestDist := math.MaxFloat64
		for _, n := range nodes {
			if n.Transformer != cups[i].Transformer {
				continue
			}
			d := dist(cups[i].X, cups[i].Y, n.X, n.Y)
			if d < bestDist {
				best = n.ID
				bestDist = d
			}
		}
		if best == "" {
			log.Printf("[Topology] customer %v: no node for transformer %v, attaching at transformer", cups[i].ID, cups[i].Transformer)
			net.Quality = net.Quality.Raise(QualityCorrected)
			cups[i].NearestDist = 0
			continue
		}
		cups[i].NearestNode = best
		cups[i].NearestDist = bestDist
	}
}

// feederInventory collects the distinct (transformer, feeder) pairs present in
// either table. Span-only feeders carry a blank display name.
func feederInventory(nodes []NodeRecord, spans []SpanRecord) []Feeder {
	seen := make(map[string]int)
	var out []Feeder
	for _, n := range nodes {
		if n.Feeder == "" {
			continue
		}
		key := n.Transformer + "/" + n.Feeder
		if i, ok := seen[key]; ok {
			if out[i].Name == "" {
				out[i].Name = n.FeederName
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, Feeder{ID: n.Feeder, Transformer: n.Transformer, Name: n.FeederName})
	}
	for _, s := range spans {
		if s.Feeder == "" {
			continue
		}
		key := s.Transformer + "/" + s.Feeder
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = len(out)
		out = append(out, Feeder{ID: s.Feeder, Transformer: s.Transformer})
	}
	return out
}
