/*
reader.go Tabular input decoding. The exported tables are semicolon delimited,
Latin-9 encoded and use the decimal comma. Rows that do not parse are logged
and skipped rather than failing the whole table.
*/

package topology

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Table is a header-indexed view over one decoded file. The load-curve
// exports share the same encoding, so the reader is exported.
type Table struct {
	cols map[string]int
	Rows [][]string
}

// ReadTable decodes one semicolon-delimited Latin-9 table.
func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(charmap.ISO8859_15.NewDecoder().Reader(r))
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("table has no header row")
	}

	cols := make(map[string]int)
	for i, name := range records[0] {
		cols[strings.ToUpper(strings.TrimSpace(name))] = i
	}
	return &Table{cols: cols, Rows: records[1:]}, nil
}

// ReadTableFile opens and decodes one table file.
func ReadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTable(f)
}

// Field returns one named column of a row, trimmed. Missing columns are "".
func (t *Table) Field(row []string, name string) string {
	i, ok := t.cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ParseDecimal parses a decimal-comma number. Blank input is 0.
func ParseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
}

// NormalizeID canonicalizes a free-text identifier: trims whitespace, strips
// the ".0" suffix left behind by spreadsheet float exports, and upper-cases.
func NormalizeID(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if strings.HasSuffix(s, ".0") {
		s = strings.TrimSuffix(s, ".0")
	}
	return s
}

// ReadNodes decodes the node table, keeping only rows for the substation.
func ReadNodes(path string, substationID int, substationName string) ([]NodeRecord, error) {
	t, err := ReadTableFile(path)
	if err != nil {
		return nil, err
	}
	return parseNodes(t, substationID, substationName), nil
}

func parseNodes(t *Table, substationID int, substationName string) []NodeRecord {
	var out []NodeRecord
	for _, row := range t.Rows {
		id, err := strconv.Atoi(t.Field(row, "ID_CT"))
		if err != nil || id != substationID {
			continue
		}
		// name and id must both match, a name collision alone is ignored
		if !strings.EqualFold(t.Field(row, "CT_NOMBRE"), substationName) {
			continue
		}
		x, errX := ParseDecimal(t.Field(row, "NODO_X"))
		y, errY := ParseDecimal(t.Field(row, "NODO_Y"))
		if errX != nil || errY != nil {
			log.Printf("[Topology] node %v: bad coordinates, row skipped", t.Field(row, "ID_NODO"))
			continue
		}
		out = append(out, NodeRecord{
			ID:           NormalizeID(t.Field(row, "ID_NODO")),
			SubstationID: id,
			Substation:   strings.TrimSpace(t.Field(row, "CT_NOMBRE")),
			Feeder:       NormalizeID(t.Field(row, "LBT_ID")),
			FeederName:   strings.TrimSpace(t.Field(row, "LBT_NOMBRE")),
			Transformer:  NormalizeID(t.Field(row, "TRAFO")),
			Kind:         NormalizeID(t.Field(row, "TIPO_NODO")),
			X:            x,
			Y:            y,
		})
	}
	return out
}

// ReadSpans decodes the span table, keeping only rows for the substation.
func ReadSpans(path string, substationID int, substationName string) ([]SpanRecord, error) {
	t, err := ReadTableFile(path)
	if err != nil {
		return nil, err
	}
	return parseSpans(t, substationID, substationName), nil
}

func parseSpans(t *Table, substationID int, substationName string) []SpanRecord {
	var out []SpanRecord
	for _, row := range t.Rows {
		id, err := strconv.Atoi(t.Field(row, "ID_CT"))
		if err != nil || id != substationID {
			continue
		}
		if !strings.EqualFold(t.Field(row, "CT_NOMBRE"), substationName) {
			continue
		}
		ox, _ := ParseDecimal(t.Field(row, "ORIGEN_X"))
		oy, _ := ParseDecimal(t.Field(row, "ORIGEN_Y"))
		dx, _ := ParseDecimal(t.Field(row, "DESTINO_X"))
		dy, _ := ParseDecimal(t.Field(row, "DESTINO_Y"))
		out = append(out, SpanRecord{
			SubstationID: id,
			Substation:   strings.TrimSpace(t.Field(row, "CT_NOMBRE")),
			Feeder:       NormalizeID(t.Field(row, "LBT_ID")),
			Transformer:  NormalizeID(t.Field(row, "TRAFO")),
			Origin:       NormalizeID(t.Field(row, "NODO_ORIGEN")),
			Dest:         NormalizeID(t.Field(row, "NODO_DESTINO")),
			Cable:        strings.TrimSpace(t.Field(row, "CABLE")),
			LocationType: NormalizeID(t.Field(row, "TIPO_UBICACION")),
			OriginX:      ox,
			OriginY:      oy,
			DestX:        dx,
			DestY:        dy,
		})
	}
	return out
}

// ReadCustomers decodes the customer assignment table for the substation.
func ReadCustomers(path string, substationID int, substationName string) ([]CustomerRecord, error) {
	t, err := ReadTableFile(path)
	if err != nil {
		return nil, err
	}
	return parseCustomers(t, substationID, substationName), nil
}

func parseCustomers(t *Table, substationID int, substationName string) []CustomerRecord {
	var out []CustomerRecord
	for _, row := range t.Rows {
		id, err := strconv.Atoi(t.Field(row, "ID_CT"))
		if err != nil || id != substationID {
			continue
		}
		if !strings.EqualFold(t.Field(row, "CT_NOMBRE"), substationName) {
			continue
		}
		x, _ := ParseDecimal(t.Field(row, "CUPS_X"))
		y, _ := ParseDecimal(t.Field(row, "CUPS_Y"))
		contracted, _ := ParseDecimal(t.Field(row, "POT_CONTRATADA"))
		voltage, _ := strconv.Atoi(t.Field(row, "QBT_TENSION"))

		conn := NormalizeID(t.Field(row, "TIPO_CONEXION"))
		out = append(out, CustomerRecord{
			ID:           NormalizeID(t.Field(row, "CUPS")),
			SubstationID: id,
			Substation:   strings.TrimSpace(t.Field(row, "CT_NOMBRE")),
			Feeder:       NormalizeID(t.Field(row, "LBT_ID")),
			Transformer:  NormalizeID(t.Field(row, "TRAFO")),
			Phase:        NormalizeID(t.Field(row, "AMM_FASE")),
			ThreePhase:   strings.HasPrefix(conn, "TRIF"),
			ContractedKW: contracted,
			Voltage:      voltage,
			X:            x,
			Y:            y,
			HeadMeter:    NormalizeID(t.Field(row, "TIPO_PUNTO_MEDIDA")) == "FRONTERA_CT",
		})
	}
	return out
}
