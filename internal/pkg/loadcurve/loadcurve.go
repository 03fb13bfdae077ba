/*
loadcurve.go Hourly load-curve ingestion. The metering system exports one
file per month and kind; files are located by marker substrings in the name
("CAPTADA" for customer curves, "AE_GISS"/"AS_GISS" for the head-meter series)
plus the YYYYMM period. Rows share the topology tables' encoding.
*/

package loadcurve

import (
	"fmt"
	"io/ioutil"
	"log"
	"path/filepath"
	"strings"

	"github.com/gtea/depertec_core/internal/pkg/topology"
)

// Magnitude codes of the metering export.
const (
	MagnitudeConsumption = 7 // AE, energy drawn from the network
	MagnitudeInjection   = 8 // AS, energy fed back (self generation)
)

// HoursPerDay is the number of hourly columns; the 25th covers the long day
// of the DST change.
const HoursPerDay = 25

// File name markers.
const (
	markerCustomer = "CAPTADA"
	markerHeadAE   = "AE_GISS"
	markerHeadAS   = "AS_GISS"
)

// Reading is one meter-day: 24 or 25 hourly power values [kW].
type Reading struct {
	Meter     string // CUPS for customers, CODIGO_LVC for head meters
	Date      string // YYYYMMDD
	Magnitude int
	Values    [HoursPerDay]float64
	Flags     [HoursPerDay]string
}

// Set holds the curves of one month for one substation.
type Set struct {
	Period    string // YYYYMM
	customers map[string][]Reading // key meter|date
	headAE    []Reading
	headAS    []Reading
}

func key(meter, date string) string {
	return meter + "|" + date
}

// NewSet returns an empty in-memory set for the period.
func NewSet(period string) *Set {
	return &Set{Period: period, customers: make(map[string][]Reading)}
}

// AddCustomer appends one customer meter-day.
func (s *Set) AddCustomer(r Reading) {
	k := key(r.Meter, r.Date)
	s.customers[k] = append(s.customers[k], r)
}

// AddHead appends one head-meter meter-day, routed by magnitude.
func (s *Set) AddHead(r Reading) {
	if r.Magnitude == MagnitudeInjection {
		s.headAS = append(s.headAS, r)
		return
	}
	s.headAE = append(s.headAE, r)
}

// LoadMonth scans a directory for the month's export files. The head-meter
// files are filtered to rows whose CODIGO_LVC embeds the zero-padded
// substation id.
func LoadMonth(dir string, period string, substationID int) (*Set, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	set := &Set{Period: period, customers: make(map[string][]Reading)}
	ctMark := fmt.Sprintf("%05d", substationID)
	found := false
	for _, e := range entries {
		name := strings.ToUpper(e.Name())
		if e.IsDir() || !strings.Contains(name, period) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		switch {
		case strings.Contains(name, markerCustomer):
			if err := set.readCustomerFile(path); err != nil {
				return nil, err
			}
			found = true
		case strings.Contains(name, markerHeadAE):
			if err := set.readHeadFile(path, ctMark, &set.headAE); err != nil {
				return nil, err
			}
			found = true
		case strings.Contains(name, markerHeadAS):
			if err := set.readHeadFile(path, ctMark, &set.headAS); err != nil {
				return nil, err
			}
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("loadcurve: no files for period %v in %v", period, dir)
	}
	log.Printf("[LoadCurve] period %v: %v customer meter-days, %v AE and %v AS head rows",
		period, len(set.customers), len(set.headAE), len(set.headAS))
	return set, nil
}

func (s *Set) readCustomerFile(path string) error {
	t, err := topology.ReadTableFile(path)
	if err != nil {
		return err
	}
	for _, row := range t.Rows {
		r, ok := parseReading(t, row, "CUPS")
		if !ok {
			continue
		}
		k := key(r.Meter, r.Date)
		s.customers[k] = append(s.customers[k], r)
	}
	return nil
}

func (s *Set) readHeadFile(path, ctMark string, into *[]Reading) error {
	t, err := topology.ReadTableFile(path)
	if err != nil {
		return err
	}
	for _, row := range t.Rows {
		r, ok := parseReading(t, row, "CODIGO_LVC")
		if !ok {
			continue
		}
		// the zero padding matters: id 832 must not match 8323
		if !strings.Contains(r.Meter, ctMark) {
			continue
		}
		*into = append(*into, r)
	}
	return nil
}

// parseReading decodes one row. Rows whose DATA_VALIDATION is neither
// accepted (A) nor provisional (P) are dropped.
func parseReading(t *topology.Table, row []string, meterCol string) (Reading, bool) {
	validation := strings.ToUpper(t.Field(row, "DATA_VALIDATION"))
	if validation != "A" && validation != "P" {
		return Reading{}, false
	}
	magnitude := 0
	switch t.Field(row, "MAGNITUD") {
	case "7":
		magnitude = MagnitudeConsumption
	case "8":
		magnitude = MagnitudeInjection
	default:
		return Reading{}, false
	}

	r := Reading{
		Meter:     topology.NormalizeID(t.Field(row, meterCol)),
		Date:      strings.TrimSpace(t.Field(row, "FECHA")),
		Magnitude: magnitude,
	}
	if r.Meter == "" || r.Date == "" {
		return Reading{}, false
	}
	for h := 1; h <= HoursPerDay; h++ {
		col := fmt.Sprintf("VALOR_H%02d", h)
		v, err := topology.ParseDecimal(t.Field(row, col))
		if err != nil {
			log.Printf("[LoadCurve] meter %v %v: bad value in %v, using 0", r.Meter, r.Date, col)
			v = 0
		}
		r.Values[h-1] = v
		r.Flags[h-1] = t.Field(row, fmt.Sprintf("FLAG_H%02d", h))
	}
	return r, true
}

// Power returns the signed net power of one customer for an hour (1..25):
// consumption positive, injection negative. Missing data is 0.
func (s *Set) Power(cups, date string, hour int) float64 {
	if hour < 1 || hour > HoursPerDay {
		return 0
	}
	p := 0.0
	for _, r := range s.customers[key(cups, date)] {
		switch r.Magnitude {
		case MagnitudeConsumption:
			p += r.Values[hour-1]
		case MagnitudeInjection:
			p -= r.Values[hour-1]
		}
	}
	return p
}

// HasCustomer reports whether the set carries any curve for a customer.
func (s *Set) HasCustomer(cups string) bool {
	for k := range s.customers {
		if strings.HasPrefix(k, cups+"|") {
			return true
		}
	}
	return false
}

// HeadAE sums the measured consumption of head meters whose code contains
// the marker, for one date and hour. An empty marker sums the whole
// substation.
func (s *Set) HeadAE(marker, date string, hour int) float64 {
	return sumHead(s.headAE, marker, date, hour)
}

// HeadAS is the injection counterpart of HeadAE.
func (s *Set) HeadAS(marker, date string, hour int) float64 {
	return sumHead(s.headAS, marker, date, hour)
}

func sumHead(readings []Reading, marker, date string, hour int) float64 {
	if hour < 1 || hour > HoursPerDay {
		return 0
	}
	total := 0.0
	for _, r := range readings {
		if r.Date != date {
			continue
		}
		if marker != "" && !strings.Contains(r.Meter, marker) {
			continue
		}
		total += r.Values[hour-1]
	}
	return total
}
