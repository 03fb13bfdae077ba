package conductor

import (
	"encoding/xml"
	"io/ioutil"
	"log"
	"strings"
)

// Catalog is the cable library, keyed by normalized cable name.
type Catalog struct {
	entries map[string]Conductor
}

type xmlLibrary struct {
	XMLName xml.Name   `xml:"cables"`
	Cables  []xmlCable `xml:"cable"`
}

type xmlCable struct {
	Name string  `xml:"name,attr"`
	Rdc  float64 `xml:"Rdc"`
	T0   float64 `xml:"T0"`
	Di   float64 `xml:"Di"`
	Do   float64 `xml:"Do"`
	S    float64 `xml:"S"`
}

// NewCatalog returns an empty catalog; every lookup misses.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]Conductor)}
}

// LoadCatalog reads a cable library XML document from disk.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes a cable library document. Entries missing a field keep
// the default conductor's value for it.
func ParseCatalog(raw []byte) (*Catalog, error) {
	lib := xmlLibrary{}
	if err := xml.Unmarshal(raw, &lib); err != nil {
		return nil, err
	}

	entries := make(map[string]Conductor)
	for _, c := range lib.Cables {
		e := Default()
		e.Name = c.Name
		if c.Rdc > 0 {
			e.Rdc = c.Rdc
		}
		if c.T0 != 0 {
			e.T0 = c.T0
		}
		if c.Di > 0 {
			e.Di = c.Di
		}
		if c.Do > 0 {
			e.Do = c.Do
		}
		if c.S > 0 {
			e.S = c.S
		}
		entries[NormalizeName(c.Name)] = e
	}
	log.Printf("[Conductor] catalog loaded: %v cable types", len(entries))
	return &Catalog{entries: entries}, nil
}

// NormalizeName canonicalizes a raw cable name for catalog lookup.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Lookup returns the conductor for a cable name. found is false on a miss;
// callers decide the fallback (default conductor or a sibling span's cable).
func (c *Catalog) Lookup(name string) (Conductor, bool) {
	e, ok := c.entries[NormalizeName(name)]
	if !ok {
		return Default(), false
	}
	return e, true
}

// Len reports the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}
