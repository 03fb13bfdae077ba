package engine

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gtea/depertec_core/internal/pkg/loadcurve"
	"github.com/gtea/depertec_core/internal/pkg/topology"
	"gotest.tools/assert"
)

const nodesFixture = `ID_NODO;ID_CT;CT_NOMBRE;LBT_ID;LBT_NOMBRE;TRAFO;TIPO_NODO;NODO_X;NODO_Y
N1;8417;MIRAMONTE;100;LINEA 1;TR01;ARQUETA;430100,5;4810200,2
N2;8417;MIRAMONTE;100;LINEA 1;TR01;CGP;430150,0;4810250,0
`

const spansFixture = `NODO_ORIGEN;NODO_DESTINO;ID_CT;CT_NOMBRE;LBT_ID;TRAFO;CABLE;TIPO_UBICACION;ORIGEN_X;ORIGEN_Y;DESTINO_X;DESTINO_Y
8417;N1;8417;MIRAMONTE;100;TR01;TEST_4x16_CU;SUBTERRANEO;430050,0;4810150,0;430100,5;4810200,2
N1;N2;8417;MIRAMONTE;100;TR01;TEST_4x16_CU;SUBTERRANEO;430100,5;4810200,2;430150,0;4810250,0
`

const customersFixture = `CUPS;ID_CT;CT_NOMBRE;LBT_ID;TRAFO;AMM_FASE;TIPO_CONEXION;POT_CONTRATADA;QBT_TENSION;CUPS_X;CUPS_Y;TIPO_PUNTO_MEDIDA
ES001;8417;MIRAMONTE;100;TR01;R;MONOFASICO;5,75;400;430151,0;4810251,0;SUMINISTRO
ES002;8417;MIRAMONTE;100;TR01;S;MONOFASICO;3,45;400;430101,0;4810201,0;SUMINISTRO
08417T012;8417;MIRAMONTE;;TR01;;TRIFASICO;0;400;0;0;FRONTERA_CT
`

const cablesFixture = `
<cables>
  <cable name="TEST_4x16_CU"><Rdc>1.0</Rdc><T0>20</T0><Di>1</Di><Do>8</Do><S>16</S></cable>
</cables>`

const customerCurves = `CUPS;FECHA;MAGNITUD;DATA_VALIDATION;VALOR_H01;VALOR_H24
ES001;20200101;7;A;10,0;4,0
`

const headCurves = `CODIGO_LVC;FECHA;MAGNITUD;DATA_VALIDATION;VALOR_H01
08417T012;20200101;7;A;11,0
`

func writeFixtures(t *testing.T) (dir string, config []byte) {
	dir, err := ioutil.TempDir("", "engine")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	curves := filepath.Join(dir, "curves")
	if err := os.Mkdir(curves, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"nodes.csv":                        nodesFixture,
		"spans.csv":                        spansFixture,
		"customers.csv":                    customersFixture,
		"cables.xml":                       cablesFixture,
		"curves/CURVAS_CAPTADA_202001.csv": customerCurves,
		"curves/AE_GISS_202001.csv":        headCurves,
	}
	for name, body := range files {
		if err := ioutil.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := Config{
		SubstationID:   8417,
		SubstationName: "MIRAMONTE",
		NodesFile:      filepath.Join(dir, "nodes.csv"),
		SpansFile:      filepath.Join(dir, "spans.csv"),
		CustomersFile:  filepath.Join(dir, "customers.csv"),
		CableLibrary:   filepath.Join(dir, "cables.xml"),
		CurvesDir:      curves,
		RegistryFile:   filepath.Join(dir, "registry.csv"),
		Solver:         json.RawMessage(`{"LineVoltage400":400}`),
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return dir, raw
}

func TestEngineRunRangeOneDay(t *testing.T) {
	dir, raw := writeFixtures(t)

	e, err := New(raw)
	assert.NilError(t, err)
	ch := e.Subscribe()

	assert.NilError(t, e.Build())
	assert.Equal(t, e.Quality(), topology.QualityClean)

	assert.NilError(t, e.RunRange("20200101", "20200101"))
	e.Close()

	var records []Record
	for rec := range ch {
		records = append(records, rec)
	}
	assert.Equal(t, len(records), 24)

	first := records[0]
	assert.Equal(t, first.CaseID, int64(2020010101))
	assert.Equal(t, int(first.Quality), 0)
	assert.Equal(t, len(first.Aggregates), 3)
	assert.Equal(t, first.Result.Node("ES001").P.R, 10.0)
	assert.Assert(t, first.Result.Node("8417").P.R > 10.0, "substation carries load plus loss")

	// hour 24 persists as hour 0 of the next day
	last := records[23]
	assert.Equal(t, last.Date, "20200102")
	assert.Equal(t, last.Hour, 0)
	assert.Equal(t, last.CaseID, int64(2020010200))
	assert.Equal(t, last.Result.Node("ES001").P.R, 4.0)

	registry, err := ioutil.ReadFile(filepath.Join(dir, "registry.csv"))
	assert.NilError(t, err)
	assert.Assert(t, strings.HasPrefix(string(registry), "8417;"))
}

func TestEngineAggregatesUseHeadMeters(t *testing.T) {
	_, raw := writeFixtures(t)

	e, err := New(raw)
	assert.NilError(t, err)
	assert.NilError(t, e.Build())

	records, err := func() ([]Record, error) {
		if err := e.ensureCurves("202001"); err != nil {
			return nil, err
		}
		return e.RunDay("20200101", e.curves)
	}()
	assert.NilError(t, err)

	byScope := map[string]float64{}
	for _, a := range records[0].Aggregates {
		byScope[a.Scope] = a.MeasuredAE
	}
	// the single head meter serves the CT, transformer and 400V scopes
	assert.Equal(t, byScope["8417"], 11.0)
	assert.Equal(t, byScope["TR01"], 11.0)
	assert.Equal(t, byScope["TR01_400"], 11.0)
}

type fakeStore struct {
	saved map[int]CachedGraph
	loads int
}

func (f *fakeStore) Load(id int) (*CachedGraph, error) {
	f.loads++
	c, ok := f.saved[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeStore) Save(id int, c CachedGraph) error {
	if f.saved == nil {
		f.saved = make(map[int]CachedGraph)
	}
	f.saved[id] = c
	return nil
}

func TestEngineSnapshotCache(t *testing.T) {
	_, raw := writeFixtures(t)
	store := &fakeStore{}

	e1, err := New(raw)
	assert.NilError(t, err)
	e1.SetSnapshotStore(store)
	assert.NilError(t, e1.Build())
	assert.Equal(t, len(store.saved), 1)

	// warm cache: the table files are gone but the graph still builds
	cfg := Config{}
	assert.NilError(t, json.Unmarshal(raw, &cfg))
	cfg.UseCache = true
	cfg.NodesFile = "/nonexistent/nodes.csv"
	cfg.SpansFile = "/nonexistent/spans.csv"
	cfg.CustomersFile = "/nonexistent/customers.csv"
	raw2, err := json.Marshal(cfg)
	assert.NilError(t, err)

	e2, err := New(raw2)
	assert.NilError(t, err)
	e2.SetSnapshotStore(store)
	assert.NilError(t, e2.Build())
	assert.Equal(t, e2.Graph().NodeCount(), e1.Graph().NodeCount())
	assert.Equal(t, e2.Graph().SpanCount(), e1.Graph().SpanCount())
}

func TestEngineReportsMetersWithoutCurves(t *testing.T) {
	_, raw := writeFixtures(t)

	e, err := New(raw)
	assert.NilError(t, err)
	assert.NilError(t, e.Build())
	assert.NilError(t, e.ensureCurves("202001"))

	// ES002 is attached to the graph but the month's export has no rows for it
	missing := e.metersWithoutCurves(e.curves)
	assert.DeepEqual(t, missing, []string{"ES002"})
	assert.Assert(t, e.curves.HasCustomer("ES001"))
}

func TestEngineRunDayBeforeBuild(t *testing.T) {
	_, raw := writeFixtures(t)
	e, err := New(raw)
	assert.NilError(t, err)
	_, err = e.RunDay("20200101", nil)
	assert.Assert(t, err != nil)
}

func TestPersistDate(t *testing.T) {
	cases := []struct {
		date     string
		hour     int
		wantDate string
		wantHour int
	}{
		{"20200101", 1, "20200101", 1},
		{"20200101", 23, "20200101", 23},
		{"20200101", 24, "20200102", 0},
		{"20200131", 24, "20200201", 0},
		{"20201231", 24, "20210101", 0},
	}
	for _, c := range cases {
		d, h, err := PersistDate(c.date, c.hour)
		assert.NilError(t, err)
		assert.Equal(t, d, c.wantDate, fmt.Sprintf("%v h%v", c.date, c.hour))
		assert.Equal(t, h, c.wantHour)
	}

	_, _, err := PersistDate("bogus", 24)
	assert.Assert(t, err != nil)
}

func TestHoursInDay(t *testing.T) {
	if civilLocation == nil {
		t.Skip("tzdata unavailable")
	}
	assert.Equal(t, HoursInDay("20200101"), 24)
	assert.Equal(t, HoursInDay("20200329"), 23) // spring change
	assert.Equal(t, HoursInDay("20201025"), 25) // autumn change
	assert.Equal(t, HoursInDay("bogus"), 24)
}

func TestPersistDateOnChangeDays(t *testing.T) {
	if civilLocation == nil {
		t.Skip("tzdata unavailable")
	}
	cases := []struct {
		date     string
		hour     int
		wantDate string
		wantHour int
	}{
		{"20201025", 24, "20201025", 24}, // the long day keeps its hour 24
		{"20201025", 25, "20201026", 0},
		{"20200329", 22, "20200329", 22},
		{"20200329", 23, "20200330", 0}, // the short day rolls over at 23
	}
	for _, c := range cases {
		d, h, err := PersistDate(c.date, c.hour)
		assert.NilError(t, err)
		assert.Equal(t, d, c.wantDate, fmt.Sprintf("%v h%v", c.date, c.hour))
		assert.Equal(t, h, c.wantHour)
	}
}

func TestEngineRunDayCoversTheLongDay(t *testing.T) {
	if civilLocation == nil {
		t.Skip("tzdata unavailable")
	}
	_, raw := writeFixtures(t)
	e, err := New(raw)
	assert.NilError(t, err)
	assert.NilError(t, e.Build())

	records, err := e.RunDay("20201025", loadcurve.NewSet("202010"))
	assert.NilError(t, err)
	assert.Equal(t, len(records), 25)
	last := records[24]
	assert.Equal(t, last.Date, "20201026")
	assert.Equal(t, last.Hour, 0)
	assert.Equal(t, last.CaseID, int64(2020102600))

	records, err = e.RunDay("20200329", loadcurve.NewSet("202003"))
	assert.NilError(t, err)
	assert.Equal(t, len(records), 23)
}
