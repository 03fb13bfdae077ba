/*
engine.go Per-substation pipeline: read the topology tables, repair them,
assemble the multigraph, break its cycles and resolve every hour of a date
range. Resolved hours fan out to subscribed sinks as Records.
*/

package engine

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gtea/depertec_core/internal/pkg/conductor"
	"github.com/gtea/depertec_core/internal/pkg/grid"
	"github.com/gtea/depertec_core/internal/pkg/loadcurve"
	"github.com/gtea/depertec_core/internal/pkg/solver"
	"github.com/gtea/depertec_core/internal/pkg/topology"
)

// Persistence modes. Sinks decide what to store from each Record.
const (
	PersistNone       = 0 // publish only
	PersistAggregates = 1 // hourly aggregate rows
	PersistSeries     = 2 // aggregates plus per-node and per-span series
	PersistEverything = 3 // series plus graph snapshots
)

// Config is the engine's JSON document. The Solver block is passed through
// untouched.
type Config struct {
	SubstationID   int             `json:"SubstationID"`
	SubstationName string          `json:"SubstationName"`
	NodesFile      string          `json:"NodesFile"`
	SpansFile      string          `json:"SpansFile"`
	CustomersFile  string          `json:"CustomersFile"`
	CableLibrary   string          `json:"CableLibrary"`
	CurvesDir      string          `json:"CurvesDir"`
	RegistryFile   string          `json:"RegistryFile"`
	UseCache       bool            `json:"UseCache"`
	PersistMode    int             `json:"PersistMode"`
	Solver         json.RawMessage `json:"Solver"`
}

// Record is one resolved hour as published to the sinks.
type Record struct {
	RunID          uuid.UUID
	SubstationID   int
	SubstationName string
	CaseID         int64
	Date           string // persisted date, after the hour 24 rollover
	Hour           int    // persisted hour, 0 after rollover
	Quality        topology.Quality
	Aggregates     []solver.Aggregate
	Result         *solver.HourResult
}

// CachedGraph is what a SnapshotStore persists per substation.
type CachedGraph struct {
	Snapshot grid.Snapshot
	Quality  topology.Quality
}

// SnapshotStore archives assembled graphs. Load returns nil when no snapshot
// exists for the substation.
type SnapshotStore interface {
	Load(substationID int) (*CachedGraph, error)
	Save(substationID int, c CachedGraph) error
}

// Engine drives one substation through the date range.
type Engine struct {
	mux     *sync.Mutex
	pid     uuid.UUID
	config  Config
	catalog *conductor.Catalog
	net     *topology.Network
	graph   *grid.Graph
	solver  *solver.Solver
	quality topology.Quality
	store   SnapshotStore
	subs    []chan Record

	curves *loadcurve.Set
	period string
}

// New configures an engine from a JSON document.
func New(jsonConfig []byte) (*Engine, error) {
	config := Config{}
	if err := json.Unmarshal(jsonConfig, &config); err != nil {
		return nil, err
	}
	if config.SubstationID == 0 {
		return nil, fmt.Errorf("engine: SubstationID missing from config")
	}
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	return &Engine{mux: &sync.Mutex{}, pid: pid, config: config}, nil
}

// NewFromFile reads the config document from disk.
func NewFromFile(configPath string) (*Engine, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return New(jsonConfig)
}

// PID returns the engine's run id.
func (e *Engine) PID() uuid.UUID {
	return e.pid
}

// Quality returns the build quality of the current graph.
func (e *Engine) Quality() topology.Quality {
	return e.quality
}

// Graph exposes the assembled graph, nil before Build.
func (e *Engine) Graph() *grid.Graph {
	return e.graph
}

// SetSnapshotStore attaches the snapshot archive used by the cache path.
func (e *Engine) SetSnapshotStore(store SnapshotStore) {
	e.store = store
}

// Subscribe returns a channel carrying every Record the engine publishes.
func (e *Engine) Subscribe() <-chan Record {
	e.mux.Lock()
	defer e.mux.Unlock()
	ch := make(chan Record, 50)
	e.subs = append(e.subs, ch)
	return ch
}

func (e *Engine) publish(rec Record) {
	e.mux.Lock()
	defer e.mux.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- rec:
		default:
			log.Printf("[Engine] subscriber full, record %v dropped", rec.CaseID)
		}
	}
}

// Close ends the record streams. Sinks drain and stop.
func (e *Engine) Close() {
	e.mux.Lock()
	defer e.mux.Unlock()
	for _, ch := range e.subs {
		close(ch)
	}
	e.subs = nil
}

// Build prepares the solvable graph: from the snapshot archive when the cache
// is enabled and warm, else from the topology tables.
func (e *Engine) Build() error {
	catalog, err := conductor.LoadCatalog(e.config.CableLibrary)
	if err != nil {
		log.Printf("[Engine] CT %v: cable library unavailable (%v), defaults only", e.config.SubstationID, err)
		catalog = conductor.NewCatalog()
	}
	e.catalog = catalog

	if e.config.UseCache && e.store != nil {
		cached, err := e.store.Load(e.config.SubstationID)
		if err != nil {
			log.Printf("[Engine] CT %v: snapshot load failed (%v), rebuilding", e.config.SubstationID, err)
		} else if cached != nil {
			g, err := grid.Import(cached.Snapshot)
			if err == nil {
				log.Printf("[Engine] CT %v: graph restored from snapshot (quality %v)", e.config.SubstationID, cached.Quality)
				e.graph = g
				e.quality = cached.Quality
				return e.finishBuild()
			}
			log.Printf("[Engine] CT %v: snapshot unusable (%v), rebuilding", e.config.SubstationID, err)
		}
	}

	if err := e.buildFromTables(); err != nil {
		return err
	}
	if e.store != nil {
		if err := e.store.Save(e.config.SubstationID, CachedGraph{Snapshot: e.graph.Export(), Quality: e.quality}); err != nil {
			log.Printf("[Engine] CT %v: snapshot save failed: %v", e.config.SubstationID, err)
		}
	}
	return e.finishBuild()
}

func (e *Engine) buildFromTables() error {
	id, name := e.config.SubstationID, e.config.SubstationName

	nodes, err := topology.ReadNodes(e.config.NodesFile, id, name)
	if err != nil {
		return fmt.Errorf("engine: nodes table: %v", err)
	}
	spans, err := topology.ReadSpans(e.config.SpansFile, id, name)
	if err != nil {
		return fmt.Errorf("engine: spans table: %v", err)
	}
	customers, err := topology.ReadCustomers(e.config.CustomersFile, id, name)
	if err != nil {
		return fmt.Errorf("engine: customers table: %v", err)
	}

	net, err := topology.Repair(id, name, nodes, spans, customers, e.catalog)
	if err != nil {
		if net != nil {
			e.recordQuality(net.Quality)
		}
		return err
	}

	g, q := grid.Assemble(net)
	net.Quality = net.Quality.Raise(q)
	net.Quality = net.Quality.Raise(grid.Eliminate(g, net))
	if net.Quality >= topology.QualityAbort {
		e.recordQuality(net.Quality)
		return fmt.Errorf("engine: CT %v: cycle elimination gave up", id)
	}

	e.net = net
	e.graph = g
	e.quality = net.Quality
	return nil
}

func (e *Engine) finishBuild() error {
	s, err := solver.New(e.config.Solver, e.catalog, e.graph)
	if err != nil {
		return err
	}
	e.solver = s
	e.recordQuality(e.quality)
	log.Printf("[Engine] CT %v: %v nodes, %v spans, %v line ends, %v branch points, quality %v",
		e.config.SubstationID, e.graph.NodeCount(), e.graph.SpanCount(),
		len(e.graph.TerminalNodes()), len(e.graph.SplittingNodes()), e.quality)
	return nil
}

// RunDay resolves every civil hour of one date (23, 24 or 25 around the DST
// changes) and publishes each Record. An hour that fails to converge yields a
// Record with quality 4 and no aggregates; the remaining hours still run.
func (e *Engine) RunDay(date string, curves *loadcurve.Set) ([]Record, error) {
	if e.solver == nil {
		return nil, fmt.Errorf("engine: RunDay before Build")
	}
	var out []Record
	hours := HoursInDay(date)
	for hour := 1; hour <= hours; hour++ {
		pDate, pHour, err := PersistDate(date, hour)
		if err != nil {
			return out, err
		}
		caseID, err := solver.CaseID(pDate, pHour)
		if err != nil {
			return out, err
		}
		rec := Record{
			RunID:          e.pid,
			SubstationID:   e.config.SubstationID,
			SubstationName: e.config.SubstationName,
			CaseID:         caseID,
			Date:           pDate,
			Hour:           pHour,
			Quality:        e.quality,
		}

		res, err := e.solver.Resolve(date, hour, curves)
		if err != nil {
			log.Printf("[Engine] CT %v %v h%02d: %v", e.config.SubstationID, date, hour, err)
			rec.Quality = res.Quality
			rec.Result = res
		} else {
			rec.Quality = rec.Quality.Raise(res.Quality)
			rec.Result = res
			rec.Aggregates = e.solver.Aggregates(res, curves)
		}
		e.publish(rec)
		out = append(out, rec)
	}
	return out, nil
}

// RunRange walks the dates from start to end inclusive (YYYYMMDD), reloading
// the load curves whenever the month changes.
func (e *Engine) RunRange(start, end string) error {
	from, err := time.Parse("20060102", start)
	if err != nil {
		return fmt.Errorf("engine: bad start date %v: %v", start, err)
	}
	to, err := time.Parse("20060102", end)
	if err != nil {
		return fmt.Errorf("engine: bad end date %v: %v", end, err)
	}
	if to.Before(from) {
		return fmt.Errorf("engine: end %v before start %v", end, start)
	}

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		date := day.Format("20060102")
		if err := e.ensureCurves(day.Format("200601")); err != nil {
			return err
		}
		if _, err := e.RunDay(date, e.curves); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) ensureCurves(period string) error {
	if e.period == period && e.curves != nil {
		return nil
	}
	set, err := loadcurve.LoadMonth(e.config.CurvesDir, period, e.config.SubstationID)
	if err != nil {
		return err
	}
	for _, id := range e.metersWithoutCurves(set) {
		log.Printf("[Engine] CT %v: customer %v has no load curve in %v, treated as zero",
			e.config.SubstationID, id, period)
	}
	e.curves = set
	e.period = period
	return nil
}

// metersWithoutCurves lists attached customers absent from a month's export,
// so a dropped meter never disappears silently.
func (e *Engine) metersWithoutCurves(set *loadcurve.Set) []string {
	if e.graph == nil {
		return nil
	}
	var out []string
	for _, id := range e.graph.Customers() {
		if !set.HasCustomer(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// civilLocation is the grid's time zone. Without tzdata on the host every
// day counts 24 hours.
var civilLocation, _ = time.LoadLocation("Europe/Madrid")

// HoursInDay returns the civil hour count of a date: 23 on the spring DST
// change, 25 on the autumn one, 24 otherwise.
func HoursInDay(date string) int {
	if civilLocation == nil {
		return 24
	}
	d, err := time.ParseInLocation("20060102", date, civilLocation)
	if err != nil {
		return 24
	}
	return int(d.AddDate(0, 0, 1).Sub(d) / time.Hour)
}

// PersistDate maps a civil hour to its persisted (date, hour): the last hour
// of the day rolls into hour 0 of the next one.
func PersistDate(date string, hour int) (string, int, error) {
	if hour < HoursInDay(date) {
		return date, hour, nil
	}
	d, err := time.Parse("20060102", date)
	if err != nil {
		return "", 0, err
	}
	return d.AddDate(0, 0, 1).Format("20060102"), 0, nil
}

// recordQuality appends the run's quality to the CSV registry, one line per
// substation and run date.
func (e *Engine) recordQuality(q topology.Quality) {
	if e.config.RegistryFile == "" {
		return
	}
	f, err := os.OpenFile(e.config.RegistryFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("[Engine] quality registry: %v", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%v;%v;%v\n", e.config.SubstationID, time.Now().Format("20060102"), int(q))
}
