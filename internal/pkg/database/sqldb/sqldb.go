/*
sqldb.go MySQL sink. Consumes engine Records and writes the hourly aggregate
rows plus, above persistence mode 1, the per-node and per-span series tables
of each substation.
*/

package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gtea/depertec_core/internal/pkg/engine"
	"github.com/gtea/depertec_core/internal/pkg/solver"

	_ "github.com/go-sql-driver/mysql"
)

// Publisher is the record source the handler subscribes to.
type Publisher interface {
	Subscribe() <-chan engine.Record
}

type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan engine.Record
	pid    uuid.UUID
	config config
	stop   chan bool
}

type config struct {
	Server      string `json:"Server"`
	Port        int    `json:"Port"`
	Username    string `json:"Username"`
	Password    string `json:"Password"`
	Database    string `json:"Database"`
	PersistMode int    `json:"PersistMode"`
}

func New(configPath string, source Publisher) (Handler, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	return NewFromConfig(jsonConfig, source)
}

func NewFromConfig(jsonConfig []byte, source Publisher) (Handler, error) {
	cfg := config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return Handler{}, err
	}

	return Handler{
		mux:    &sync.Mutex{},
		inbox:  source.Subscribe(),
		pid:    pid,
		config: cfg,
		stop:   make(chan bool),
	}, nil
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

func (h *Handler) Stop() {
	h.stop <- true
}

func (h Handler) DB() (*sql.DB, error) {
	uri := fmt.Sprintf("%v:%v@tcp(%v:%v)/%v", h.config.Username, h.config.Password, h.config.Server, h.config.Port, h.config.Database)
	db, err := sql.Open("mysql", uri)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (h Handler) Process() {
	if h.config.PersistMode < engine.PersistAggregates {
		log.Println("[SQL] persistence disabled, draining records")
		h.drain()
		return
	}

	db, err := h.DB()
	if err != nil {
		panic(err)
	}
	defer db.Close()

	if err := initTables(db); err != nil {
		panic(err)
	}

	seriesReady := make(map[int]bool)
loop:
	for {
		select {
		case rec, ok := <-h.inbox:
			if !ok {
				break loop
			}
			h.store(db, rec, seriesReady)
		case <-h.stop:
			break loop
		}
	}
	log.Println("[SQL] Process Shutdown")
}

func (h Handler) drain() {
	for {
		select {
		case _, ok := <-h.inbox:
			if !ok {
				return
			}
		case <-h.stop:
			return
		}
	}
}

func (h Handler) store(db *sql.DB, rec engine.Record, seriesReady map[int]bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, agg := range rec.Aggregates {
		if _, err := db.ExecContext(ctx, insertAggregate, aggregateRow(rec, agg)...); err != nil {
			log.Printf("[SQL] aggregate row %v/%v: %v", rec.CaseID, agg.Scope, err)
		}
	}

	if h.config.PersistMode < engine.PersistSeries || rec.Result == nil {
		return
	}
	if !seriesReady[rec.SubstationID] {
		if err := initSeriesTables(db, rec.SubstationID); err != nil {
			log.Printf("[SQL] series tables for CT %v: %v", rec.SubstationID, err)
			return
		}
		seriesReady[rec.SubstationID] = true
	}
	for _, row := range nodeRows(rec) {
		if _, err := db.ExecContext(ctx, insertNode(rec.SubstationID), row...); err != nil {
			log.Printf("[SQL] node row %v: %v", rec.CaseID, err)
		}
	}
	for _, row := range spanRows(rec) {
		if _, err := db.ExecContext(ctx, insertSpan(rec.SubstationID), row...); err != nil {
			log.Printf("[SQL] span row %v: %v", rec.CaseID, err)
		}
	}
}

const createAggregates = `CREATE TABLE IF NOT EXISTS DEPERTEC_RESULTADOS (
	ID_CASO BIGINT NOT NULL,
	ID_CT INT NOT NULL,
	CT_NOMBRE VARCHAR(64),
	AMBITO VARCHAR(64) NOT NULL,
	CODIGO_LVC VARCHAR(32),
	COD_COMPARA TINYINT,
	CALIDAD TINYINT,
	RUN_ID VARCHAR(36),
	P_R DOUBLE, P_S DOUBLE, P_T DOUBLE,
	AE_MEDIDA DOUBLE, AS_MEDIDA DOUBLE,
	PERD_AE_R DOUBLE, PERD_AE_S DOUBLE, PERD_AE_T DOUBLE,
	PERD_AS_R DOUBLE, PERD_AS_S DOUBLE, PERD_AS_T DOUBLE,
	PERD_Q_R DOUBLE, PERD_Q_S DOUBLE, PERD_Q_T DOUBLE,
	CARGA_R DOUBLE, CARGA_S DOUBLE, CARGA_T DOUBLE,
	PRIMARY KEY (ID_CASO, ID_CT, AMBITO))`

const insertAggregate = `REPLACE INTO DEPERTEC_RESULTADOS (
	ID_CASO, ID_CT, CT_NOMBRE, AMBITO, CODIGO_LVC, COD_COMPARA, CALIDAD, RUN_ID,
	P_R, P_S, P_T, AE_MEDIDA, AS_MEDIDA,
	PERD_AE_R, PERD_AE_S, PERD_AE_T,
	PERD_AS_R, PERD_AS_S, PERD_AS_T,
	PERD_Q_R, PERD_Q_S, PERD_Q_T,
	CARGA_R, CARGA_S, CARGA_T)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func initTables(db *sql.DB) error {
	_, err := db.Exec(createAggregates)
	return err
}

func aggregateRow(rec engine.Record, agg solver.Aggregate) []interface{} {
	return []interface{}{
		rec.CaseID, rec.SubstationID, rec.SubstationName,
		agg.Scope, agg.CodeLVC, agg.CompareCode, int(rec.Quality), rec.RunID.String(),
		agg.Computed.R, agg.Computed.S, agg.Computed.T,
		agg.MeasuredAE, agg.MeasuredAS,
		agg.LossAE.R, agg.LossAE.S, agg.LossAE.T,
		agg.LossAS.R, agg.LossAS.S, agg.LossAS.T,
		agg.LossQ.R, agg.LossQ.S, agg.LossQ.T,
		agg.Connected.R, agg.Connected.S, agg.Connected.T,
	}
}

// nodeTable and spanTable name the per-substation series tables.
func nodeTable(substationID int) string {
	return fmt.Sprintf("CT_%v_NODOS", substationID)
}

func spanTable(substationID int) string {
	return fmt.Sprintf("CT_%v_TRAZAS", substationID)
}

func initSeriesTables(db *sql.DB, substationID int) error {
	nodes := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %v (
	ID_CASO BIGINT NOT NULL,
	NODO VARCHAR(64) NOT NULL,
	P_R DOUBLE, P_S DOUBLE, P_T DOUBLE,
	Q_R DOUBLE, Q_S DOUBLE, Q_T DOUBLE,
	PRIMARY KEY (ID_CASO, NODO))`, nodeTable(substationID))
	if _, err := db.Exec(nodes); err != nil {
		return err
	}
	spans := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %v (
	ID_CASO BIGINT NOT NULL,
	ORIGEN VARCHAR(64) NOT NULL,
	DESTINO VARCHAR(64) NOT NULL,
	IDX INT NOT NULL,
	PERD_R DOUBLE, PERD_S DOUBLE, PERD_T DOUBLE,
	PERD_Q_R DOUBLE, PERD_Q_S DOUBLE, PERD_Q_T DOUBLE,
	PRIMARY KEY (ID_CASO, ORIGEN, DESTINO, IDX))`, spanTable(substationID))
	_, err := db.Exec(spans)
	return err
}

func insertNode(substationID int) string {
	return fmt.Sprintf(`REPLACE INTO %v (ID_CASO, NODO, P_R, P_S, P_T, Q_R, Q_S, Q_T)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nodeTable(substationID))
}

func insertSpan(substationID int) string {
	return fmt.Sprintf(`REPLACE INTO %v (ID_CASO, ORIGEN, DESTINO, IDX, PERD_R, PERD_S, PERD_T, PERD_Q_R, PERD_Q_S, PERD_Q_T)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, spanTable(substationID))
}

func nodeRows(rec engine.Record) [][]interface{} {
	out := make([][]interface{}, 0, len(rec.Result.Nodes))
	for id, acc := range rec.Result.Nodes {
		out = append(out, []interface{}{
			rec.CaseID, id,
			acc.P.R, acc.P.S, acc.P.T,
			acc.Q.R, acc.Q.S, acc.Q.T,
		})
	}
	return out
}

func spanRows(rec engine.Record) [][]interface{} {
	out := make([][]interface{}, 0, len(rec.Result.Spans))
	for k, loss := range rec.Result.Spans {
		out = append(out, []interface{}{
			rec.CaseID, k.A, k.B, k.Index,
			loss.P.R, loss.P.S, loss.P.T,
			loss.Q.R, loss.Q.S, loss.Q.T,
		})
	}
	return out
}
