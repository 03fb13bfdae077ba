/*
mongodb.go Snapshot archive and hourly result mirror. The snapshot side
implements the engine's cache: one document per substation holding the
assembled graph in wire form plus its build quality. The Process loop mirrors
every Record's aggregates for inspection tooling.
*/

package mongodb

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gtea/depertec_core/internal/pkg/engine"
	"github.com/gtea/depertec_core/internal/pkg/grid"
	"github.com/gtea/depertec_core/internal/pkg/topology"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
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
	client *mongo.Client
	stop   chan bool
}

type config struct {
	URI      string `json:"URI"`
	Port     string `json:"Port"`
	Database string `json:"Database"`
}

const (
	snapshotCollection = "graphSnapshots"
	resultCollection   = "hourlyResults"
)

// snapshotDoc is the stored form of one cached graph.
type snapshotDoc struct {
	SubstationID int           `bson:"substation_id"`
	Quality      int           `bson:"quality"`
	Snapshot     grid.Snapshot `bson:"snapshot"`
}

func New(configPath string, source Publisher) (*Handler, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(jsonConfig, source)
}

func NewFromConfig(jsonConfig []byte, source Publisher) (*Handler, error) {
	cfg := config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return nil, err
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}

	var inbox <-chan engine.Record
	if source != nil {
		inbox = source.Subscribe()
	}

	return &Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		stop:   make(chan bool),
	}, nil
}

func (h *Handler) PID() uuid.UUID {
	return h.pid
}

// Connect dials the server. Load, Save and Process need a connected handler.
func (h *Handler) Connect(ctx context.Context) error {
	client, err := mongo.NewClient(options.Client().ApplyURI(h.config.URI + ":" + h.config.Port))
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	h.mux.Lock()
	h.client = client
	h.mux.Unlock()
	return nil
}

func (h *Handler) Disconnect(ctx context.Context) error {
	h.mux.Lock()
	defer h.mux.Unlock()
	if h.client == nil {
		return nil
	}
	err := h.client.Disconnect(ctx)
	h.client = nil
	return err
}

func (h *Handler) collection(name string) *mongo.Collection {
	h.mux.Lock()
	defer h.mux.Unlock()
	return h.client.Database(h.config.Database).Collection(name)
}

// Load fetches the cached graph of a substation, nil when none is stored.
// Implements engine.SnapshotStore.
func (h *Handler) Load(substationID int) (*engine.CachedGraph, error) {
	ctx := context.TODO()
	doc := snapshotDoc{}
	err := h.collection(snapshotCollection).FindOne(ctx, bson.M{"substation_id": substationID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cachedFromDoc(doc), nil
}

// Save upserts the cached graph of a substation.
func (h *Handler) Save(substationID int, c engine.CachedGraph) error {
	ctx := context.TODO()
	opts := options.Update().SetUpsert(true)
	_, err := h.collection(snapshotCollection).UpdateOne(
		ctx,
		bson.M{"substation_id": substationID},
		bson.D{{Key: "$set", Value: docFromCached(substationID, c)}},
		opts,
	)
	return err
}

func docFromCached(substationID int, c engine.CachedGraph) snapshotDoc {
	return snapshotDoc{
		SubstationID: substationID,
		Quality:      int(c.Quality),
		Snapshot:     c.Snapshot,
	}
}

func cachedFromDoc(doc snapshotDoc) *engine.CachedGraph {
	return &engine.CachedGraph{
		Snapshot: doc.Snapshot,
		Quality:  topology.Quality(doc.Quality),
	}
}

func (h *Handler) Stop() {
	h.stop <- true
}

// Process mirrors the record stream into the result collection, one document
// per case and substation.
func (h *Handler) Process() {
	ctx := context.TODO()
loop:
	for {
		select {
		case rec, ok := <-h.inbox:
			if !ok {
				break loop
			}
			opts := options.Update().SetUpsert(true)
			_, err := h.collection(resultCollection).UpdateOne(
				ctx,
				bson.M{"case_id": rec.CaseID, "substation_id": rec.SubstationID},
				recordToBSON(rec),
				opts,
			)
			if err != nil {
				log.Printf("[Mongo] record %v: %v", rec.CaseID, err)
			}
		case <-h.stop:
			break loop
		}
	}
	log.Println("[Mongo] Process Shutdown")
}

func recordToBSON(rec engine.Record) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.M{
			"run_id":        rec.RunID.String(),
			"case_id":       rec.CaseID,
			"substation_id": rec.SubstationID,
			"substation":    rec.SubstationName,
			"date":          rec.Date,
			"hour":          rec.Hour,
			"quality":       int(rec.Quality),
			"aggregates":    rec.Aggregates,
		}},
	}
}
