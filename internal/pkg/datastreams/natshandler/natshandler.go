/*
natshandler.go Streams every resolved hour to NATS. One subject per
substation so downstream dashboards can subscribe selectively.
*/

package natshandler

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gtea/depertec_core/internal/pkg/engine"

	nats "github.com/nats-io/nats.go"
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
	Server string `json:"Server"`
}

// payload is the wire form of one published hour.
type payload struct {
	RunID      string      `json:"RunID"`
	CaseID     int64       `json:"CaseID"`
	Substation string      `json:"Substation"`
	Quality    int         `json:"Quality"`
	Aggregates interface{} `json:"Aggregates"`
}

func (h Handler) PID() uuid.UUID {
	return h.pid
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

func (h *Handler) Stop() {
	h.stop <- true
}

func (h Handler) serverURL() string {
	if h.config.Server == "" {
		return nats.DefaultURL
	}
	return h.config.Server
}

// subject names the per-substation stream.
func subject(substationID int) string {
	return fmt.Sprintf("depertec.ct.%v", substationID)
}

func (h Handler) Process() {
	log.Println("[NATS client] Process Started")
	nc, err := nats.Connect(h.serverURL())
	if err != nil {
		panic(err)
	}
	defer nc.Close()

loop:
	for {
		select {
		case rec, ok := <-h.inbox:
			if !ok {
				break loop
			}
			data, err := json.Marshal(payload{
				RunID:      rec.RunID.String(),
				CaseID:     rec.CaseID,
				Substation: rec.SubstationName,
				Quality:    int(rec.Quality),
				Aggregates: rec.Aggregates,
			})
			if err != nil {
				continue
			}
			if err = nc.Publish(subject(rec.SubstationID), data); err != nil {
				log.Printf("unable to publish to nats server: %v", err)
			}

		case <-h.stop:
			break loop
		}
	}
	log.Println("[NATS client] Process Shutdown")
}
