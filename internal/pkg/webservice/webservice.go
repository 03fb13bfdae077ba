/*
webservice.go Read-only HTTP view of the latest resolved hour per
substation. Serves the aggregates and the quality verdict dashboards poll.
*/

package webservice

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gtea/depertec_core/internal/pkg/engine"
	"github.com/gtea/depertec_core/internal/pkg/solver"
)

// Publisher is the record source the server subscribes to.
type Publisher interface {
	Subscribe() <-chan engine.Record
}

// QualityView is the response body of the quality endpoint.
type QualityView struct {
	SubstationID int    `json:"SubstationID"`
	Substation   string `json:"Substation"`
	CaseID       int64  `json:"CaseID"`
	Quality      int    `json:"Quality"`
}

// AggregatesView is the response body of the aggregates endpoint.
type AggregatesView struct {
	SubstationID int                `json:"SubstationID"`
	CaseID       int64              `json:"CaseID"`
	Date         string             `json:"Date"`
	Hour         int                `json:"Hour"`
	Aggregates   []solver.Aggregate `json:"Aggregates"`
}

// Server tracks the latest record per substation.
type Server struct {
	mux    *sync.RWMutex
	inbox  <-chan engine.Record
	latest map[int]engine.Record
}

func NewServer(source Publisher) *Server {
	return &Server{
		mux:    &sync.RWMutex{},
		inbox:  source.Subscribe(),
		latest: make(map[int]engine.Record),
	}
}

// Track consumes the record stream until it closes.
func (s *Server) Track() {
	for rec := range s.inbox {
		s.apply(rec)
	}
	log.Println("[Webservice] record stream closed")
}

func (s *Server) apply(rec engine.Record) {
	s.mux.Lock()
	s.latest[rec.SubstationID] = rec
	s.mux.Unlock()
}

func (s *Server) lookup(r *http.Request) (engine.Record, bool) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		return engine.Record{}, false
	}
	s.mux.RLock()
	defer s.mux.RUnlock()
	rec, ok := s.latest[id]
	return rec, ok
}

func makeRouter(s *Server) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", BaseHandler)
	router.HandleFunc("/substation/{id}/aggregates", s.AggregatesHandler)
	router.HandleFunc("/substation/{id}/quality", s.QualityHandler)
	return router
}

// ListenAndServe blocks serving the view.
func (s *Server) ListenAndServe(addr string) error {
	log.Println("[Webservice] serving on", addr)
	return http.ListenAndServe(addr, makeRouter(s))
}

func BaseHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) AggregatesHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if r.Method != "GET" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rec, ok := s.lookup(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	body, err := json.Marshal(AggregatesView{
		SubstationID: rec.SubstationID,
		CaseID:       rec.CaseID,
		Date:         rec.Date,
		Hour:         rec.Hour,
		Aggregates:   rec.Aggregates,
	})
	if err != nil {
		log.Println("malformed JSON:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) QualityHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if r.Method != "GET" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rec, ok := s.lookup(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	body, err := json.Marshal(QualityView{
		SubstationID: rec.SubstationID,
		Substation:   rec.SubstationName,
		CaseID:       rec.CaseID,
		Quality:      int(rec.Quality),
	})
	if err != nil {
		log.Println("malformed JSON:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
