package main

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gtea/depertec_core/internal/pkg/database/mongodb"
	"github.com/gtea/depertec_core/internal/pkg/database/sqldb"
	"github.com/gtea/depertec_core/internal/pkg/datastreams/natshandler"
	"github.com/gtea/depertec_core/internal/pkg/engine"
	"github.com/gtea/depertec_core/internal/pkg/webservice"
)

type runConfig struct {
	StartDate  string `json:"StartDate"` // YYYYMMDD
	EndDate    string `json:"EndDate"`   // YYYYMMDD
	Webservice string `json:"Webservice"`
}

func main() {
	log.Println("[Main] Starting Depertec_Core v0.0.1")
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[Main] Building Engine")
	e, err := engine.NewFromFile("./config/engine.json")
	if err != nil {
		panic(err)
	}

	run, err := readRunConfig("./config/run.json")
	if err != nil {
		panic(err)
	}

	log.Println("[Main] Linking Sinks")
	linkMongo(e)
	linkSQL(e)
	linkNATS(e)
	linkWebservice(e, run.Webservice)

	log.Println("[Main] Building Graph")
	if err := e.Build(); err != nil {
		panic(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- e.RunRange(run.StartDate, run.EndDate)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Println("[Main] run failed:", err)
		}
	case <-sigs:
		log.Println("[Main] interrupted")
	}

	e.Close()
	log.Println("[Main] Stopping system")
}

func readRunConfig(path string) (runConfig, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return runConfig{}, err
	}
	run := runConfig{}
	err = json.Unmarshal(raw, &run)
	return run, err
}

func linkMongo(e *engine.Engine) {
	path := "./config/database/mongodb_config.json"
	if !configExists(path) {
		return
	}
	handler, err := mongodb.New(path, e)
	if err != nil {
		panic(err)
	}
	if err := handler.Connect(context.TODO()); err != nil {
		panic(err)
	}
	e.SetSnapshotStore(handler)
	go handler.Process()
}

func linkSQL(e *engine.Engine) {
	path := "./config/database/sqldb_config.json"
	if !configExists(path) {
		return
	}
	handler, err := sqldb.New(path, e)
	if err != nil {
		panic(err)
	}
	go handler.Process()
}

func linkNATS(e *engine.Engine) {
	path := "./config/datastreams/nats_config.json"
	if !configExists(path) {
		return
	}
	handler, err := natshandler.New(path, e)
	if err != nil {
		panic(err)
	}
	go handler.Process()
}

func linkWebservice(e *engine.Engine, addr string) {
	if addr == "" {
		return
	}
	server := webservice.NewServer(e)
	go server.Track()
	go func() {
		if err := server.ListenAndServe(addr); err != nil {
			log.Println("[Main] webservice:", err)
		}
	}()
}

func configExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
