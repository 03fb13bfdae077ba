package sqldb

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gtea/depertec_core/internal/pkg/engine"
	"github.com/gtea/depertec_core/internal/pkg/solver"
	"gotest.tools/assert"
)

type fakePublisher struct {
	ch chan engine.Record
}

func (f *fakePublisher) Subscribe() <-chan engine.Record {
	return f.ch
}

func testRecord() engine.Record {
	pid, _ := uuid.NewUUID()
	res := &solver.HourResult{
		Date:  "20200101",
		Hour:  1,
		Nodes: map[string]*solver.NodePower{"N1": {}},
		Spans: map[solver.SpanKey]*solver.SpanLoss{solver.NewSpanKey("N1", "N2", 0): {}},
	}
	return engine.Record{
		RunID:          pid,
		SubstationID:   8417,
		SubstationName: "MIRAMONTE",
		CaseID:         2020010101,
		Date:           "20200101",
		Hour:           1,
		Aggregates:     []solver.Aggregate{{Scope: "8417", CompareCode: 0}},
		Result:         res,
	}
}

func TestAggregateRowMatchesStatement(t *testing.T) {
	rec := testRecord()
	row := aggregateRow(rec, rec.Aggregates[0])

	placeholders := strings.Count(insertAggregate, "?")
	assert.Equal(t, len(row), placeholders)
	assert.Equal(t, row[0], rec.CaseID)
	assert.Equal(t, row[1], 8417)
	assert.Equal(t, row[3], "8417")
}

func TestSeriesRowsMatchStatements(t *testing.T) {
	rec := testRecord()

	nodes := nodeRows(rec)
	assert.Equal(t, len(nodes), 1)
	assert.Equal(t, len(nodes[0]), strings.Count(insertNode(8417), "?"))

	spans := spanRows(rec)
	assert.Equal(t, len(spans), 1)
	assert.Equal(t, len(spans[0]), strings.Count(insertSpan(8417), "?"))
	assert.Equal(t, spans[0][1], "N1")
	assert.Equal(t, spans[0][2], "N2")
}

func TestSeriesTableNames(t *testing.T) {
	assert.Equal(t, nodeTable(8417), "CT_8417_NODOS")
	assert.Equal(t, spanTable(8417), "CT_8417_TRAZAS")
	assert.Assert(t, strings.Contains(insertSpan(8417), "CT_8417_TRAZAS"))
}

func TestProcessWithoutPersistenceDrains(t *testing.T) {
	pub := &fakePublisher{ch: make(chan engine.Record, 2)}
	h, err := NewFromConfig([]byte(`{"PersistMode":0}`), pub)
	assert.NilError(t, err)

	pub.ch <- testRecord()
	close(pub.ch)

	// returns once the stream ends, no database involved
	h.Process()
}
