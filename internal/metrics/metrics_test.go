package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordUpsert(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordUpsert("masterclass", "updated", []string{"change", "add"})
	m.RecordUpsert("masterclass", "new", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpsertsTotal.WithLabelValues("masterclass", "updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpsertsTotal.WithLabelValues("masterclass", "new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeltasAppendedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeltaOpsTotal.WithLabelValues("change")))
}

func TestRecordParse(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordParse(2, []string{"empty_match", "empty_match", "refinement_mismatch"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SectionsParsedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RuleFaultsTotal.WithLabelValues("empty_match")))
}

func TestRecordGrpcRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordGrpcRequest("/leostore.v1.DocumentStore/Upsert", "success", 5*time.Millisecond)
	m.RecordDbOperation("upsert", "success", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GrpcRequestsTotal.WithLabelValues("/leostore.v1.DocumentStore/Upsert", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.DbOperationDuration))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordUpsert("c", "new", []string{"add"})
		m.RecordParse(1, nil)
		m.RecordHistoryQuery("history")
	})
}
