package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordCycle(CycleOK, 20*time.Millisecond)
	m.RecordCycle(CycleOK, 10*time.Millisecond)
	m.RecordCycle(CycleError, 0)
	m.RecordAssignments(ModeGreedy, 3)
	m.RecordAssignments(ModeGreedy, 0)
	m.RecordConflict("double_booking")
	m.RecordBreakerTrip()
	m.SetActiveSchedulers(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycles.WithLabelValues(CycleOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues(CycleError)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.assignments.WithLabelValues(ModeGreedy)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("double_booking")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerTrips))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activeSchedulers))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordCycle(CycleOK, time.Second)
		m.RecordAssignments(ModeManual, 1)
		m.RecordConflict("blocked")
		m.RecordNotificationFailure("queue-updated")
		m.SetActiveSchedulers(1)
		m.RecordBreakerTrip()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordAssignments(ModeCompletion, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dispatch_table_assignments_total{mode="completion"} 1`)
}
