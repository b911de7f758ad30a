package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveShop("completed", time.Second)
	m.IncItems()
	m.IncImageError()
	m.AddReportRows(3)
	m.IncHandleStart()
	m.ObserveRun(false)
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveShop("completed", 2*time.Second)
	m.ObserveShop("failed", time.Second)
	m.ObserveShop("completed", time.Second)
	m.AddReportRows(6)
	m.ObserveRun(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ShopsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShopsTotal.WithLabelValues("failed")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.ReportRows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures))
}
