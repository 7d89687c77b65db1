package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestObserveTaskCounts(t *testing.T) {
	counter := singleton().tasksTotal.WithLabelValues("cleanup-stuck-locks", "success")
	before := counterValue(t, counter)
	ObserveTask("cleanup-stuck-locks", "success", 10*time.Millisecond)
	assert.Equal(t, before+1, counterValue(t, counter))
}

func TestAddRowsIgnoresNonPositive(t *testing.T) {
	counter := singleton().rowsProcessed.WithLabelValues("unique")
	before := counterValue(t, counter)
	AddRows("unique", 0)
	AddRows("unique", 3)
	assert.Equal(t, before+3, counterValue(t, counter))
}
