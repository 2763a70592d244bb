package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/opensubs-io/subsync/config"
)

// These tests exercise the package-level Metrics singleton rather than
// calling NewMetrics again, since promauto registers against the default
// registry and a second call would panic on duplicate registration.

func TestJobsCreated_IncrementsByKind(t *testing.T) {
	before := testutil.ToFloat64(Metrics.Pipeline.JobsCreated.WithLabelValues("download.requested"))

	Metrics.Pipeline.JobsCreated.WithLabelValues("download.requested").Inc()

	after := testutil.ToFloat64(Metrics.Pipeline.JobsCreated.WithLabelValues("download.requested"))
	assert.Equal(t, before+1, after)
}

func TestJobsInFlight_IncAndDecCancelOut(t *testing.T) {
	before := testutil.ToFloat64(Metrics.Pipeline.JobsInFlight)

	Metrics.Pipeline.JobsInFlight.Inc()
	Metrics.Pipeline.JobsInFlight.Dec()

	after := testutil.ToFloat64(Metrics.Pipeline.JobsInFlight)
	assert.Equal(t, before, after)
}

func TestJobsTerminal_TracksStatusAndErrorType(t *testing.T) {
	before := testutil.ToFloat64(Metrics.Pipeline.JobsTerminal.WithLabelValues("failed", "rate_limit"))

	Metrics.Pipeline.JobsTerminal.WithLabelValues("failed", "rate_limit").Inc()

	after := testutil.ToFloat64(Metrics.Pipeline.JobsTerminal.WithLabelValues("failed", "rate_limit"))
	assert.Equal(t, before+1, after)
}

func TestVersionCounter_IncrementedOnceAtStartup(t *testing.T) {
	v := testutil.ToFloat64(Metrics.Version.WithLabelValues("subsync", config.Version))
	assert.GreaterOrEqual(t, v, float64(1))
}
