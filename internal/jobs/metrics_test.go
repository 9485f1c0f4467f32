package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("scan").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("scan").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("scan", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("scan", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("scan")))
}

func TestAddViolations(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddViolations("journal_mismatch", 2)
	m.AddViolations("journal_mismatch", 0)
	require.Equal(t, 2.0, testutil.ToFloat64(m.violations.WithLabelValues("journal_mismatch")))

	var nilMetrics *Metrics
	nilMetrics.AddViolations("x", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
