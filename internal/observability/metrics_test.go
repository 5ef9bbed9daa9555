package observability

import (
	"testing"
	"time"

	"github.com/danmuck/ntclient/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordFrameReceived("metrics-test", "binary")
	RecordFrameReceived("metrics-test", "binary")
	RecordFrameDropped("metrics-test", "malformed_frame")
	RecordControlMessage("metrics-test", "out", "publish")
	RecordDiagnostic("metrics-test", "unknown_reference")
	RecordConnectAttempt("metrics-test", true)
	SetConnected("metrics-test", true)
	RecordClockSample("metrics-test", 3*time.Millisecond, 1500)

	assert.Equal(t, 2.0, testutil.ToFloat64(framesReceived.WithLabelValues("metrics-test", "binary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(connected.WithLabelValues("metrics-test")))
	assert.Equal(t, 1500.0, testutil.ToFloat64(clockServerOffset.WithLabelValues("metrics-test")))

	SetConnected("metrics-test", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(connected.WithLabelValues("metrics-test")))
}
