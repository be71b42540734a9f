package observability

import (
	"testing"
	"time"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordEventPublished("ttyUSB0", "DirectMesh")
	RecordDecodeError("ttyUSB0")
	AddResyncBytes("ttyUSB0", 3)
	AddResyncBytes("ttyUSB0", 0)
	AddDroppedLines("ttyUSB0", 1)
	RecordPortReconnect("ttyUSB0")
	SetBusDepth(2)
	SetSubscribers(1)
	RecordDelivery()
	RecordSubscriberPruned()
	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
}
