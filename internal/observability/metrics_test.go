package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDispatchIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(dispatches.WithLabelValues("read", "sync", "accepted"))
	RecordDispatch("read", "sync", "accepted")
	RecordDispatch("read", "sync", "accepted")
	after := testutil.ToFloat64(dispatches.WithLabelValues("read", "sync", "accepted"))
	if after-before != 2 {
		t.Fatalf("dispatch counter delta got=%v want=2", after-before)
	}
}

func TestRecordHelpersDoNotPanic(t *testing.T) {
	RecordHTTPRequest("node-a", "GET", "/health", 200, 15*time.Millisecond)
	RecordCompletion("stat", "done", "json")
	RecordTargetRequest("node-a", "write", "success", time.Millisecond)
}
