package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDeletion(t *testing.T) {
	successBefore := testutil.ToFloat64(DeletionsTotal.WithLabelValues("full_removal", "success"))
	failureBefore := testutil.ToFloat64(DeletionsTotal.WithLabelValues("full_removal", "failure"))
	freedBefore := testutil.ToFloat64(BytesFreedTotal)

	RecordDeletion("full_removal", true, 2048, time.Second)
	RecordDeletion("full_removal", false, 0, time.Second)

	if got := testutil.ToFloat64(DeletionsTotal.WithLabelValues("full_removal", "success")) - successBefore; got != 1 {
		t.Errorf("success delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(DeletionsTotal.WithLabelValues("full_removal", "failure")) - failureBefore; got != 1 {
		t.Errorf("failure delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(BytesFreedTotal) - freedBefore; got != 2048 {
		t.Errorf("bytes freed delta = %v, want 2048", got)
	}
}

func TestRecordEvaluationSplitsFailures(t *testing.T) {
	ignoredBefore := testutil.ToFloat64(EvaluatedItemsTotal.WithLabelValues("ignored"))
	failedBefore := testutil.ToFloat64(EvaluatedItemsTotal.WithLabelValues("failed"))

	RecordEvaluation(1, 2, 5, 2, 10*time.Millisecond)

	if got := testutil.ToFloat64(EvaluatedItemsTotal.WithLabelValues("ignored")) - ignoredBefore; got != 3 {
		t.Errorf("ignored delta = %v, want 3", got)
	}
	if got := testutil.ToFloat64(EvaluatedItemsTotal.WithLabelValues("failed")) - failedBefore; got != 2 {
		t.Errorf("failed delta = %v, want 2", got)
	}
}

func TestGaugesAndExternalRequests(t *testing.T) {
	SetQueueSize(7)
	if got := testutil.ToFloat64(QueueSize); got != 7 {
		t.Errorf("QueueSize = %v, want 7", got)
	}

	SetCircuitBreakerState("radarr", 2)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("radarr")); got != 2 {
		t.Errorf("CircuitBreakerState = %v, want 2", got)
	}

	before := testutil.ToFloat64(ExternalRequestsTotal.WithLabelValues("sonarr", "error"))
	RecordExternalRequest("sonarr", errors.New("boom"))
	if got := testutil.ToFloat64(ExternalRequestsTotal.WithLabelValues("sonarr", "error")) - before; got != 1 {
		t.Errorf("error delta = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	RecordTaskRun("queue-sweep", "success")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "reclaimarr_task_runs_total") {
		t.Error("expected reclaimarr_task_runs_total in exposition output")
	}
}
