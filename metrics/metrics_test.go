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

func TestObserveRemote(t *testing.T) {
	okBefore := testutil.ToFloat64(RemoteRequests.WithLabelValues("price", "ok"))
	errBefore := testutil.ToFloat64(RemoteRequests.WithLabelValues("price", "error"))

	ObserveRemote("price", nil, 20*time.Millisecond)
	ObserveRemote("price", errors.New("boom"), 5*time.Millisecond)

	if got := testutil.ToFloat64(RemoteRequests.WithLabelValues("price", "ok")); got != okBefore+1 {
		t.Errorf("Expected ok counter %v, got %v", okBefore+1, got)
	}
	if got := testutil.ToFloat64(RemoteRequests.WithLabelValues("price", "error")); got != errBefore+1 {
		t.Errorf("Expected error counter %v, got %v", errBefore+1, got)
	}
}

func TestRecordTransitionAndActionError(t *testing.T) {
	before := testutil.ToFloat64(FlowTransitions.WithLabelValues("manual_order", "DRAFTING", "PRICE_CONFIRMATION"))
	RecordTransition("manual_order", "DRAFTING", "PRICE_CONFIRMATION")
	if got := testutil.ToFloat64(FlowTransitions.WithLabelValues("manual_order", "DRAFTING", "PRICE_CONFIRMATION")); got != before+1 {
		t.Errorf("Expected transition counter %v, got %v", before+1, got)
	}

	RecordActionError("auto_strategy", "close", "precondition_failed")
	if got := testutil.ToFloat64(ActionErrors.WithLabelValues("auto_strategy", "close", "precondition_failed")); got < 1 {
		t.Errorf("Expected action error counter >= 1, got %v", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	StrategyCapital.Set(1000)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "moneymate_strategy_capital 1000") {
		t.Fatalf("capital gauge not exported")
	}
}
