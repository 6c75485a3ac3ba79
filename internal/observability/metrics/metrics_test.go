package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestObserveUploadAttemptAndFailure(t *testing.T) {
	recorder := New()
	recorder.ObserveUploadAttempt("retryable")
	recorder.ObserveUploadAttempt("retryable")
	recorder.ObserveUploadAttempt("success")
	recorder.ObserveUploadFailure("upstream_transient")

	attempts, failures := recorder.UploadCounts()
	if attempts["retryable"] != 2 || attempts["success"] != 1 {
		t.Fatalf("unexpected attempt counts %v", attempts)
	}
	if failures["upstream_transient"] != 1 {
		t.Fatalf("unexpected failure counts %v", failures)
	}
}

func TestActiveUploadsGaugeNeverNegative(t *testing.T) {
	recorder := New()
	recorder.UploadFinished()
	if got := recorder.ActiveUploads(); got != 0 {
		t.Fatalf("gauge went negative: %d", got)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.UploadStarted()
			recorder.UploadFinished()
		}()
	}
	wg.Wait()
	if got := recorder.ActiveUploads(); got != 0 {
		t.Fatalf("expected gauge back at zero, got %d", got)
	}
}

func TestHandlerServesPrometheusText(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest(http.MethodPost, "/whatsapp/media", http.StatusOK, 120*time.Millisecond)
	recorder.ObserveAuthFailure("invalid_secret")
	recorder.ObserveRateLimited()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if contentType := rec.Header().Get("Content-Type"); !strings.Contains(contentType, "text/plain") {
		t.Fatalf("unexpected content type %q", contentType)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`mediagate_http_requests_total{method="POST",path="/whatsapp/media",status="200"} 1`,
		`mediagate_auth_failures_total{reason="invalid_secret"} 1`,
		"mediagate_rate_limited_total 1",
		"mediagate_active_uploads 0",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestResetClearsCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveUploadAttempt("success")
	recorder.ObserveRateLimited()
	recorder.Reset()

	attempts, failures := recorder.UploadCounts()
	if len(attempts) != 0 || len(failures) != 0 {
		t.Fatalf("expected empty counts after reset, got %v %v", attempts, failures)
	}
}
