package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters for HTTP requests, media upload
// attempts, authentication failures, and rate-limit rejections. It coordinates
// concurrent writers via a RWMutex while exposing a thread-safe gauge for
// in-flight upload tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	uploadAttempts  map[string]uint64
	uploadFailures  map[string]uint64
	authFailures    map[string]uint64
	rateLimited     uint64
	activeUploads   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		uploadAttempts:  make(map[string]uint64),
		uploadFailures:  make(map[string]uint64),
		authFailures:    make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across packages that
// do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates totals for request count and cumulative duration
// by HTTP method, path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   path,
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// UploadStarted increments the in-flight upload gauge.
func (r *Recorder) UploadStarted() {
	r.activeUploads.Add(1)
}

// UploadFinished decrements the in-flight upload gauge, guarding against
// negative counts when concurrent updates race.
func (r *Recorder) UploadFinished() {
	for {
		current := r.activeUploads.Load()
		if current <= 0 {
			return
		}
		if r.activeUploads.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// ObserveUploadAttempt records one delivery attempt against the media
// platform, keyed by outcome ("success", "terminal", "retryable").
func (r *Recorder) ObserveUploadAttempt(outcome string) {
	r.mu.Lock()
	r.uploadAttempts[normalizeName(outcome)]++
	r.mu.Unlock()
}

// ObserveUploadFailure records an upload that failed after classification and
// any retries, keyed by the failure kind surfaced to the caller.
func (r *Recorder) ObserveUploadFailure(kind string) {
	r.mu.Lock()
	r.uploadFailures[normalizeName(kind)]++
	r.mu.Unlock()
}

// ObserveAuthFailure records a rejected authentication attempt keyed by
// reason ("not_found", "invalid_secret", "store_unavailable").
func (r *Recorder) ObserveAuthFailure(reason string) {
	r.mu.Lock()
	r.authFailures[normalizeName(reason)]++
	r.mu.Unlock()
}

// ObserveRateLimited records a request rejected by the rate limiter.
func (r *Recorder) ObserveRateLimited() {
	r.mu.Lock()
	r.rateLimited++
	r.mu.Unlock()
}

// ActiveUploads exposes the current gauge of in-flight uploads.
func (r *Recorder) ActiveUploads() int64 {
	return r.activeUploads.Load()
}

// UploadCounts returns copies of the attempt and failure counters for testing
// and reporting purposes.
func (r *Recorder) UploadCounts() (attempts map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.uploadAttempts))
	for k, v := range r.uploadAttempts {
		attempts[k] = v
	}
	failures = make(map[string]uint64, len(r.uploadFailures))
	for k, v := range r.uploadFailures {
		failures[k] = v
	}
	return attempts, failures
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.uploadAttempts = make(map[string]uint64)
	r.uploadFailures = make(map[string]uint64)
	r.authFailures = make(map[string]uint64)
	r.rateLimited = 0
	r.activeUploads.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	uploadOutcomes := sortedKeys(r.uploadAttempts)
	failureKinds := sortedKeys(r.uploadFailures)
	authReasons := sortedKeys(r.authFailures)

	fmt.Fprintln(w, "# HELP mediagate_http_requests_total Total number of HTTP requests processed by the gateway")
	fmt.Fprintln(w, "# TYPE mediagate_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "mediagate_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP mediagate_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE mediagate_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "mediagate_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP mediagate_upload_attempts_total Media upload delivery attempts by outcome")
	fmt.Fprintln(w, "# TYPE mediagate_upload_attempts_total counter")
	for _, outcome := range uploadOutcomes {
		fmt.Fprintf(w, "mediagate_upload_attempts_total{outcome=%q} %d\n", outcome, r.uploadAttempts[outcome])
	}

	fmt.Fprintln(w, "# HELP mediagate_upload_failures_total Media uploads that failed after retries by kind")
	fmt.Fprintln(w, "# TYPE mediagate_upload_failures_total counter")
	for _, kind := range failureKinds {
		fmt.Fprintf(w, "mediagate_upload_failures_total{kind=%q} %d\n", kind, r.uploadFailures[kind])
	}

	fmt.Fprintln(w, "# HELP mediagate_auth_failures_total Rejected authentication attempts by reason")
	fmt.Fprintln(w, "# TYPE mediagate_auth_failures_total counter")
	for _, reason := range authReasons {
		fmt.Fprintf(w, "mediagate_auth_failures_total{reason=%q} %d\n", reason, r.authFailures[reason])
	}

	fmt.Fprintln(w, "# HELP mediagate_rate_limited_total Requests rejected by the rate limiter")
	fmt.Fprintln(w, "# TYPE mediagate_rate_limited_total counter")
	fmt.Fprintf(w, "mediagate_rate_limited_total %d\n", r.rateLimited)

	fmt.Fprintln(w, "# HELP mediagate_active_uploads Current number of in-flight media uploads")
	fmt.Fprintln(w, "# TYPE mediagate_active_uploads gauge")
	fmt.Fprintf(w, "mediagate_active_uploads %d\n", r.activeUploads.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
