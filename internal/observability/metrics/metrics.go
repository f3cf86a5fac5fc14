// Package metrics collects request and upload counters and renders them in
// the Prometheus text exposition format.
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

// Recorder aggregates counters in memory. All methods are safe for
// concurrent use.
type Recorder struct {
	mu sync.RWMutex

	requestCount    map[string]uint64
	requestDuration map[string]time.Duration

	uploadCount map[string]uint64

	authSuccess atomic.Uint64
	authFailure atomic.Uint64

	bytesStored atomic.Uint64
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		requestCount:    make(map[string]uint64),
		requestDuration: make(map[string]time.Duration),
		uploadCount:     make(map[string]uint64),
	}
}

var defaultRecorder = NewRecorder()

// Default returns the process-wide Recorder.
func Default() *Recorder {
	return defaultRecorder
}

func requestKey(method, path string, status int) string {
	return fmt.Sprintf("%s|%s|%d", method, path, status)
}

// ObserveRequest records one handled HTTP request.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	key := requestKey(method, path, status)
	r.mu.Lock()
	r.requestCount[key]++
	r.requestDuration[key] += duration
	r.mu.Unlock()
}

// ObserveUpload records one accepted upload of the given type and size.
func (r *Recorder) ObserveUpload(fileType string, size int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.uploadCount[fileType]++
	r.mu.Unlock()
	if size > 0 {
		r.bytesStored.Add(uint64(size))
	}
}

// ObserveAuth records the outcome of a token issue attempt.
func (r *Recorder) ObserveAuth(success bool) {
	if r == nil {
		return
	}
	if success {
		r.authSuccess.Add(1)
	} else {
		r.authFailure.Add(1)
	}
}

// Reset clears all collected values. Intended for tests.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.requestCount = make(map[string]uint64)
	r.requestDuration = make(map[string]time.Duration)
	r.uploadCount = make(map[string]uint64)
	r.mu.Unlock()
	r.authSuccess.Store(0)
	r.authFailure.Store(0)
	r.bytesStored.Store(0)
}

// Write renders the collected metrics in Prometheus text format.
func (r *Recorder) Write(w io.Writer) error {
	r.mu.RLock()
	requestKeys := make([]string, 0, len(r.requestCount))
	for key := range r.requestCount {
		requestKeys = append(requestKeys, key)
	}
	sort.Strings(requestKeys)

	uploadTypes := make([]string, 0, len(r.uploadCount))
	for fileType := range r.uploadCount {
		uploadTypes = append(uploadTypes, fileType)
	}
	sort.Strings(uploadTypes)

	var b strings.Builder
	b.WriteString("# HELP filevault_http_requests_total Number of handled HTTP requests.\n")
	b.WriteString("# TYPE filevault_http_requests_total counter\n")
	for _, key := range requestKeys {
		parts := strings.SplitN(key, "|", 3)
		fmt.Fprintf(&b, "filevault_http_requests_total{method=%q,path=%q,status=%q} %d\n",
			parts[0], parts[1], parts[2], r.requestCount[key])
	}

	b.WriteString("# HELP filevault_http_request_duration_seconds_total Cumulative request handling time.\n")
	b.WriteString("# TYPE filevault_http_request_duration_seconds_total counter\n")
	for _, key := range requestKeys {
		parts := strings.SplitN(key, "|", 3)
		fmt.Fprintf(&b, "filevault_http_request_duration_seconds_total{method=%q,path=%q,status=%q} %f\n",
			parts[0], parts[1], parts[2], r.requestDuration[key].Seconds())
	}

	b.WriteString("# HELP filevault_uploads_total Number of accepted uploads by file type.\n")
	b.WriteString("# TYPE filevault_uploads_total counter\n")
	for _, fileType := range uploadTypes {
		fmt.Fprintf(&b, "filevault_uploads_total{type=%q} %d\n", fileType, r.uploadCount[fileType])
	}
	r.mu.RUnlock()

	b.WriteString("# HELP filevault_upload_bytes_total Bytes of decoded content accepted.\n")
	b.WriteString("# TYPE filevault_upload_bytes_total counter\n")
	fmt.Fprintf(&b, "filevault_upload_bytes_total %d\n", r.bytesStored.Load())

	b.WriteString("# HELP filevault_auth_attempts_total Token issue attempts by outcome.\n")
	b.WriteString("# TYPE filevault_auth_attempts_total counter\n")
	fmt.Fprintf(&b, "filevault_auth_attempts_total{outcome=\"success\"} %d\n", r.authSuccess.Load())
	fmt.Fprintf(&b, "filevault_auth_attempts_total{outcome=\"failure\"} %d\n", r.authFailure.Load())

	_, err := io.WriteString(w, b.String())
	return err
}

// Handler serves the recorder in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_ = r.Write(w)
	})
}
