package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters for the HTTP surface, the
// realtime hub, and the draft lifecycle.
type Metrics struct {
	mu            sync.Mutex
	requestCount  map[string]int64
	errorCount    map[string]int64
	draftOutcomes map[string]int64
	pushCount     int64
	liveSessions  int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:  make(map[string]int64),
		errorCount:    make(map[string]int64),
		draftOutcomes: make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + strconv.Itoa(status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordDraftOutcome counts terminal draft transitions by status.
func (m *Metrics) RecordDraftOutcome(status string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draftOutcomes[status]++
}

// RecordPush counts messages fanned out by the hub.
func (m *Metrics) RecordPush(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushCount += int64(n)
}

// SessionOpened adjusts the live session gauge upward.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveSessions++
}

// SessionClosed adjusts the live session gauge downward.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveSessions--
}

// Snapshot returns a copy of the counters for diagnostics endpoints.
func (m *Metrics) Snapshot() map[string]any {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	requests := make(map[string]int64, len(m.requestCount))
	for k, v := range m.requestCount {
		requests[k] = v
	}
	errs := make(map[string]int64, len(m.errorCount))
	for k, v := range m.errorCount {
		errs[k] = v
	}
	outcomes := make(map[string]int64, len(m.draftOutcomes))
	for k, v := range m.draftOutcomes {
		outcomes[k] = v
	}
	return map[string]any{
		"requests":       requests,
		"errors":         errs,
		"draft_outcomes": outcomes,
		"push_count":     m.pushCount,
		"live_sessions":  m.liveSessions,
	}
}
