package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime     time.Time
	requests      atomic.Int64
	serverErrors  atomic.Int64
	clientErrors  atomic.Int64
	syncRequests  atomic.Int64
	eventsIn      atomic.Int64
	eventsIgnored atomic.Int64
	eventsOut     atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds  float64 `json:"uptime_seconds"`
	Requests       int64   `json:"requests"`
	ServerErrors   int64   `json:"server_errors"`
	ClientErrors   int64   `json:"client_errors"`
	SyncRequests   int64   `json:"sync_requests"`
	EventsAccepted int64   `json:"events_accepted"`
	EventsIgnored  int64   `json:"events_ignored"`
	EventsReturned int64   `json:"events_returned"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordSync counts one sync exchange and its event traffic.
func (m *Metrics) RecordSync(accepted, ignored, returned int) {
	m.syncRequests.Add(1)
	m.eventsIn.Add(int64(accepted))
	m.eventsIgnored.Add(int64(ignored))
	m.eventsOut.Add(int64(returned))
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:  time.Since(m.startTime).Seconds(),
		Requests:       m.requests.Load(),
		ServerErrors:   m.serverErrors.Load(),
		ClientErrors:   m.clientErrors.Load(),
		SyncRequests:   m.syncRequests.Load(),
		EventsAccepted: m.eventsIn.Load(),
		EventsIgnored:  m.eventsIgnored.Load(),
		EventsReturned: m.eventsOut.Load(),
	}
}
