// Package inspect keeps a bounded in-memory trail of served table requests
// for live debugging.
package inspect

import (
	"sync"
	"time"
)

// Route identifies the table route a record was captured on.
type Route string

const (
	RouteQuery    Route = "query"
	RouteMetadata Route = "metadata"
	RouteVersion  Route = "version"
)

// Routes lists every route with a buffer.
var Routes = []Route{RouteQuery, RouteMetadata, RouteVersion}

// Record summarizes one request.
type Record struct {
	Time   time.Time `json:"time"`
	Route  Route     `json:"route"`
	Method string    `json:"method"`
	Table  string    `json:"table"`
	Status int       `json:"status"`
	// Version is the served table version, -1 when the request failed
	// before one was resolved.
	Version        int64         `json:"version"`
	ResponseFormat string        `json:"responseFormat,omitempty"`
	Bytes          int           `json:"bytes"`
	Duration       time.Duration `json:"durationNs"`
}

// Inspector samples requests into one ring buffer per route. Nothing is
// retained beyond the buffer size.
type Inspector struct {
	mu      sync.RWMutex
	buffers map[Route]*ringBuffer
}

// New creates an Inspector with buffers of the given size per route.
func New(bufferSize int) *Inspector {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	buffers := make(map[Route]*ringBuffer, len(Routes))
	for _, r := range Routes {
		buffers[r] = newRingBuffer(bufferSize)
	}
	return &Inspector{buffers: buffers}
}

func (i *Inspector) buffer(route Route) (*ringBuffer, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	buf, ok := i.buffers[route]
	return buf, ok
}

// Record stores rec in the buffer of rec.Route. Unknown routes are dropped.
func (i *Inspector) Record(rec Record) {
	if buf, ok := i.buffer(rec.Route); ok {
		buf.add(rec)
	}
}

// Last returns up to limit of the most recent records of route, oldest
// first. A limit <= 0 returns everything buffered.
func (i *Inspector) Last(route Route, limit int) []Record {
	buf, ok := i.buffer(route)
	if !ok {
		return nil
	}
	return buf.last(limit)
}

// Subscribe returns a channel receiving records of route as they are
// captured. Call the returned cancel function to unsubscribe.
func (i *Inspector) Subscribe(route Route) (<-chan Record, func()) {
	buf, ok := i.buffer(route)
	if !ok {
		ch := make(chan Record)
		close(ch)
		return ch, func() {}
	}
	return buf.subscribe()
}
