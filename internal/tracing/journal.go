// Package tracing journals intercepted exchanges and streams them to
// watchers.
package tracing

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prasenjit/go-intercept/internal/models"
)

// DefaultCapacity is used when a journal is created without a positive
// capacity
const DefaultCapacity = 1000

// watchBuffer is the number of traces a slow watcher may fall behind by
// before traces are dropped for it
const watchBuffer = 64

// Journal is a fixed-capacity ring of traces. Once full, recording a trace
// evicts the oldest one.
type Journal struct {
	mu       sync.RWMutex
	ring     []*models.Trace
	head     int
	count    int
	watchers map[string]*watcher
}

type watcher struct {
	filter  *models.TraceFilter
	ch      chan *models.Trace
	dropped int
}

// Summary describes the journal contents
type Summary struct {
	Total     int                    `json:"total"`
	Capacity  int                    `json:"capacity"`
	Watchers  int                    `json:"watchers"`
	Dropped   int                    `json:"dropped"`
	ByOutcome map[models.Outcome]int `json:"byOutcome"`
}

// NewJournal creates a journal keeping at most capacity traces
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Journal{
		ring:     make([]*models.Trace, capacity),
		watchers: make(map[string]*watcher),
	}
}

// Record appends a trace, assigning an ID and timestamp when missing, and
// offers it to every watcher whose filter accepts it. Watchers never block
// recording.
func (j *Journal) Record(trace *models.Trace) {
	if trace.ID == "" {
		trace.ID = uuid.NewString()
	}
	if trace.Timestamp.IsZero() {
		trace.Timestamp = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.count < len(j.ring) {
		j.ring[(j.head+j.count)%len(j.ring)] = trace
		j.count++
	} else {
		j.ring[j.head] = trace
		j.head = (j.head + 1) % len(j.ring)
	}

	for _, w := range j.watchers {
		if !w.filter.Accepts(trace) {
			continue
		}
		select {
		case w.ch <- trace:
		default:
			w.dropped++
		}
	}
}

// at returns the i-th oldest trace; the caller holds the lock
func (j *Journal) at(i int) *models.Trace {
	return j.ring[(j.head+i)%len(j.ring)]
}

// List returns the traces the filter accepts, newest first, up to the
// filter's limit
func (j *Journal) List(filter *models.TraceFilter) []*models.Trace {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]*models.Trace, 0)
	for i := j.count - 1; i >= 0; i-- {
		trace := j.at(i)
		if !filter.Accepts(trace) {
			continue
		}
		out = append(out, trace)
		if filter != nil && filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// Get returns the trace with the given id
func (j *Journal) Get(id string) (*models.Trace, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for i := 0; i < j.count; i++ {
		if trace := j.at(i); trace.ID == id {
			return trace, true
		}
	}
	return nil, false
}

// Clear drops every trace
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.ring = make([]*models.Trace, len(j.ring))
	j.head, j.count = 0, 0
}

// ClearRule drops the traces answered by a rule and returns how many were
// dropped
func (j *Journal) ClearRule(ruleID string) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	kept := make([]*models.Trace, len(j.ring))
	n := 0
	for i := 0; i < j.count; i++ {
		if trace := j.at(i); trace.RuleID != ruleID {
			kept[n] = trace
			n++
		}
	}

	removed := j.count - n
	j.ring, j.head, j.count = kept, 0, n
	return removed
}

// Watch registers a watcher receiving new traces the filter accepts. Limit
// and time bounds of the filter are ignored. The channel is closed by
// Unwatch.
func (j *Journal) Watch(filter *models.TraceFilter) (string, <-chan *models.Trace) {
	var live *models.TraceFilter
	if filter != nil {
		cp := *filter
		cp.Limit = 0
		cp.StartTime, cp.EndTime = time.Time{}, time.Time{}
		live = &cp
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	id := uuid.NewString()
	w := &watcher{filter: live, ch: make(chan *models.Trace, watchBuffer)}
	j.watchers[id] = w
	return id, w.ch
}

// Unwatch removes a watcher and closes its channel. Unknown ids are ignored.
func (j *Journal) Unwatch(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if w, ok := j.watchers[id]; ok {
		close(w.ch)
		delete(j.watchers, id)
	}
}

// Summary counts the journaled traces per outcome
func (j *Journal) Summary() Summary {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := Summary{
		Total:     j.count,
		Capacity:  len(j.ring),
		Watchers:  len(j.watchers),
		ByOutcome: make(map[models.Outcome]int),
	}
	for i := 0; i < j.count; i++ {
		s.ByOutcome[j.at(i).Outcome]++
	}
	for _, w := range j.watchers {
		s.Dropped += w.dropped
	}
	return s
}
