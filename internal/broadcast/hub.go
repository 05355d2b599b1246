package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"scribe/internal/logging"
)

// Event is one progress update for a job.
type Event struct {
	JobID    int64     `json:"job_id"`
	Status   string    `json:"status"`
	Progress float64   `json:"progress"`
	Message  string    `json:"message,omitempty"`
	Error    string    `json:"error,omitempty"`
	Seq      uint64    `json:"seq"`
	At       time.Time `json:"at"`
}

const subscriberBuffer = 16

type subscriber struct {
	ch     chan Event
	closed bool
}

// Hub fans job progress events out to interested subscribers. Delivery is
// non-blocking: a subscriber that stops draining its channel loses events
// rather than stalling the worker that publishes them.
type Hub struct {
	mu     sync.Mutex
	subs   map[int64]map[*subscriber]struct{}
	seqs   map[int64]uint64
	closed bool
	logger *slog.Logger
}

// NewHub builds an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		subs:   make(map[int64]map[*subscriber]struct{}),
		seqs:   make(map[int64]uint64),
		logger: logger.With(logging.String(logging.FieldComponent, "broadcast")),
	}
}

// Subscribe registers interest in one job's events. The returned cancel
// function is idempotent and must be called when the subscriber goes away.
func (h *Hub) Subscribe(jobID int64) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[jobID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.removeLocked(jobID, sub)
	}
	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of its job. The hub assigns
// a per-job sequence number so clients can detect gaps from dropped events.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.seqs[event.JobID]++
	event.Seq = h.seqs[event.JobID]
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	for sub := range h.subs[event.JobID] {
		select {
		case sub.ch <- event:
		default:
			h.logger.Debug("dropping event for slow subscriber",
				logging.Int64(logging.FieldJobID, event.JobID),
				logging.Int64("seq", int64(event.Seq)))
		}
	}
}

// CloseJob closes every subscriber channel for a finished job and forgets
// its sequence counter.
func (h *Hub) CloseJob(jobID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[jobID] {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	delete(h.subs, jobID)
	delete(h.seqs, jobID)
}

// Close shuts the hub down; all subscriber channels are closed and further
// publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true

	for jobID, set := range h.subs {
		for sub := range set {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
		delete(h.subs, jobID)
	}
	h.seqs = make(map[int64]uint64)
}

func (h *Hub) removeLocked(jobID int64, sub *subscriber) {
	set, ok := h.subs[jobID]
	if !ok {
		return
	}
	if _, present := set[sub]; !present {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, jobID)
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}
