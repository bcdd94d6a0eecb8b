package signals

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/flexgrid/core/logger"
	"github.com/kilianp07/flexgrid/core/model"
)

// maxHistory bounds the number of signals retained per region/type key.
const maxHistory = 1000

// anomalyThreshold triggers a log entry when the detector scores above it.
const anomalyThreshold = 0.7

// Feed exposes read access to grid signals.
type Feed interface {
	Signals(ctx context.Context, f model.SignalFilter) ([]model.GridSignal, error)
}

// Handler receives signals matching a subscription filter.
type Handler func(model.GridSignal)

// AnomalyDetector scores a window of recent signals for anomalies.
// Implementations are black boxes; scores are in [0,1].
type AnomalyDetector interface {
	ScoreSignals(ctx context.Context, window []model.GridSignal) (float64, error)
}

type subscription struct {
	filter  model.SignalFilter
	ch      chan model.GridSignal
	done    chan struct{}
	handler Handler
}

// Hub retains signal history and fans incoming signals out to
// subscribers. Delivery is non-blocking per subscriber: each has a
// buffered channel drained by its own goroutine, and signals are
// dropped when a subscriber falls behind. One slow handler never
// blocks or fails delivery to others.
type Hub struct {
	log      logger.Logger
	detector AnomalyDetector
	now      func() time.Time

	mu      sync.RWMutex
	history map[string][]model.GridSignal
	subs    map[int]*subscription
	nextID  int
}

// NewHub creates a Hub. The detector may be nil.
func NewHub(log logger.Logger, detector AnomalyDetector) *Hub {
	return &Hub{
		log:      log,
		detector: detector,
		now:      time.Now,
		history:  make(map[string][]model.GridSignal),
		subs:     make(map[int]*subscription),
	}
}

func historyKey(s model.GridSignal) string {
	return s.Region + "_" + s.Type.String()
}

// Publish ingests a signal: it is stored in history, offered to the
// anomaly detector, and delivered to every matching subscriber.
func (h *Hub) Publish(sig model.GridSignal) {
	now := h.now()
	h.mu.Lock()
	key := historyKey(sig)
	hist := append(h.history[key], sig)
	if len(hist) > maxHistory {
		hist = hist[len(hist)-maxHistory:]
	}
	h.history[key] = hist
	var targets []*subscription
	for _, sub := range h.subs {
		if sub.filter.Matches(sig, now) {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- sig:
		default:
			h.log.Warnf("dropping signal %s for slow subscriber", sig.ID)
		}
	}

	if h.detector != nil {
		go h.detect(sig)
	}
}

// detect scores the recent window for the signal's region/type key and
// logs high scores. Detector failures are logged and otherwise ignored.
func (h *Hub) detect(sig model.GridSignal) {
	h.mu.RLock()
	hist := h.history[historyKey(sig)]
	if len(hist) < 10 {
		h.mu.RUnlock()
		return
	}
	window := append([]model.GridSignal(nil), hist[len(hist)-10:]...)
	h.mu.RUnlock()

	score, err := h.detector.ScoreSignals(context.Background(), window)
	if err != nil {
		h.log.Errorf("anomaly detection failed: %v", err)
		return
	}
	if score > anomalyThreshold {
		h.log.Warnf("anomaly detected in grid signal %s: score %.2f", sig.ID, score)
	}
}

// Signals returns retained signals matching the filter, newest first.
func (h *Hub) Signals(_ context.Context, f model.SignalFilter) ([]model.GridSignal, error) {
	now := h.now()
	h.mu.RLock()
	var out []model.GridSignal
	for _, hist := range h.history {
		for _, s := range hist {
			if f.Matches(s, now) {
				out = append(out, s)
			}
		}
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Subscribe registers a handler for signals matching the filter and
// returns a subscription ID for Unsubscribe.
func (h *Hub) Subscribe(f model.SignalFilter, handler Handler) int {
	sub := &subscription{
		filter:  f,
		ch:      make(chan model.GridSignal, 16),
		done:    make(chan struct{}),
		handler: handler,
	}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	go func() {
		for {
			select {
			case sig, ok := <-sub.ch:
				if !ok {
					return
				}
				sub.handler(sig)
			case <-sub.done:
				return
			}
		}
	}()
	return id
}

// Unsubscribe removes the subscription with the given ID.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

// Close removes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[int]*subscription)
	h.mu.Unlock()
	for _, sub := range subs {
		close(sub.done)
	}
}
