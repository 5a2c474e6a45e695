package client

import (
	"sync"
	"time"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
)

const (
	ewmaWeight         = 0.3
	goodRTT            = 300 * time.Millisecond
	degradedRTT        = 1 * time.Second
	failuresBeforePoor = 2
)

// QualityTracker estimates connection quality from an exponentially weighted
// moving average of round-trip times. Consecutive transport failures force poor.
type QualityTracker struct {
	mu       sync.Mutex
	ewma     time.Duration
	samples  int
	failures int
}

func NewQualityTracker() *QualityTracker {
	return &QualityTracker{}
}

func (q *QualityTracker) Observe(rtt time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.failures = 0
	if q.samples == 0 {
		q.ewma = rtt
	} else {
		q.ewma = time.Duration(ewmaWeight*float64(rtt) + (1-ewmaWeight)*float64(q.ewma))
	}
	q.samples++
}

func (q *QualityTracker) ObserveFailure() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.failures++
}

func (q *QualityTracker) RTT() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.ewma
}

func (q *QualityTracker) Quality() models.ConnectionQuality {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.failures >= failuresBeforePoor:
		return models.ConnectionPoor
	case q.samples == 0:
		return models.ConnectionUnknown
	case q.ewma < goodRTT:
		return models.ConnectionGood
	case q.ewma < degradedRTT:
		return models.ConnectionDegraded
	default:
		return models.ConnectionPoor
	}
}
