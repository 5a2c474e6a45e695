package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
)

func TestQualityTracker(t *testing.T) {
	q := NewQualityTracker()
	assert.Equal(t, models.ConnectionUnknown, q.Quality())

	q.Observe(100 * time.Millisecond)
	assert.Equal(t, models.ConnectionGood, q.Quality())
	assert.Equal(t, 100*time.Millisecond, q.RTT())

	for range 5 {
		q.Observe(900 * time.Millisecond)
	}
	assert.Equal(t, models.ConnectionDegraded, q.Quality())

	for range 10 {
		q.Observe(3 * time.Second)
	}
	assert.Equal(t, models.ConnectionPoor, q.Quality())
}

func TestQualityTracker_Failures(t *testing.T) {
	q := NewQualityTracker()
	q.Observe(50 * time.Millisecond)

	q.ObserveFailure()
	assert.Equal(t, models.ConnectionGood, q.Quality())
	q.ObserveFailure()
	assert.Equal(t, models.ConnectionPoor, q.Quality())

	q.Observe(50 * time.Millisecond)
	assert.Equal(t, models.ConnectionGood, q.Quality(), "a success resets the failure streak")
}
