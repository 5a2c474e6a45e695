package service

import (
	"context"
	"sync"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
)

// RecordingNotifier keeps every event in memory for inspection in tests.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) Notify(_ context.Context, event models.SecurityEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.events = append(n.events, event)
}

func (n *RecordingNotifier) Events(eventType string) []models.SecurityEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []models.SecurityEvent
	for _, e := range n.events {
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
