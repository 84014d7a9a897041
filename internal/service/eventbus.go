package service

import (
	"sync"

	"github.com/bnema/harvest/internal/domain"
)

const (
	EventStatus   = "status"
	EventTask     = "task"
	EventProgress = "progress"
	EventDelivery = "delivery"
)

// Event is a live update about one job.
type Event struct {
	Type     string              `json:"type"`
	JobID    string              `json:"job_id"`
	Status   string              `json:"status,omitempty"`
	VideoID  string              `json:"video_id,omitempty"`
	Progress int                 `json:"progress,omitempty"`
	Message  string              `json:"message,omitempty"`
	Job      *domain.Job         `json:"job,omitempty"`
	Flush    *domain.FlushResult `json:"flush,omitempty"`
}

type EventPublisher interface {
	Publish(jobID string, event Event)
}

type EventBus struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan Event),
	}
}

func (eb *EventBus) Subscribe(jobID string) chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, 32)
	eb.subscribers[jobID] = append(eb.subscribers[jobID], ch)
	return ch
}

func (eb *EventBus) Unsubscribe(jobID string, ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[jobID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[jobID]) == 0 {
		delete(eb.subscribers, jobID)
	}
}

// Publish never blocks; a subscriber with a full buffer misses the event.
func (eb *EventBus) Publish(jobID string, event Event) {
	event.JobID = jobID

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[jobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, Event) {}
