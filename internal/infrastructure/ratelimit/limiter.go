package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count   int
	started time.Time
}

// Limiter allows up to limit calls per client within a fixed window.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

func NewLimiter(limit int, period time.Duration) *Limiter {
	l := &Limiter{
		clients: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	go l.cleanup()

	return l
}

// Allow records a call from clientID. When refused it returns how long
// until the client's window resets.
func (l *Limiter) Allow(clientID string) (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.clients[clientID]
	if !ok || now.Sub(w.started) >= l.period {
		w = &window{started: now}
		l.clients[clientID] = w
	}

	if w.count >= l.limit {
		return false, w.started.Add(l.period).Sub(now)
	}
	w.count++
	return true, 0
}

func (l *Limiter) Reset(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.clients, clientID)
}

func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}

		l.mu.Lock()
		now := l.now()
		for clientID, w := range l.clients {
			if now.Sub(w.started) > l.period*2 {
				delete(l.clients, clientID)
			}
		}
		l.mu.Unlock()
	}
}
