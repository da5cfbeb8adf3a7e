package service

import (
	"sync"
	"time"
)

// CommandLimiter limita la frecuencia de comandos por clave.
type CommandLimiter interface {
	Allow(key string) bool
}

type memoryCommandLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   map[string][]time.Time
	pruned time.Time
	now    func() time.Time
}

// NewCommandLimiter permite max llamadas por ventana. Con max=1 es un cooldown.
func NewCommandLimiter(window time.Duration, max int) CommandLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = 2 * time.Second
	}
	return &memoryCommandLimiter{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (l *memoryCommandLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	cutoff := now.Add(-l.window)
	if now.Sub(l.pruned) >= l.window {
		l.pruneLocked(cutoff)
		l.pruned = now
	}
	entries := l.hits[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.hits[key] = kept
		return false
	}
	kept = append(kept, now)
	l.hits[key] = kept
	return true
}

// pruneLocked borra las claves cuyo ultimo uso quedo fuera de la ventana.
func (l *memoryCommandLimiter) pruneLocked(cutoff time.Time) {
	for key, entries := range l.hits {
		if len(entries) == 0 || !entries[len(entries)-1].After(cutoff) {
			delete(l.hits, key)
		}
	}
}
