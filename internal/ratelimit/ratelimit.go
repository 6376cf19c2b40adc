package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count int
	ends  time.Time
}

// FixedWindow считает запросы по ключу в окнах фиксированной длины.
// Окно сбрасывается при первом обращении после его окончания.
type FixedWindow struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// New создает новый FixedWindow
func New() *FixedWindow {
	return &FixedWindow{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow учитывает запрос и сообщает, укладывается ли он в limit запросов за window
func (l *FixedWindow) Allow(key string, limit int, length time.Duration) bool {
	if limit <= 0 {
		return false
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.ends) {
		w = &window{ends: now.Add(length)}
		l.windows[key] = w
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// RetryAfter возвращает время до окончания текущего окна ключа
func (l *FixedWindow) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		return 0
	}
	return max(w.ends.Sub(l.now()), 0)
}

// Prune удаляет закончившиеся окна и возвращает их количество
func (l *FixedWindow) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.ends) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len возвращает количество отслеживаемых ключей
func (l *FixedWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
