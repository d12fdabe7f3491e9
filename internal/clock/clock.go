// Package clock — абстракция времени, чтобы TTL и backoff можно было тестировать.
package clock

import (
	"sync"
	"time"
)

// Clock возвращает текущее время.
type Clock interface {
	Now() time.Time
}

// System — реализация по умолчанию, использует time.Now().
type System struct{}

// Now возвращает текущее время в UTC.
func (System) Now() time.Time { return time.Now().UTC() }

// Fake — управляемые часы для тестов.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake создаёт Fake, начиная с указанного времени.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now возвращает текущее время Fake.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance сдвигает время вперёд.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set устанавливает время.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// OrSystem возвращает c или System, если c == nil.
func OrSystem(c Clock) Clock {
	if c == nil {
		return System{}
	}
	return c
}
