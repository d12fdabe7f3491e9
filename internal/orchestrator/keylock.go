package orchestrator

import (
	"sync"

	"github.com/shaiso/prreview/internal/domain"
)

// keyedMutex — мьютекс на fingerprint.
//
// Разные fingerprint'ы не блокируют друг друга; записи удаляются,
// когда последний владелец отпускает ключ.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[domain.Fingerprint]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[domain.Fingerprint]*keyLock)}
}

// Lock захватывает ключ и возвращает функцию освобождения.
func (k *keyedMutex) Lock(key domain.Fingerprint) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// size возвращает количество активных ключей.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
