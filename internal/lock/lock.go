package lock

import (
	"context"
	"sync"
)

// MutexMap выдаёт эксклюзивную секцию на ключ в пределах процесса.
type MutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*keyMutex
}

// keyMutex это семафор на один слот, чтобы ожидание можно было прервать контекстом.
type keyMutex struct {
	ch chan struct{}
}

func NewMutexMap() *MutexMap {
	return &MutexMap{
		mutexes: make(map[string]*keyMutex),
	}
}

func (m *MutexMap) Lock(key string) {
	m.getMutex(key).ch <- struct{}{}
}

func (m *MutexMap) Unlock(key string) {
	<-m.getMutex(key).ch
}

// Acquire ждёт ключ, пока не отменён ctx.
func (m *MutexMap) Acquire(ctx context.Context, key string) (func(), error) {
	km := m.getMutex(key)
	select {
	case km.ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-km.ch })
	}, nil
}

func (m *MutexMap) getMutex(key string) *keyMutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if km, ok := m.mutexes[key]; ok {
		return km
	}
	km := &keyMutex{ch: make(chan struct{}, 1)}
	m.mutexes[key] = km
	return km
}
