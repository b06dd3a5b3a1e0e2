package repo

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Atomic stages writes and applies them only
// when fn succeeds.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Atomic(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	st := &staged{base: m, writes: map[string][]byte{}, deletes: map[string]bool{}}
	if err := fn(ctx, st); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range st.deletes {
		delete(m.data, k)
	}
	for k, v := range st.writes {
		m.data[k] = v
	}
	return nil
}

type staged struct {
	base    *Memory
	writes  map[string][]byte
	deletes map[string]bool
}

func (s *staged) Get(ctx context.Context, key string) ([]byte, error) {
	if s.deletes[key] {
		return nil, ErrNotFound
	}
	if v, ok := s.writes[key]; ok {
		return append([]byte(nil), v...), nil
	}
	return s.base.Get(ctx, key)
}

func (s *staged) Put(_ context.Context, key string, value []byte) error {
	delete(s.deletes, key)
	s.writes[key] = append([]byte(nil), value...)
	return nil
}

func (s *staged) Delete(_ context.Context, key string) error {
	delete(s.writes, key)
	s.deletes[key] = true
	return nil
}

func (s *staged) Atomic(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	return fn(ctx, s)
}
