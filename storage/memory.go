package storage

import (
	"context"
	"errors"
	"sync"
)

var errClosed = errors.New("storage closed")

// Memory is an in-process store, data is lost on Close.
type Memory struct {
	mx   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mx.RLock()
	defer m.mx.RUnlock()

	if m.data == nil {
		return nil, errClosed
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte{}, v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	if m.data == nil {
		return errClosed
	}
	m.data[key] = append([]byte{}, value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	if m.data == nil {
		return errClosed
	}
	delete(m.data, key)
	return nil
}

func (m *Memory) Close() error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.data = nil
	return nil
}
