package gbackup

import (
	"context"
	"sync"

	"gopkg.in/typ.v4/slices"
)

type entry struct {
	Key   string
	Value []byte
}

type Memory struct {
	mut  sync.Mutex
	data []entry
}

func NewMemoryStore() *Memory {
	return &Memory{
		mut:  sync.Mutex{},
		data: []entry{},
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mut.Lock()
	defer m.mut.Unlock()

	idx := slices.IndexFunc(m.data, func(data entry) bool { return data.Key == key })
	if idx < 0 {
		return nil, ErrKeyNotFound
	}
	value := make([]byte, len(m.data[idx].Value))
	copy(value, m.data[idx].Value)
	return value, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mut.Lock()
	defer m.mut.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	idx := slices.IndexFunc(m.data, func(data entry) bool { return data.Key == key })
	if idx >= 0 {
		m.data[idx].Value = stored
	} else {
		m.data = append(m.data, entry{Key: key, Value: stored})
	}

	return nil
}

// Delete of an unknown key is not an error.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mut.Lock()
	defer m.mut.Unlock()

	idx := slices.IndexFunc(m.data, func(data entry) bool { return data.Key == key })
	if idx >= 0 {
		slices.Remove(&m.data, idx)
	}
	return nil
}

func (m *Memory) Keys() []string {
	m.mut.Lock()
	defer m.mut.Unlock()

	keys := make([]string, 0, len(m.data))
	for i := range m.data {
		keys = append(keys, m.data[i].Key)
	}
	slices.SortFunc(keys, func(a, b string) bool { return a < b })
	return keys
}
