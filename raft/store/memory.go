package store

import "sync"

// Memory is an in-memory Store, the reference implementation. It is the
// default backend for tests and single-process demos.
type Memory struct {
	mu        sync.Mutex
	log       [][]byte
	committed uint64
	metadata  map[string][]byte
}

// NewMemory creates an empty in-memory log store.
func NewMemory() *Memory {
	return &Memory{metadata: make(map[string][]byte)}
}

func (m *Memory) String() string { return "memory" }

func (m *Memory) Append(entry []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log = append(m.log, entry)
	return uint64(len(m.log)), nil
}

func (m *Memory) Commit(index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index > uint64(len(m.log)) {
		return errCannotCommitMissing(index)
	}
	if index < m.committed {
		return errCannotCommitBelow(m.committed)
	}
	m.committed = index
	return nil
}

func (m *Memory) Committed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

func (m *Memory) Get(index uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index == 0 || index > uint64(len(m.log)) {
		return nil, nil
	}
	return m.log[index-1], nil
}

func (m *Memory) Len() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.log))
}

func (m *Memory) Scan(r Range) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := r.Start
	if start == 0 {
		start = 1
	}
	end := r.End
	if end == 0 || end > uint64(len(m.log)) {
		end = uint64(len(m.log))
	}
	if start > end {
		return nil, nil
	}

	out := make([][]byte, end-start+1)
	copy(out, m.log[start-1:end])
	return out, nil
}

func (m *Memory) Size() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total uint64
	for _, e := range m.log {
		total += uint64(len(e))
	}
	return total
}

func (m *Memory) Truncate(index uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < m.committed {
		return 0, errCannotTruncateBelow(m.committed)
	}
	if index < uint64(len(m.log)) {
		m.log = m.log[:index]
	}
	return uint64(len(m.log)), nil
}

func (m *Memory) GetMetadata(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.metadata[string(key)]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (m *Memory) SetMetadata(key []byte, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metadata[string(key)] = value
	return nil
}

var _ Store = (*Memory)(nil)
