package firewall

import (
	"context"
	"sync"
)

// MemoryBlocker keeps block state in process. Transitions counts every
// unblocked-to-blocked change per address.
type MemoryBlocker struct {
	mu          sync.Mutex
	blocked     map[string]struct{}
	transitions map[string]int
	blockErr    error
}

func NewMemoryBlocker() *MemoryBlocker {
	return &MemoryBlocker{
		blocked:     make(map[string]struct{}),
		transitions: make(map[string]int),
	}
}

func (m *MemoryBlocker) Name() string {
	return "memory"
}

func (m *MemoryBlocker) IsBlocked(_ context.Context, addr string) (bool, error) {
	ip, err := parseAddr(addr)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blocked[ip.String()]
	return ok, nil
}

func (m *MemoryBlocker) Block(_ context.Context, addr string) error {
	ip, err := parseAddr(addr)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blockErr != nil {
		return m.blockErr
	}
	key := ip.String()
	if _, ok := m.blocked[key]; !ok {
		m.blocked[key] = struct{}{}
		m.transitions[key]++
	}
	return nil
}

func (m *MemoryBlocker) Unblock(_ context.Context, addr string) error {
	ip, err := parseAddr(addr)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocked, ip.String())
	return nil
}

// FailBlocks makes every later Block call return err. Nil restores normal
// behaviour.
func (m *MemoryBlocker) FailBlocks(err error) {
	m.mu.Lock()
	m.blockErr = err
	m.mu.Unlock()
}

func (m *MemoryBlocker) Transitions(addr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitions[addr]
}

func (m *MemoryBlocker) Blocked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.blocked))
	for k := range m.blocked {
		out = append(out, k)
	}
	return out
}
