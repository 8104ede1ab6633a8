package discovery

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Registry. It is used when no external registry
// is configured and in tests.
type Memory struct {
	mu       sync.RWMutex
	services map[string]map[string]int
}

func NewMemory() *Memory {
	return &Memory{services: make(map[string]map[string]int)}
}

func (m *Memory) Register(_ context.Context, svc Service) (Handle, error) {
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	addrs, ok := m.services[svc.Name]
	if !ok {
		addrs = make(map[string]int)
		m.services[svc.Name] = addrs
	}
	addrs[svc.Address]++
	return HandleFunc(func() { m.remove(svc) }), nil
}

func (m *Memory) remove(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addrs := m.services[svc.Name]
	if addrs[svc.Address] <= 1 {
		delete(addrs, svc.Address)
	} else {
		addrs[svc.Address]--
	}
	if len(addrs) == 0 {
		delete(m.services, svc.Name)
	}
}

// Lookup returns the registered addresses for name, sorted.
func (m *Memory) Lookup(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.services[name]))
	for addr := range m.services[name] {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}
