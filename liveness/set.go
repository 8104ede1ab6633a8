package liveness

import "github.com/puzpuzpuz/xsync/v4"

// idSet is a concurrent set of process IDs. Inserts never block readers
// iterating the set.
type idSet struct {
	m *xsync.Map[ProcessID, struct{}]
}

func newIDSet() *idSet {
	return &idSet{m: xsync.NewMap[ProcessID, struct{}]()}
}

func (s *idSet) add(id ProcessID) {
	s.m.Store(id, struct{}{})
}

func (s *idSet) has(id ProcessID) bool {
	_, ok := s.m.Load(id)
	return ok
}

func (s *idSet) size() int {
	return s.m.Size()
}

func (s *idSet) clear() {
	s.m.Clear()
}

// minus returns the members of s absent from other.
func (s *idSet) minus(other *idSet) []ProcessID {
	var out []ProcessID
	s.m.Range(func(id ProcessID, _ struct{}) bool {
		if !other.has(id) {
			out = append(out, id)
		}
		return true
	})
	return out
}

func (s *idSet) list() []ProcessID {
	out := make([]ProcessID, 0, s.size())
	s.m.Range(func(id ProcessID, _ struct{}) bool {
		out = append(out, id)
		return true
	})
	return out
}
