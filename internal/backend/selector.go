package backend

import "sync"

// Selector holds the current default backend. Per-call overrides never
// change the default.
type Selector struct {
	mu  sync.RWMutex
	def Tag
}

// NewSelector returns a selector whose default is def, or DefaultTag when
// def is empty.
func NewSelector(def Tag) *Selector {
	if def == "" {
		def = DefaultTag
	}
	return &Selector{def: def}
}

func (s *Selector) SetDefault(t Tag) {
	s.mu.Lock()
	s.def = t
	s.mu.Unlock()
}

func (s *Selector) Default() Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.def
}

// Resolve returns t when set, otherwise the current default.
func (s *Selector) Resolve(t Tag) Tag {
	if t != "" {
		return t
	}
	return s.Default()
}
