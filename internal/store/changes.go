package store

// Op identifies the kind of mutation a change event describes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpClear  Op = "clear"
)

// Change describes one committed mutation. Key is nil for table-wide
// operations.
type Change struct {
	Table string `json:"table"`
	Op    Op     `json:"op"`
	Key   any    `json:"key,omitempty"`
}

// OnChange registers a listener invoked after every committed mutation.
// Listeners run synchronously on the mutating goroutine and should hand off
// slow work.
func (s *Store) OnChange(fn func(Change)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify(c Change) {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	for _, fn := range s.listeners {
		fn(c)
	}
}
