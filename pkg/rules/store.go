package rules

import (
	"errors"
	"sync"
)

var (
	// ErrNotInitialized is returned when the store is read before Init.
	ErrNotInitialized = errors.New("rule store not initialized")
	// ErrAlreadyInitialized is returned by a second call to Init.
	ErrAlreadyInitialized = errors.New("rule store already initialized")
)

// Snapshot is the installed configuration. It must not be modified.
type Snapshot struct {
	RuleSet   *RuleSet
	FormatMap *FormatMap
}

// Store holds the configuration installed once at startup. It is safe for
// concurrent use.
type Store struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewStore returns an empty, uninitialized store.
func NewStore() *Store {
	return &Store{}
}

var defaultStore = NewStore()

// Default returns the process-wide store.
func Default() *Store {
	return defaultStore
}

// Init installs the configuration. Nil arguments are replaced with empty
// defaults. Only the first call succeeds.
func (s *Store) Init(rs *RuleSet, fm *FormatMap) error {
	if rs == nil {
		rs = &RuleSet{}
	}
	if rs.Dictionary == nil {
		rs.Dictionary = map[int32]DictionaryEntry{}
	}
	if fm == nil {
		fm = &FormatMap{}
	}
	if fm.Format == nil {
		fm.Format = map[string]TypeSet{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap != nil {
		return ErrAlreadyInitialized
	}
	s.snap = &Snapshot{RuleSet: rs, FormatMap: fm}
	return nil
}

// Snapshot returns the installed configuration.
func (s *Store) Snapshot() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap == nil {
		return nil, ErrNotInitialized
	}
	return s.snap, nil
}

// Initialized reports whether Init has succeeded.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap != nil
}
