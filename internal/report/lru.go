package report

import (
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUStore is an in-memory LRU cache that delegates to a backing Store on
// miss. It also answers "what ran recently" for the console's history list.
type LRUStore struct {
	cache *lru.Cache[string, *RunResult]
	back  Store
}

// NewLRUStore creates an LRU cache with the given capacity that delegates
// to back on cache misses. Capacity below 1 is raised to 1.
func NewLRUStore(capacity int, back Store) *LRUStore {
	if capacity < 1 {
		capacity = 1
	}
	cache, err := lru.New[string, *RunResult](capacity)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &LRUStore{cache: cache, back: back}
}

// Save writes the result to the cache and delegates to the backing store.
func (s *LRUStore) Save(result *RunResult) error {
	s.cache.Add(result.ID, result)
	return s.back.Save(result)
}

// Load checks the cache first. On miss, loads from the backing store
// and promotes the result into the cache.
func (s *LRUStore) Load(runID string) (*RunResult, error) {
	if r, ok := s.cache.Get(runID); ok {
		return r, nil
	}
	result, err := s.back.Load(runID)
	if err != nil {
		return nil, err
	}
	s.cache.Add(runID, result)
	return result, nil
}

// Recent returns up to n cached results, most recently used first.
// n <= 0 returns every cached result.
func (s *LRUStore) Recent(n int) []*RunResult {
	out := s.cache.Values() // oldest first
	slices.Reverse(out)
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Len returns the number of cached results.
func (s *LRUStore) Len() int {
	return s.cache.Len()
}
