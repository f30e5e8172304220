// Package ignore implements the copy-on-write IgnorePattern set: an ordered,
// OR-matched collection of leaf-name globs that prune entries (and, for
// directories, their subtrees) from the index.
package ignore

import (
	"fmt"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
)

// Set is a snapshot of the active ignore patterns. Set is immutable; callers
// obtain a fresh Set after Add/Remove and hold onto it for the duration of a
// scan or watch pass so that pattern changes never race a single traversal.
type Set struct {
	patterns []string
}

// New builds a Set from the given patterns, in order.
func New(patterns []string) *Set {
	cp := make([]string, len(patterns))
	copy(cp, patterns)
	return &Set{patterns: cp}
}

// Patterns returns the ordered pattern list.
func (s *Set) Patterns() []string {
	cp := make([]string, len(s.patterns))
	copy(cp, s.patterns)
	return cp
}

// Match reports whether leaf name (no path separators) matches any pattern
// in the set, literally or as a shell-style glob.
func (s *Set) Match(name string) bool {
	for _, p := range s.patterns {
		if p == name {
			return true
		}
		ok, err := doublestar.Match(p, name)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// withAdded returns a new Set with pattern appended, unless it is already
// present.
func (s *Set) withAdded(pattern string) *Set {
	for _, p := range s.patterns {
		if p == pattern {
			return s
		}
	}
	next := make([]string, len(s.patterns), len(s.patterns)+1)
	copy(next, s.patterns)
	next = append(next, pattern)
	return &Set{patterns: next}
}

// withRemoved returns a new Set with pattern removed, if present.
func (s *Set) withRemoved(pattern string) *Set {
	next := make([]string, 0, len(s.patterns))
	for _, p := range s.patterns {
		if p != pattern {
			next = append(next, p)
		}
	}
	return &Set{patterns: next}
}

// ValidatePattern rejects empty or malformed patterns at the admin boundary
// before they ever reach a Registry, per the InvalidInput error class.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("ignore pattern cannot be empty")
	}
	if _, err := doublestar.Match(pattern, "probe"); err != nil {
		return fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}
	return nil
}

// Registry holds the live, atomically-swapped IgnorePattern snapshot shared
// by the Scanner and Watcher. Readers call Current(); writers call Add/Remove
// which publish a new immutable Set.
type Registry struct {
	current atomic.Pointer[Set]
}

// NewRegistry creates a Registry seeded with the given patterns.
func NewRegistry(patterns []string) *Registry {
	r := &Registry{}
	r.current.Store(New(patterns))
	return r
}

// Current returns the currently active snapshot. The returned Set is safe to
// retain and reuse across an entire scan or watch pass.
func (r *Registry) Current() *Set {
	return r.current.Load()
}

// Add publishes a new snapshot with pattern appended.
func (r *Registry) Add(pattern string) error {
	if err := ValidatePattern(pattern); err != nil {
		return err
	}
	for {
		cur := r.current.Load()
		next := cur.withAdded(pattern)
		if next == cur {
			return nil
		}
		if r.current.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Remove publishes a new snapshot with pattern removed.
func (r *Registry) Remove(pattern string) {
	for {
		cur := r.current.Load()
		next := cur.withRemoved(pattern)
		if r.current.CompareAndSwap(cur, next) {
			return
		}
	}
}

// AddDefaults adds every pattern in defaults not already present.
func (r *Registry) AddDefaults(defaults []string) error {
	for _, p := range defaults {
		if err := r.Add(p); err != nil {
			return err
		}
	}
	return nil
}
