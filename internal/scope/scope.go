package scope

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// ErrEmptyPattern is returned by Compile for a blank pattern.
var ErrEmptyPattern = errors.New("empty scope pattern")

// Matcher reports whether an email falls inside a glob scope such as "*@apple.com".
// Matching is case-insensitive. A Matcher is safe for concurrent use.
type Matcher struct {
	pattern string
	g       glob.Glob
}

// Compile builds a Matcher. The pattern has no separators, so "*" spans dots and "@".
func Compile(pattern string) (*Matcher, error) {
	p := strings.ToLower(strings.TrimSpace(pattern))
	if p == "" {
		return nil, ErrEmptyPattern
	}
	g, err := glob.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("compile scope %q: %w", pattern, err)
	}
	return &Matcher{pattern: p, g: g}, nil
}

func (m *Matcher) Pattern() string {
	if m == nil {
		return ""
	}
	return m.pattern
}

func (m *Matcher) Match(email string) bool {
	if m == nil {
		return false
	}
	return m.g.Match(strings.ToLower(strings.TrimSpace(email)))
}

// Cache memoizes compiled patterns. Reviewer records carry their scope as text, and a
// grant may change it at runtime, so matchers are compiled on first use.
type Cache struct {
	mu       sync.RWMutex
	matchers map[string]*Matcher
}

func NewCache() *Cache {
	return &Cache{matchers: make(map[string]*Matcher)}
}

// Match compiles pattern if needed and matches email against it. An invalid or empty
// pattern matches nothing.
func (c *Cache) Match(pattern, email string) bool {
	m, err := c.Get(pattern)
	if err != nil {
		return false
	}
	return m.Match(email)
}

func (c *Cache) Get(pattern string) (*Matcher, error) {
	c.mu.RLock()
	m, ok := c.matchers[pattern]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	m, err := Compile(pattern)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.matchers[pattern] = m
	c.mu.Unlock()
	return m, nil
}
