// Package namespace provides a path-component keyed map with case-insensitive
// lookup. Each node holds its children inline in a small slice until a fan-out
// threshold is crossed, then switches to a map representation. The switch
// preserves node identity, so references held by callers stay valid.
package namespace

import (
	"strings"

	"github.com/facette/natsort"
)

// DefaultThreshold is the fan-out at which a node switches from the inline
// slice representation to the map representation.
const DefaultThreshold = 12

type node[T any] struct {
	name     string // original casing, as first inserted
	value    T
	hasValue bool

	// Exactly one of small/large is in use. small preserves insertion order;
	// large is keyed by the lowercased component.
	small []*node[T]
	large map[string]*node[T]
}

// Map is a tree of path components. Keys are compared case-insensitively;
// the casing of the first insertion is preserved for retrieval.
type Map[T any] struct {
	root      *node[T]
	threshold int
	size      int
}

// New returns an empty Map with the given fan-out threshold. A threshold
// below 1 falls back to DefaultThreshold.
func New[T any](threshold int) *Map[T] {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Map[T]{root: &node[T]{}, threshold: threshold}
}

func splitComponents(key string) []string {
	parts := strings.Split(key, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (n *node[T]) child(lower string) *node[T] {
	if n.large != nil {
		return n.large[lower]
	}
	for _, c := range n.small {
		if strings.ToLower(c.name) == lower {
			return c
		}
	}
	return nil
}

func (n *node[T]) addChild(threshold int, c *node[T]) {
	if n.large != nil {
		n.large[strings.ToLower(c.name)] = c
		return
	}
	n.small = append(n.small, c)
	if len(n.small) > threshold {
		n.switchToLarge()
	}
}

// switchToLarge migrates every inline child into the map representation.
// Node pointers are carried over as-is.
func (n *node[T]) switchToLarge() {
	large := make(map[string]*node[T], len(n.small))
	for _, c := range n.small {
		large[strings.ToLower(c.name)] = c
	}
	n.large = large
	n.small = nil
}

func (n *node[T]) removeChild(lower string) bool {
	if n.large != nil {
		if _, ok := n.large[lower]; ok {
			delete(n.large, lower)
			return true
		}
		return false
	}
	for i, c := range n.small {
		if strings.ToLower(c.name) == lower {
			n.small = append(n.small[:i], n.small[i+1:]...)
			return true
		}
	}
	return false
}

func (n *node[T]) childCount() int {
	if n.large != nil {
		return len(n.large)
	}
	return len(n.small)
}

// Insert stores value under key, replacing any previous value.
func (m *Map[T]) Insert(key string, value T) {
	cur := m.root
	for _, comp := range splitComponents(key) {
		lower := strings.ToLower(comp)
		next := cur.child(lower)
		if next == nil {
			next = &node[T]{name: comp}
			cur.addChild(m.threshold, next)
		}
		cur = next
	}
	if !cur.hasValue {
		m.size++
	}
	cur.value = value
	cur.hasValue = true
}

// Get retrieves the value stored under key.
func (m *Map[T]) Get(key string) (T, bool) {
	cur := m.root
	for _, comp := range splitComponents(key) {
		cur = cur.child(strings.ToLower(comp))
		if cur == nil {
			var zero T
			return zero, false
		}
	}
	if !cur.hasValue {
		var zero T
		return zero, false
	}
	return cur.value, true
}

// OriginalKey returns the stored casing of the final component of key.
func (m *Map[T]) OriginalKey(key string) (string, bool) {
	cur := m.root
	for _, comp := range splitComponents(key) {
		cur = cur.child(strings.ToLower(comp))
		if cur == nil {
			return "", false
		}
	}
	if cur == m.root || !cur.hasValue {
		return "", false
	}
	return cur.name, true
}

// Erase removes the value stored under key. Interior nodes left without
// values or children are pruned.
func (m *Map[T]) Erase(key string) bool {
	comps := splitComponents(key)
	if len(comps) == 0 {
		return false
	}
	chain := make([]*node[T], 0, len(comps)+1)
	cur := m.root
	chain = append(chain, cur)
	for _, comp := range comps {
		cur = cur.child(strings.ToLower(comp))
		if cur == nil {
			return false
		}
		chain = append(chain, cur)
	}
	if !cur.hasValue {
		return false
	}
	var zero T
	cur.value = zero
	cur.hasValue = false
	m.size--

	// Prune empty leaves bottom-up.
	for i := len(chain) - 1; i > 0; i-- {
		n := chain[i]
		if n.hasValue || n.childCount() > 0 {
			break
		}
		chain[i-1].removeChild(strings.ToLower(n.name))
	}
	return true
}

// ForEach visits every stored value as (path, value). Within a node in the
// small representation children are visited in insertion order; in the large
// representation they are visited in natural-sort order of their keys, which
// is deterministic for a given snapshot.
func (m *Map[T]) ForEach(fn func(path string, value T) bool) {
	m.root.walk("", fn)
}

func (n *node[T]) walk(prefix string, fn func(path string, value T) bool) bool {
	path := prefix
	if n.name != "" {
		path = prefix + "/" + n.name
		if n.hasValue {
			if !fn(path, n.value) {
				return false
			}
		}
	}
	if n.large != nil {
		keys := make([]string, 0, len(n.large))
		for k := range n.large {
			keys = append(keys, k)
		}
		natsort.Sort(keys)
		for _, k := range keys {
			if !n.large[k].walk(path, fn) {
				return false
			}
		}
		return true
	}
	for _, c := range n.small {
		if !c.walk(path, fn) {
			return false
		}
	}
	return true
}

// Clear removes every entry.
func (m *Map[T]) Clear() {
	m.root = &node[T]{}
	m.size = 0
}

// Len returns the number of stored values.
func (m *Map[T]) Len() int {
	return m.size
}
