package assembler

// constKey is the structural identity of an internable constant. The kind
// tag keeps values of different types distinct even when their
// representations collide (1, 1.0, true).
type constKey struct {
	kind byte // 'z' nil, 'b' bool, 'i' int, 'f' float, 's' string
	b    bool
	i    int64
	f    float64
	s    string
}

func constKeyFor(v any) (constKey, bool) {
	switch v := v.(type) {
	case nil:
		return constKey{kind: 'z'}, true
	case bool:
		return constKey{kind: 'b', b: v}, true
	case int:
		return constKey{kind: 'i', i: int64(v)}, true
	case int64:
		return constKey{kind: 'i', i: v}, true
	case float64:
		return constKey{kind: 'f', f: v}, true
	case string:
		return constKey{kind: 's', s: v}, true
	}
	return constKey{}, false
}

// ConstCache interns emitted constant values so structurally identical
// constants share one canonical instance. One cache is scoped to one
// top-level compilation and passed explicitly into every nested code unit's
// assembly, so identical literals reused by nested units are shared rather
// than duplicated.
type ConstCache struct {
	entries map[constKey]any
}

// NewConstCache creates an empty constant cache.
func NewConstCache() *ConstCache {
	return &ConstCache{entries: make(map[constKey]any)}
}

// Intern returns the canonical instance for the given value. The first
// insertion of a value becomes canonical; later structurally equal values
// are replaced by a reference to it. Values with reference identity (such
// as nested code units) pass through unchanged: they are their own
// canonical instance.
func (c *ConstCache) Intern(v any) any {
	key, ok := constKeyFor(v)
	if !ok {
		return v
	}
	if canonical, found := c.entries[key]; found {
		return canonical
	}
	c.entries[key] = v
	return v
}

// Len returns the number of canonical entries in the cache.
func (c *ConstCache) Len() int {
	return len(c.entries)
}
