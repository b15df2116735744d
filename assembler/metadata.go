package assembler

import "reflect"

// Metadata carries the per-code-unit tables and naming information that the
// front end accumulates while generating instructions and that assembly
// turns into the final code object.
type Metadata struct {
	Name          string
	QualifiedName string
	Filename      string

	Consts   []any
	Names    []string
	Varnames []string
	Cellvars []string
	Freevars []string

	ArgCount        int
	PosOnlyArgCount int
	KwOnlyArgCount  int

	FirstLine int
}

// AddConstant appends a constant to the unit's constant table and returns
// its index. The value is interned through the cache first, then matched
// against existing entries by identity for reference values and by interned
// equality for scalars, so repeated literals share one table slot.
func (m *Metadata) AddConstant(v any, cache *ConstCache) int {
	if cache != nil {
		v = cache.Intern(v)
	}
	for i, existing := range m.Consts {
		if sameConst(existing, v) {
			return i
		}
	}
	m.Consts = append(m.Consts, v)
	return len(m.Consts) - 1
}

func sameConst(a, b any) bool {
	ka, aok := constKeyFor(a)
	kb, bok := constKeyFor(b)
	if aok && bok {
		return ka == kb
	}
	if aok != bok {
		return false
	}
	// Reference values compare by identity. Uncomparable values (slices,
	// maps) never match an existing slot.
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// AddName appends a name to the unit's name table, reusing the slot of an
// existing equal name.
func (m *Metadata) AddName(name string) int {
	for i, existing := range m.Names {
		if existing == name {
			return i
		}
	}
	m.Names = append(m.Names, name)
	return len(m.Names) - 1
}

// NLocalsPlus returns the combined width of the fast-local storage area:
// plain locals first, then cell variables, then free variables.
func (m *Metadata) NLocalsPlus() int {
	return len(m.Varnames) + len(m.Cellvars) + len(m.Freevars)
}
