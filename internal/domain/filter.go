package domain

import "fmt"

// FilterOp is the shape of a metadata filter.
type FilterOp int

const (
	// OpEq matches a single field against one value.
	OpEq FilterOp = iota
	// OpIn matches a single field against a set of values.
	OpIn
)

// Filter restricts a query to entries whose metadata field matches.
// Only one field can be constrained per filter.
type Filter struct {
	Field  string
	Op     FilterOp
	Values []string
}

// Eq builds an exact-match filter.
func Eq(field, value string) *Filter {
	return &Filter{Field: field, Op: OpEq, Values: []string{value}}
}

// In builds a set-membership filter.
func In(field string, values ...string) *Filter {
	return &Filter{Field: field, Op: OpIn, Values: append([]string(nil), values...)}
}

// Validate reports whether the filter references a known field and has usable values.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	if _, ok := (Metadata{}).Field(f.Field); !ok {
		return fmt.Errorf("unknown filter field %q", f.Field)
	}
	switch f.Op {
	case OpEq:
		if len(f.Values) != 1 {
			return fmt.Errorf("equality filter on %q needs exactly one value", f.Field)
		}
	case OpIn:
	default:
		return fmt.Errorf("unsupported filter op %d", f.Op)
	}
	return nil
}

// Match evaluates the filter against metadata. A nil filter matches everything.
func (f *Filter) Match(m Metadata) bool {
	if f == nil {
		return true
	}
	v, ok := m.Field(f.Field)
	if !ok {
		return false
	}
	for _, want := range f.Values {
		if v == want {
			return true
		}
	}
	return false
}
