package vectorstore

import "fmt"

// Op is a filter predicate operator.
type Op string

const (
	// OpEq matches payload fields exactly.
	OpEq Op = "eq"

	// OpRange matches numeric payload fields within [Min, Max].
	// A nil bound leaves that side open.
	OpRange Op = "range"
)

// Condition is a single predicate over one payload field.
type Condition struct {
	Field string
	Op    Op

	// Value is the comparand for OpEq.
	Value any

	// Min and Max bound OpRange. Either may be nil.
	Min any
	Max any
}

// Filter is a conjunction of conditions. All conditions must match.
type Filter struct {
	Conditions []Condition
}

// Eq builds an exact-match condition.
func Eq(field string, value any) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

// Range builds a numeric range condition. Pass nil to leave a bound open.
func Range(field string, min, max any) Condition {
	return Condition{Field: field, Op: OpRange, Min: min, Max: max}
}

// And builds a conjunction filter from conditions.
func And(conds ...Condition) *Filter {
	return &Filter{Conditions: conds}
}

// Matches reports whether payload satisfies every condition. Adapters
// without native filtering use this for client-side post-filtering, so
// its semantics define the logical filter contract for all backends.
func (f *Filter) Matches(payload map[string]any) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Conditions {
		if !c.matches(payload) {
			return false
		}
	}
	return true
}

func (c Condition) matches(payload map[string]any) bool {
	v, ok := payload[c.Field]
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return scalarEqual(v, c.Value)
	case OpRange:
		n, ok := asFloat(v)
		if !ok {
			return false
		}
		if c.Min != nil {
			min, ok := asFloat(c.Min)
			if !ok || n < min {
				return false
			}
		}
		if c.Max != nil {
			max, ok := asFloat(c.Max)
			if !ok || n > max {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// scalarEqual compares payload scalars, treating all numeric types as
// equivalent (JSON round-trips turn int64 into float64).
func scalarEqual(a, b any) bool {
	if na, ok := asFloat(a); ok {
		if nb, ok := asFloat(b); ok {
			return na == nb
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

// Validate rejects conditions with unknown operators before they reach
// a backend.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	for _, c := range f.Conditions {
		switch c.Op {
		case OpEq, OpRange:
		default:
			return fmt.Errorf("%w: unknown filter op %q", ErrInvalidConfig, c.Op)
		}
		if c.Field == "" {
			return fmt.Errorf("%w: filter condition missing field", ErrInvalidConfig)
		}
	}
	return nil
}
