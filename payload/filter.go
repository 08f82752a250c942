package payload

// Operator is a filter comparison operator.
type Operator int

const (
	// OpEqual matches values equal to the operand.
	OpEqual Operator = iota
	// OpNotEqual matches values not equal to the operand.
	OpNotEqual
	// OpGreaterThan matches ordered values greater than the operand.
	OpGreaterThan
	// OpGreaterEqual matches ordered values greater than or equal to the operand.
	OpGreaterEqual
	// OpLessThan matches ordered values less than the operand.
	OpLessThan
	// OpLessEqual matches ordered values less than or equal to the operand.
	OpLessEqual
	// OpIn matches values equal to any element of the operand slice.
	OpIn
	// OpContains matches slice values containing the operand string.
	OpContains
)

// Filter is a single field predicate.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

// Matches reports whether the payload satisfies the filter. A missing field
// never matches, including for OpNotEqual.
func (f *Filter) Matches(p Payload) bool {
	v, ok := p[f.Field]
	if !ok {
		return false
	}

	switch f.Operator {
	case OpEqual:
		return v.Equal(f.Value)
	case OpNotEqual:
		return v.Kind == f.Value.Kind && !v.Equal(f.Value)
	case OpGreaterThan:
		c, ok := v.compare(f.Value)
		return ok && c > 0
	case OpGreaterEqual:
		c, ok := v.compare(f.Value)
		return ok && c >= 0
	case OpLessThan:
		c, ok := v.compare(f.Value)
		return ok && c < 0
	case OpLessEqual:
		c, ok := v.compare(f.Value)
		return ok && c <= 0
	case OpIn:
		for _, s := range f.Value.A {
			if v.Kind == KindString && v.S == s {
				return true
			}
		}
		return false
	case OpContains:
		if v.Kind != KindStrings || f.Value.Kind != KindString {
			return false
		}
		for _, s := range v.A {
			if s == f.Value.S {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// FilterSet is a conjunction of filters.
type FilterSet struct {
	Filters []Filter `json:"filters"`
}

// Eq is a convenience constructor for an equality filter set.
func Eq(field string, value Value) FilterSet {
	return FilterSet{Filters: []Filter{{Field: field, Operator: OpEqual, Value: value}}}
}

// And appends a filter to the set.
func (fs FilterSet) And(field string, op Operator, value Value) FilterSet {
	fs.Filters = append(fs.Filters, Filter{Field: field, Operator: op, Value: value})
	return fs
}

// Empty reports whether the set has no filters.
func (fs FilterSet) Empty() bool { return len(fs.Filters) == 0 }

// Matches reports whether the payload satisfies every filter.
func (fs FilterSet) Matches(p Payload) bool {
	for i := range fs.Filters {
		if !fs.Filters[i].Matches(p) {
			return false
		}
	}

	return true
}
