package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Operator is a comparison applied to a single metadata field.
type Operator string

// Supported operators. Ordering operators only pass for numbers.
const (
	OpEqual        Operator = "$eq"
	OpNotEqual     Operator = "$ne"
	OpGreaterThan  Operator = "$gt"
	OpGreaterEqual Operator = "$gte"
	OpLessThan     Operator = "$lt"
	OpLessEqual    Operator = "$lte"
	OpIn           Operator = "$in"
	OpNotIn        Operator = "$nin"
)

const (
	keyAnd = "$and"
	keyOr  = "$or"
)

// Condition compares a field value against an operand. Values is used by
// OpIn and OpNotIn, Value by every other operator.
type Condition struct {
	Op     Operator
	Value  Value
	Values []Value
}

// FieldFilter holds the conditions on one field; all of them must pass.
type FieldFilter struct {
	Field      string
	Conditions []Condition
}

// Filter is a parsed metadata predicate. Every part must pass: all And
// filters, at least one Or filter when Or is non-empty, and every field filter.
// A nil *Filter matches everything.
type Filter struct {
	And    []*Filter
	Or     []*Filter
	Fields []FieldFilter
}

// Eq returns a filter requiring field == v.
func Eq(field string, v Value) *Filter {
	return Where(field, OpEqual, v)
}

// Where returns a filter applying a single scalar operator to field.
func Where(field string, op Operator, v Value) *Filter {
	return &Filter{Fields: []FieldFilter{{Field: field, Conditions: []Condition{{Op: op, Value: v}}}}}
}

// In returns a filter requiring field to be one of vs.
func In(field string, vs ...Value) *Filter {
	return &Filter{Fields: []FieldFilter{{Field: field, Conditions: []Condition{{Op: OpIn, Values: vs}}}}}
}

// NotIn returns a filter requiring field to be none of vs.
func NotIn(field string, vs ...Value) *Filter {
	return &Filter{Fields: []FieldFilter{{Field: field, Conditions: []Condition{{Op: OpNotIn, Values: vs}}}}}
}

// And returns a filter that passes when every sub-filter passes.
func And(fs ...*Filter) *Filter { return &Filter{And: fs} }

// Or returns a filter that passes when any sub-filter passes.
func Or(fs ...*Filter) *Filter { return &Filter{Or: fs} }

// Matches reports whether doc satisfies the filter.
func (f *Filter) Matches(doc Document) bool {
	if f == nil {
		return true
	}
	for _, sub := range f.And {
		if !sub.Matches(doc) {
			return false
		}
	}
	if len(f.Or) > 0 {
		matched := false
		for _, sub := range f.Or {
			if sub.Matches(doc) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, ff := range f.Fields {
		v, ok := doc[ff.Field]
		if !ok || v.Kind == KindInvalid {
			return false
		}
		for _, c := range ff.Conditions {
			if !c.matches(v) {
				return false
			}
		}
	}
	return true
}

func (c Condition) matches(v Value) bool {
	switch c.Op {
	case OpEqual:
		return v.Equal(c.Value)
	case OpNotEqual:
		return !v.Equal(c.Value)
	case OpGreaterThan:
		return bothNumbers(v, c.Value) && v.Num > c.Value.Num
	case OpGreaterEqual:
		return bothNumbers(v, c.Value) && v.Num >= c.Value.Num
	case OpLessThan:
		return bothNumbers(v, c.Value) && v.Num < c.Value.Num
	case OpLessEqual:
		return bothNumbers(v, c.Value) && v.Num <= c.Value.Num
	case OpIn:
		return v.Kind != KindBool && contains(c.Values, v)
	case OpNotIn:
		return v.Kind != KindBool && !contains(c.Values, v)
	default:
		return false
	}
}

func bothNumbers(a, b Value) bool {
	return a.IsNumber() && b.IsNumber()
}

func contains(vs []Value, v Value) bool {
	for _, x := range vs {
		if x.Equal(v) {
			return true
		}
	}
	return false
}

// ParseFilter parses a JSON filter such as
//
//	{"$or": [{"folder": "daily"}, {"words": {"$gte": 100}}], "tag": {"$in": ["a", "b"]}}
//
// Keys other than $and/$or name metadata fields; a scalar is shorthand for $eq.
// Inside a field object, keys that are not known operators are treated as $eq.
func ParseFilter(data []byte) (*Filter, error) {
	var f Filter
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// MarshalJSON writes the filter in the form ParseFilter reads. Conditions on
// the same field merge into one operator object.
func (f *Filter) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	out := make(map[string]interface{}, len(f.Fields)+2)
	if len(f.And) > 0 {
		out[keyAnd] = f.And
	}
	if len(f.Or) > 0 {
		out[keyOr] = f.Or
	}
	for _, ff := range f.Fields {
		ops, ok := out[ff.Field].(map[string]interface{})
		if !ok {
			ops = make(map[string]interface{}, len(ff.Conditions))
			out[ff.Field] = ops
		}
		for _, c := range ff.Conditions {
			if c.Op == OpIn || c.Op == OpNotIn {
				vs := c.Values
				if vs == nil {
					vs = []Value{}
				}
				ops[string(c.Op)] = vs
			} else {
				ops[string(c.Op)] = c.Value
			}
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("metadata filter must be an object: %w", err)
	}
	*f = Filter{}
	for _, key := range sortedKeys(raw) {
		msg := raw[key]
		switch key {
		case keyAnd, keyOr:
			var subs []*Filter
			if err := json.Unmarshal(msg, &subs); err != nil {
				return fmt.Errorf("%s expects a list of filters: %w", key, err)
			}
			if key == keyAnd {
				f.And = append(f.And, subs...)
			} else {
				f.Or = append(f.Or, subs...)
			}
		default:
			ff, err := parseField(key, msg)
			if err != nil {
				return err
			}
			f.Fields = append(f.Fields, ff)
		}
	}
	return nil
}

func parseField(field string, msg json.RawMessage) (FieldFilter, error) {
	ff := FieldFilter{Field: field}
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ff, fmt.Errorf("filter on %q: value must not be null", field)
	}
	if trimmed[0] != '{' {
		var v Value
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return ff, fmt.Errorf("filter on %q: %w", field, err)
		}
		ff.Conditions = []Condition{{Op: OpEqual, Value: v}}
		return ff, nil
	}
	var ops map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &ops); err != nil {
		return ff, fmt.Errorf("filter on %q: %w", field, err)
	}
	for _, key := range sortedKeys(ops) {
		op := Operator(key)
		switch op {
		case OpIn, OpNotIn:
			var vs []Value
			if err := json.Unmarshal(ops[key], &vs); err != nil {
				return ff, fmt.Errorf("filter on %q: %s expects a list: %w", field, key, err)
			}
			ff.Conditions = append(ff.Conditions, Condition{Op: op, Values: vs})
		case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
			var v Value
			if err := json.Unmarshal(ops[key], &v); err != nil {
				return ff, fmt.Errorf("filter on %q: %s: %w", field, key, err)
			}
			ff.Conditions = append(ff.Conditions, Condition{Op: op, Value: v})
		default:
			var v Value
			if err := json.Unmarshal(ops[key], &v); err != nil {
				return ff, fmt.Errorf("filter on %q: %s: %w", field, key, err)
			}
			ff.Conditions = append(ff.Conditions, Condition{Op: OpEqual, Value: v})
		}
	}
	return ff, nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
