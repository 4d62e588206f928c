package queryir

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/lineage/internal/ir"
)

// ParseFilter builds a predicate from its nested map form:
//
//	{"or": [{"attributes.x": {">": 1}}, {"label": "a"}]}
//	{"~": {"uuid": {"like": "ab%"}}}
//	{"attributes.x": {">": 1, "<": 5}}
//
// A field mapped to a scalar means equality. An operator prefixed with "!"
// is negated. Keys of one map are combined with and, in sorted order.
func ParseFilter(m map[string]any) (Predicate, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var preds []Predicate
	for _, k := range keys {
		p, err := parseEntry(k, m[k])
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return And{Predicates: preds}, nil
}

func parseEntry(key string, v any) (Predicate, error) {
	switch key {
	case "and", "or":
		list, ok := v.([]any)
		if !ok {
			return nil, validationf("%q expects a list of filters, got %T", key, v)
		}
		preds := make([]Predicate, 0, len(list))
		for i, elem := range list {
			sub, ok := elem.(map[string]any)
			if !ok {
				return nil, validationf("%s[%d]: expected a filter map, got %T", key, i, elem)
			}
			p, err := ParseFilter(sub)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
		if key == "and" {
			return And{Predicates: preds}, nil
		}
		return Or{Predicates: preds}, nil
	case "~":
		sub, ok := v.(map[string]any)
		if !ok {
			return nil, validationf("\"~\" expects a filter map, got %T", v)
		}
		p, err := ParseFilter(sub)
		if err != nil {
			return nil, err
		}
		return Not{Predicate: p}, nil
	}

	ops, ok := v.(map[string]any)
	if !ok {
		val, err := ir.FromAny(v)
		if err != nil {
			return nil, validationf("filter %q: %v", key, err)
		}
		return Compare{Field: key, Op: OpEq, Value: val}, nil
	}

	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	var preds []Predicate
	for _, name := range names {
		negate := strings.HasPrefix(name, "!")
		op := Operator(strings.TrimPrefix(name, "!"))
		if !ValidOperators[op] {
			return nil, validationf("filter %q: unknown operator %q", key, name)
		}
		val, err := ir.FromAny(ops[name])
		if err != nil {
			return nil, validationf("filter %q %s: %v", key, name, err)
		}
		var p Predicate = Compare{Field: key, Op: op, Value: val}
		if negate {
			p = Not{Predicate: p}
		}
		preds = append(preds, p)
	}
	if len(preds) == 0 {
		return nil, validationf("filter %q: no operators", key)
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return And{Predicates: preds}, nil
}

// ParseField parses and checks a field reference for an entity kind.
// "pk" is an alias of "id".
func ParseField(kind ir.EntityKind, s string) (Field, error) {
	if s == "" {
		return Field{}, validationf("empty field name")
	}
	parts := strings.Split(s, ".")
	col := parts[0]
	if col == "pk" {
		col = "id"
	}
	if !hasColumn(kind, col) {
		return Field{}, validationf("%s has no field %q", kind, col)
	}
	f := Field{Column: col}
	if len(parts) > 1 {
		if !jsonColumns[col] {
			return Field{}, validationf("field %q of %s is not a JSON column", col, kind)
		}
		for _, p := range parts[1:] {
			if p == "" || strings.ContainsAny(p, `"\`) {
				return Field{}, validationf("invalid JSON path %q", s)
			}
		}
		f.Path = parts[1:]
	}
	return f, nil
}

// ParseEdgeField parses and checks a link field reference.
func ParseEdgeField(s string) (Field, error) {
	col := s
	if col == "pk" {
		col = "id"
	}
	for _, c := range EdgeColumns {
		if c == col {
			return Field{Column: col}, nil
		}
	}
	return Field{}, validationf("link has no field %q", s)
}

func hasColumn(kind ir.EntityKind, col string) bool {
	for _, c := range entityColumns[kind] {
		if c == col {
			return true
		}
	}
	for _, c := range extraColumns[kind] {
		if c == col {
			return true
		}
	}
	return false
}

// checkPredicate validates every field and operand of a predicate.
func checkPredicate(p Predicate, parse func(string) (Field, error)) error {
	switch pred := p.(type) {
	case nil:
		return nil
	case And:
		for _, sub := range pred.Predicates {
			if err := checkPredicate(sub, parse); err != nil {
				return err
			}
		}
	case Or:
		for _, sub := range pred.Predicates {
			if err := checkPredicate(sub, parse); err != nil {
				return err
			}
		}
	case Not:
		if pred.Predicate == nil {
			return validationf("negation of nothing")
		}
		return checkPredicate(pred.Predicate, parse)
	case Compare:
		f, err := parse(pred.Field)
		if err != nil {
			return err
		}
		return checkOperand(f, pred)
	default:
		return validationf("unsupported predicate %T", p)
	}
	return nil
}

func checkOperand(f Field, c Compare) error {
	if !ValidOperators[c.Op] {
		return validationf("unknown operator %q", c.Op)
	}
	if c.Op.IsJSONOnly() && !f.IsJSON() {
		return validationf("operator %s needs a JSON field, %q is a column", c.Op, f)
	}
	switch c.Op {
	case OpIn:
		arr, ok := c.Value.(ir.IRArray)
		if !ok || len(arr) == 0 {
			return validationf("%s in: expected a non-empty list", f)
		}
	case OpLike, OpILike:
		if _, ok := c.Value.(ir.IRString); !ok {
			return validationf("%s %s: expected a string pattern", f, c.Op)
		}
	case OpHasKey:
		if _, ok := c.Value.(ir.IRString); !ok {
			return validationf("%s has_key: expected a string key", f)
		}
	case OpOfLength, OpLonger, OpShorter:
		if _, ok := c.Value.(ir.IRInt); !ok {
			return validationf("%s %s: expected an integer length", f, c.Op)
		}
	case OpContains:
		if _, ok := c.Value.(ir.IRArray); !ok {
			return validationf("%s contains: expected a list", f)
		}
	case OpGt, OpLt, OpGte, OpLte:
		switch c.Value.(type) {
		case ir.IRInt, ir.IRFloat, ir.IRString:
		default:
			return validationf("%s %s: expected a number or string", f, c.Op)
		}
	}
	return nil
}

func validationf(format string, args ...any) error {
	return &ir.Error{Code: ir.CodeValidation, Message: fmt.Sprintf(format, args...)}
}
