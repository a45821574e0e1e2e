package tagger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnparseable is returned for condition strings outside the rule grammar.
var ErrUnparseable = errors.New("unparseable condition")

// Operator is a comparison operator of the rule grammar.
type Operator string

const (
	OpGTE Operator = ">="
	OpLTE Operator = "<="
	OpEQ  Operator = "=="
	OpGT  Operator = ">"
	OpLT  Operator = "<"
)

// operators is ordered longest first so that at equal positions ">=" is
// chosen over ">".
var operators = []Operator{OpGTE, OpLTE, OpEQ, OpGT, OpLT}

// Literal is the right-hand side of a condition: a string or a number.
type Literal struct {
	IsString bool
	Str      string
	Num      float64
}

// Condition is a parsed `<field> <op> <value>` expression.
type Condition struct {
	Field string
	Op    Operator
	Value Literal
}

// ParseCondition parses a rule condition. It never evaluates code. The
// condition splits at the first operator, so operator characters inside a
// quoted value stay part of the value.
func ParseCondition(s string) (Condition, error) {
	idx, op := -1, Operator("")
	for _, candidate := range operators {
		if i := strings.Index(s, string(candidate)); i >= 0 && (idx < 0 || i < idx) {
			idx, op = i, candidate
		}
	}
	if idx < 0 {
		return Condition{}, fmt.Errorf("%w: no operator in %q", ErrUnparseable, s)
	}

	field := strings.TrimSpace(s[:idx])
	if field == "" {
		return Condition{}, fmt.Errorf("%w: missing field in %q", ErrUnparseable, s)
	}
	lit, err := parseLiteral(strings.TrimSpace(s[idx+len(op):]))
	if err != nil {
		return Condition{}, fmt.Errorf("%w: %q: %v", ErrUnparseable, s, err)
	}
	return Condition{Field: field, Op: op, Value: lit}, nil
}

func parseLiteral(tok string) (Literal, error) {
	if len(tok) >= 2 {
		first, last := tok[0], tok[len(tok)-1]
		if (first == '"' || first == '\'') && first == last {
			return Literal{IsString: true, Str: tok[1 : len(tok)-1]}, nil
		}
	}
	n, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return Literal{}, fmt.Errorf("value %q is not a number", tok)
	}
	return Literal{Num: n}, nil
}

// Record is a flat field → scalar view of one product.
type Record map[string]any

// Eval reports whether the condition holds for r. ok is false when the field
// is absent or its type does not fit the literal; such a rule is skipped.
func (c Condition) Eval(r Record) (matched, ok bool) {
	v, present := r[c.Field]
	if !present || v == nil {
		return false, false
	}

	if c.Value.IsString {
		s, isStr := v.(string)
		if !isStr {
			return false, false
		}
		return compare(strings.Compare(s, c.Value.Str), c.Op), true
	}

	n, isNum := toFloat(v)
	if !isNum {
		return false, false
	}
	switch {
	case n < c.Value.Num:
		return compare(-1, c.Op), true
	case n > c.Value.Num:
		return compare(1, c.Op), true
	default:
		return compare(0, c.Op), true
	}
}

func compare(cmp int, op Operator) bool {
	switch op {
	case OpGTE:
		return cmp >= 0
	case OpLTE:
		return cmp <= 0
	case OpEQ:
		return cmp == 0
	case OpGT:
		return cmp > 0
	case OpLT:
		return cmp < 0
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case *float64:
		if n == nil {
			return 0, false
		}
		return *n, true
	}
	return 0, false
}
