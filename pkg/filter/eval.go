package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Engine compiles specifications and evaluates the result against decoded
// JSON documents.
type Engine interface {
	Name() string
	Compile(spec Specification) (Compiled, error)
	Evaluate(f Compiled, doc interface{}) (bool, error)
}

type NativeEngine struct{}

func NewNativeEngine() *NativeEngine {
	return &NativeEngine{}
}

func (NativeEngine) Name() string { return "native" }

func (NativeEngine) Compile(spec Specification) (Compiled, error) {
	return Compile(spec)
}

func (NativeEngine) Evaluate(f Compiled, doc interface{}) (bool, error) {
	if f == nil {
		return true, nil
	}
	return Evaluate(f.Program(), doc)
}

// Evaluate applies p to doc left to right. AND stops at the first false
// clause and OR at the first true one.
func Evaluate(p *Program, doc interface{}) (bool, error) {
	if p.IsPassThrough() {
		return true, nil
	}

	switch p.combinator {
	case And, Or:
	default:
		return false, &EvaluationError{Clause: -1, Message: fmt.Sprintf("malformed compiled filter: unknown combinator %q", p.combinator)}
	}

	var result bool
	for i, clause := range p.clauses {
		if i > 0 {
			if p.combinator == And && !result {
				return false, nil
			}
			if p.combinator == Or && result {
				return true, nil
			}
		}

		matched, err := evaluateClause(clause, doc)
		if err != nil {
			if ee, ok := err.(*EvaluationError); ok {
				ee.Clause = i
				ee.Key = clause.Key
				return false, ee
			}
			return false, err
		}
		result = matched
	}
	return result, nil
}

func evaluateClause(c Clause, doc interface{}) (bool, error) {
	current := doc
	for _, seg := range c.Path {
		next, err := step(current, seg)
		if err != nil {
			return false, err
		}
		current = next
	}

	actual, err := step(current, c.Field)
	if err != nil {
		return false, err
	}
	return compare(actual, c.Operator, c.Value)
}

func step(current interface{}, seg string) (interface{}, error) {
	switch node := current.(type) {
	case map[string]interface{}:
		v, ok := node[seg]
		if !ok {
			return nil, &EvaluationError{Message: fmt.Sprintf("path segment %q not found", seg)}
		}
		return v, nil
	case []interface{}:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || strings.HasPrefix(seg, "+") {
			return nil, &EvaluationError{Message: fmt.Sprintf("array index %q is not a non-negative integer", seg)}
		}
		if idx >= len(node) {
			return nil, &EvaluationError{Message: fmt.Sprintf("array index %d out of range (length %d)", idx, len(node))}
		}
		return node[idx], nil
	default:
		return nil, &EvaluationError{Message: fmt.Sprintf("cannot navigate into %s with %q", kindOf(current), seg)}
	}
}

func compare(actual interface{}, op Operator, want Value) (bool, error) {
	switch a := actual.(type) {
	case float64:
		if !want.IsNumber() {
			return false, mismatch(actual, want)
		}
		return compareOrdered(a, want.Num(), op)
	case string:
		if !want.IsString() {
			return false, mismatch(actual, want)
		}
		return compareOrdered(a, want.Str(), op)
	default:
		return false, mismatch(actual, want)
	}
}

func compareOrdered[T float64 | string](a, b T, op Operator) (bool, error) {
	switch op {
	case EQ:
		return a == b, nil
	case NE:
		return a != b, nil
	case GT:
		return a > b, nil
	case LT:
		return a < b, nil
	case GE:
		return a >= b, nil
	case LE:
		return a <= b, nil
	}
	return false, &EvaluationError{Message: fmt.Sprintf("malformed compiled filter: unknown operator %q", op)}
}

func mismatch(actual interface{}, want Value) error {
	wantKind := "string"
	if want.IsNumber() {
		wantKind = "number"
	}
	return &EvaluationError{Message: fmt.Sprintf("type mismatch: document value is %s, filter value is %s", kindOf(actual), wantKind)}
}

func kindOf(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
