package filter

import (
	"errors"
	"fmt"
	"strings"
)

// Compiled is the evaluator-ready form of a Specification. Implementations
// are immutable and safe for concurrent use.
type Compiled interface {
	Program() *Program
}

// Clause is one comparison. Path holds the navigation segments in front of
// the last dot of the key, Field the segment after it.
type Clause struct {
	Key      string
	Path     []string
	Field    string
	Operator Operator
	Value    Value
}

// Program is the native compiled filter: ordered clauses under one combinator.
type Program struct {
	combinator Condition
	clauses    []Clause
}

// PassThrough marks a disabled filter; every document matches it.
var PassThrough = &Program{combinator: And}

func (p *Program) Program() *Program { return p }

func (p *Program) IsPassThrough() bool {
	return p == nil || len(p.clauses) == 0
}

func (p *Program) Combinator() Condition {
	if p == nil {
		return And
	}
	return p.combinator
}

// Clauses returns a copy of the compiled clauses in evaluation order.
func (p *Program) Clauses() []Clause {
	if p == nil {
		return nil
	}
	out := make([]Clause, len(p.clauses))
	copy(out, p.clauses)
	return out
}

// String renders the program as a flat textual expression, e.g.
// `user[age] > 18 and status = "active"`.
func (p *Program) String() string {
	if p.IsPassThrough() {
		return ""
	}
	joiner := " " + strings.ToLower(string(p.combinator)) + " "
	parts := make([]string, len(p.clauses))
	for i, c := range p.clauses {
		parts[i] = fmt.Sprintf("%s %s %s", c.target(), c.Operator.Symbol(), c.Value.Literal())
	}
	return strings.Join(parts, joiner)
}

func (c Clause) target() string {
	if len(c.Path) == 0 {
		return c.Field
	}
	return strings.Join(c.Path, ".") + "[" + c.Field + "]"
}

// Compile validates spec and turns it into a Program. An empty expression
// list yields PassThrough. Every invalid clause is reported; the returned
// error matches ErrCompile.
func Compile(spec Specification) (*Program, error) {
	if spec.Disabled() {
		return PassThrough, nil
	}

	var errs []error

	combinator, ok := ParseCondition(string(spec.Condition))
	if !ok {
		if spec.Condition == "" && len(spec.Expressions) == 1 {
			combinator = And
		} else {
			errs = append(errs, &CompileError{
				Index:   -1,
				Field:   "condition",
				Message: fmt.Sprintf("unknown condition %q (supported: AND, OR)", spec.Condition),
			})
		}
	}

	clauses := make([]Clause, 0, len(spec.Expressions))
	for i, expr := range spec.Expressions {
		clause, clauseErrs := compileExpression(i, expr)
		if len(clauseErrs) > 0 {
			errs = append(errs, clauseErrs...)
			continue
		}
		clauses = append(clauses, clause)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Program{combinator: combinator, clauses: clauses}, nil
}

func compileExpression(index int, expr Expression) (Clause, []error) {
	var errs []error

	path, field, err := splitKey(expr.Key)
	if err != nil {
		errs = append(errs, &CompileError{Index: index, Field: "key", Message: err.Error()})
	}

	op, ok := ParseOperator(string(expr.Operator))
	if !ok {
		msg := fmt.Sprintf("unknown operator %q (supported: EQ, NE, GT, LT, GE, LE)", expr.Operator)
		if expr.Operator == "" {
			msg = "operator is required"
		}
		errs = append(errs, &CompileError{Index: index, Field: "operator", Message: msg})
	}

	if !expr.Value.IsValid() {
		errs = append(errs, &CompileError{Index: index, Field: "value", Message: "value must be a string or a number"})
	}

	if len(errs) > 0 {
		return Clause{}, errs
	}

	return Clause{
		Key:      expr.Key,
		Path:     path,
		Field:    field,
		Operator: op,
		Value:    expr.Value,
	}, nil
}

// splitKey splits a dotted key once, at its last dot.
func splitKey(key string) ([]string, string, error) {
	if key == "" {
		return nil, "", fmt.Errorf("key is required")
	}

	idx := strings.LastIndex(key, ".")
	if idx < 0 {
		return nil, key, nil
	}

	field := key[idx+1:]
	path := strings.Split(key[:idx], ".")
	for _, seg := range path {
		if seg == "" {
			return nil, "", fmt.Errorf("key %q contains an empty path segment", key)
		}
	}
	if field == "" {
		return nil, "", fmt.Errorf("key %q ends with a dot", key)
	}
	return path, field, nil
}
