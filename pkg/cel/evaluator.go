package cel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"

	"streamfilter/pkg/filter"
)

const docVariable = "doc"

// Engine evaluates compiled filters with CEL. Programs are built once at
// compile time and reused for every document.
type Engine struct {
	env *cel.Env
}

// compiledFilter keeps one CEL program per clause. The combinator is applied
// in Go so clauses run left to right and stop at the deciding one.
type compiledFilter struct {
	program    *filter.Program
	expression string
	clauses    []cel.Program
}

func (c *compiledFilter) Program() *filter.Program { return c.program }

func (c *compiledFilter) Expression() string { return c.expression }

func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable(docVariable, cel.DynType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

func (e *Engine) Name() string { return "cel" }

func (e *Engine) Compile(spec filter.Specification) (filter.Compiled, error) {
	p, err := filter.Compile(spec)
	if err != nil {
		return nil, err
	}
	if p.IsPassThrough() {
		return p, nil
	}

	expression, err := Render(p)
	if err != nil {
		return nil, err
	}

	if err := e.ValidateFilterExpression(expression); err != nil {
		return nil, &filter.CompileError{Index: -1, Field: "expressions", Message: err.Error()}
	}

	clauses := p.Clauses()
	programs := make([]cel.Program, len(clauses))
	for i, c := range clauses {
		guarded, err := RenderClause(c)
		if err != nil {
			return nil, &filter.CompileError{Index: i, Field: "value", Message: err.Error()}
		}
		prg, err := e.compileClause(guarded)
		if err != nil {
			return nil, &filter.CompileError{Index: i, Field: "key", Message: err.Error()}
		}
		programs[i] = prg
	}

	return &compiledFilter{program: p, expression: expression, clauses: programs}, nil
}

// Evaluate runs the clauses in order. AND stops at the first false clause and
// OR at the first true one. A missing path or a document value of the wrong
// type fails the evaluation instead of comparing unequal.
func (e *Engine) Evaluate(f filter.Compiled, doc interface{}) (bool, error) {
	if f == nil || f.Program().IsPassThrough() {
		return true, nil
	}

	cf, ok := f.(*compiledFilter)
	if !ok {
		return false, &filter.EvaluationError{Clause: -1, Message: fmt.Sprintf("malformed compiled filter: %T was not built by the CEL engine", f)}
	}

	combinator := cf.program.Combinator()
	clauses := cf.program.Clauses()
	activation := map[string]interface{}{docVariable: doc}

	var result bool
	for i, prg := range cf.clauses {
		if i > 0 {
			if combinator == filter.And && !result {
				return false, nil
			}
			if combinator == filter.Or && result {
				return true, nil
			}
		}

		matched, err := evalClause(prg, activation)
		if err != nil {
			err.Clause = i
			err.Key = clauses[i].Key
			return false, err
		}
		result = matched
	}
	return result, nil
}

func evalClause(prg cel.Program, activation map[string]interface{}) (bool, *filter.EvaluationError) {
	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, &filter.EvaluationError{Message: "failed to evaluate CEL expression", Cause: err}
	}

	code, ok := out.Value().(int64)
	if !ok {
		return false, &filter.EvaluationError{Message: fmt.Sprintf("CEL clause returned %T, want int", out.Value())}
	}
	switch code {
	case clauseTrue:
		return true, nil
	case clauseFalse:
		return false, nil
	default:
		return false, &filter.EvaluationError{Message: "type mismatch between document value and filter value"}
	}
}

func (e *Engine) ValidateFilterExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

func (e *Engine) compileClause(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL clause: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.IntType) {
		return nil, fmt.Errorf("CEL clause must return int, got %v", ast.OutputType())
	}
	return e.env.Program(ast)
}

// Render turns a compiled program into a single CEL expression over doc, used
// to type-check the filter and to show it; evaluation runs RenderClause
// programs instead. String literals are spliced in unescaped, so values
// containing a quote or a backslash are rejected.
func Render(p *filter.Program) (string, error) {
	if p.IsPassThrough() {
		return "true", nil
	}

	joiner := " && "
	if p.Combinator() == filter.Or {
		joiner = " || "
	}

	clauses := p.Clauses()
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		lit, err := literal(c.Value)
		if err != nil {
			return "", &filter.CompileError{Index: i, Field: "value", Message: err.Error()}
		}
		op, err := symbol(c.Operator)
		if err != nil {
			return "", &filter.CompileError{Index: i, Field: "operator", Message: err.Error()}
		}
		parts[i] = accessor(c) + " " + op + " " + lit
	}

	return strings.Join(parts, joiner), nil
}

const (
	clauseFalse    int64 = 0
	clauseTrue     int64 = 1
	clauseMismatch int64 = 2
)

// RenderClause renders one clause as a CEL int expression: 1 when the clause
// holds, 0 when it does not and 2 when the document value is not of the
// filter value's type. A missing path is a CEL evaluation error.
func RenderClause(c filter.Clause) (string, error) {
	lit, err := literal(c.Value)
	if err != nil {
		return "", err
	}
	op, err := symbol(c.Operator)
	if err != nil {
		return "", err
	}

	celType := "string"
	if c.Value.IsNumber() {
		celType = "double"
	}

	acc := accessor(c)
	return fmt.Sprintf("type(%s) == %s ? (%s %s %s ? %d : %d) : %d",
		acc, celType, acc, op, lit, clauseTrue, clauseFalse, clauseMismatch), nil
}

func accessor(c filter.Clause) string {
	var b strings.Builder
	b.WriteString(docVariable)
	segments := make([]string, 0, len(c.Path)+1)
	segments = append(segments, c.Path...)
	segments = append(segments, c.Field)
	for _, seg := range segments {
		b.WriteString("[")
		if isIndex(seg) {
			b.WriteString(seg)
		} else {
			b.WriteString(strconv.Quote(seg))
		}
		b.WriteString("]")
	}
	return b.String()
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func literal(v filter.Value) (string, error) {
	if v.IsNumber() {
		s := strconv.FormatFloat(v.Num(), 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEn") {
			s += ".0"
		}
		return s, nil
	}
	if strings.ContainsAny(v.Str(), "\"\\\n\r") {
		return "", fmt.Errorf("string value %q cannot be used as an unescaped literal", v.Str())
	}
	return `"` + v.Str() + `"`, nil
}

func symbol(op filter.Operator) (string, error) {
	switch op {
	case filter.EQ:
		return "==", nil
	case filter.NE:
		return "!=", nil
	case filter.GT:
		return ">", nil
	case filter.LT:
		return "<", nil
	case filter.GE:
		return ">=", nil
	case filter.LE:
		return "<=", nil
	}
	return "", fmt.Errorf("unknown operator %q", op)
}
