package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Condition string

const (
	And Condition = "AND"
	Or  Condition = "OR"
)

func ParseCondition(s string) (Condition, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AND", "&&":
		return And, true
	case "OR", "||":
		return Or, true
	default:
		return Condition(s), false
	}
}

type Operator string

const (
	EQ Operator = "EQ"
	NE Operator = "NE"
	GT Operator = "GT"
	LT Operator = "LT"
	GE Operator = "GE"
	LE Operator = "LE"
)

var operatorAliases = map[string]Operator{
	"EQ":                     EQ,
	"EQUALS":                 EQ,
	"=":                      EQ,
	"==":                     EQ,
	"NE":                     NE,
	"NOT_EQUALS":             NE,
	"!=":                     NE,
	"GT":                     GT,
	"GREATER_THAN":           GT,
	">":                      GT,
	"LT":                     LT,
	"LESS_THAN":              LT,
	"<":                      LT,
	"GE":                     GE,
	"GREATER_THAN_OR_EQUALS": GE,
	">=":                     GE,
	"LE":                     LE,
	"LESS_THAN_OR_EQUALS":    LE,
	"<=":                     LE,
}

// ParseOperator normalizes canonical names, the long names used by stream
// consumers and comparison symbols. The returned operator is unchanged input
// when ok is false, so it can still be reported.
func ParseOperator(s string) (Operator, bool) {
	op, ok := operatorAliases[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return Operator(s), false
	}
	return op, true
}

func (o Operator) Valid() bool {
	switch o {
	case EQ, NE, GT, LT, GE, LE:
		return true
	}
	return false
}

func (o Operator) Symbol() string {
	switch o {
	case EQ:
		return "="
	case NE:
		return "!="
	case GT:
		return ">"
	case LT:
		return "<"
	case GE:
		return ">="
	case LE:
		return "<="
	}
	return string(o)
}

type valueKind uint8

const (
	kindInvalid valueKind = iota
	kindString
	kindNumber
)

// Value is the literal side of a clause: either a string or a number.
type Value struct {
	kind valueKind
	str  string
	num  float64
}

func String(s string) Value  { return Value{kind: kindString, str: s} }
func Number(n float64) Value { return Value{kind: kindNumber, num: n} }

func (v Value) IsNumber() bool { return v.kind == kindNumber }
func (v Value) IsString() bool { return v.kind == kindString }
func (v Value) IsValid() bool  { return v.kind != kindInvalid }

func (v Value) Str() string { return v.str }

func (v Value) Num() float64 { return v.num }

// Literal renders the value the way it appears in a textual expression:
// numbers bare, strings wrapped in double quotes with nothing escaped.
func (v Value) Literal() string {
	switch v.kind {
	case kindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case kindString:
		return `"` + v.str + `"`
	}
	return "<invalid>"
}

func (v Value) String() string {
	if v.kind == kindString {
		return v.str
	}
	return v.Literal()
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindNumber:
		return json.Marshal(v.num)
	case kindString:
		return json.Marshal(v.str)
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("filter value is empty")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case 'n':
		*v = Value{}
		return nil
	case 't', 'f', '{', '[':
		return fmt.Errorf("filter value must be a string or a number, got %s", data)
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("filter value must be a string or a number: %w", err)
	}
	*v = Number(n)
	return nil
}

// ValueOf converts a loosely typed scalar (as produced by YAML or JSON
// decoders) into a Value.
func ValueOf(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return Number(n), nil
	case nil:
		return Value{}, nil
	default:
		return Value{}, fmt.Errorf("filter value must be a string or a number, got %T", raw)
	}
}

// Expression is a single key/operator/value clause.
type Expression struct {
	Key      string   `json:"key" mapstructure:"key"`
	Operator Operator `json:"operator" mapstructure:"operator"`
	Value    Value    `json:"value" mapstructure:"value"`
}

func (e *Expression) UnmarshalJSON(data []byte) error {
	var raw struct {
		Key      string `json:"key"`
		Operator string `json:"operator"`
		Op       string `json:"op"`
		Value    Value  `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	op := raw.Operator
	if op == "" {
		op = raw.Op
	}
	e.Key = raw.Key
	e.Operator = Operator(op)
	e.Value = raw.Value
	return nil
}

// Specification is a subscriber's declared filter. A single condition joins
// every pair of adjacent expressions; no expressions means filtering is off.
type Specification struct {
	Condition   Condition    `json:"condition" mapstructure:"condition"`
	Expressions []Expression `json:"expressions" mapstructure:"expressions"`
}

func (s Specification) Disabled() bool {
	return len(s.Expressions) == 0
}
