package cel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamfilter/pkg/filter"
)

func decode(t *testing.T, raw string) interface{} {
	t.Helper()
	var doc interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return doc
}

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)
	assert.NotNil(t, engine)
	assert.Equal(t, "cel", engine.Name())
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		spec filter.Specification
		want string
	}{
		{
			name: "single number clause",
			spec: filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
				{Key: "age", Operator: filter.GT, Value: filter.Number(18)},
			}},
			want: `doc["age"] > 18.0`,
		},
		{
			name: "nested key split at last dot",
			spec: filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
				{Key: "user.profile.age", Operator: filter.GE, Value: filter.Number(1.5)},
			}},
			want: `doc["user"]["profile"]["age"] >= 1.5`,
		},
		{
			name: "or combinator with strings",
			spec: filter.Specification{Condition: filter.Or, Expressions: []filter.Expression{
				{Key: "status", Operator: filter.EQ, Value: filter.String("active")},
				{Key: "status", Operator: filter.NE, Value: filter.String("deleted")},
			}},
			want: `doc["status"] == "active" || doc["status"] != "deleted"`,
		},
		{
			name: "array index",
			spec: filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
				{Key: "items.0.qty", Operator: filter.LT, Value: filter.Number(-2)},
			}},
			want: `doc["items"][0]["qty"] < -2.0`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := filter.Compile(tt.spec)
			require.NoError(t, err)

			got, err := Render(p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_RejectsUnescapableLiteral(t *testing.T) {
	p, err := filter.Compile(filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
		{Key: "name", Operator: filter.EQ, Value: filter.String(`a"b`)},
	}})
	require.NoError(t, err)

	_, err = Render(p)
	assert.ErrorIs(t, err, filter.ErrCompile)

	engine, err := NewEngine()
	require.NoError(t, err)
	_, err = engine.Compile(filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
		{Key: "name", Operator: filter.EQ, Value: filter.String(`back\slash`)},
	}})
	assert.ErrorIs(t, err, filter.ErrCompile)
}

func TestEngine_Compile(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	compiled, err := engine.Compile(filter.Specification{})
	require.NoError(t, err)
	assert.True(t, compiled.Program().IsPassThrough())

	_, err = engine.Compile(filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
		{Key: "age", Operator: "BETWEEN", Value: filter.Number(1)},
	}})
	assert.ErrorIs(t, err, filter.ErrCompile)

	compiled, err = engine.Compile(filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
		{Key: "age", Operator: filter.GT, Value: filter.Number(18)},
	}})
	require.NoError(t, err)
	cf, ok := compiled.(*compiledFilter)
	require.True(t, ok)
	assert.Equal(t, `doc["age"] > 18.0`, cf.Expression())
}

func TestEngine_Evaluate(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	doc := decode(t, `{"age":20,"name":"bob","user":{"age":30},"items":[{"qty":3}]}`)

	tests := []struct {
		name      string
		exprs     []filter.Expression
		cond      filter.Condition
		want      bool
		wantError bool
	}{
		{
			name:  "number greater than",
			cond:  filter.And,
			exprs: []filter.Expression{{Key: "age", Operator: filter.GT, Value: filter.Number(18)}},
			want:  true,
		},
		{
			name:  "number not greater than",
			cond:  filter.And,
			exprs: []filter.Expression{{Key: "age", Operator: filter.GT, Value: filter.Number(20)}},
			want:  false,
		},
		{
			name:  "nested",
			cond:  filter.And,
			exprs: []filter.Expression{{Key: "user.age", Operator: filter.GE, Value: filter.Number(30)}},
			want:  true,
		},
		{
			name:  "array index",
			cond:  filter.And,
			exprs: []filter.Expression{{Key: "items.0.qty", Operator: filter.EQ, Value: filter.Number(3)}},
			want:  true,
		},
		{
			name: "or",
			cond: filter.Or,
			exprs: []filter.Expression{
				{Key: "name", Operator: filter.EQ, Value: filter.String("alice")},
				{Key: "name", Operator: filter.EQ, Value: filter.String("bob")},
			},
			want: true,
		},
		{
			name:      "missing key",
			cond:      filter.And,
			exprs:     []filter.Expression{{Key: "height", Operator: filter.GT, Value: filter.Number(1)}},
			wantError: true,
		},
		{
			name:      "ordering across types",
			cond:      filter.And,
			exprs:     []filter.Expression{{Key: "name", Operator: filter.GT, Value: filter.Number(1)}},
			wantError: true,
		},
		{
			name:      "not equal across types",
			cond:      filter.And,
			exprs:     []filter.Expression{{Key: "name", Operator: filter.NE, Value: filter.Number(1)}},
			wantError: true,
		},
		{
			name: "or does not absorb an earlier failure",
			cond: filter.Or,
			exprs: []filter.Expression{
				{Key: "height", Operator: filter.GT, Value: filter.Number(1)},
				{Key: "age", Operator: filter.GT, Value: filter.Number(18)},
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := engine.Compile(filter.Specification{Condition: tt.cond, Expressions: tt.exprs})
			require.NoError(t, err)

			got, err := engine.Evaluate(compiled, doc)
			if tt.wantError {
				assert.ErrorIs(t, err, filter.ErrEvaluation)
				assert.False(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_EvaluateForeignCompiledFilter(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	native, err := filter.Compile(filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
		{Key: "age", Operator: filter.GT, Value: filter.Number(18)},
	}})
	require.NoError(t, err)

	_, err = engine.Evaluate(native, decode(t, `{"age":20}`))
	assert.ErrorIs(t, err, filter.ErrEvaluation)

	ok, err := engine.Evaluate(filter.PassThrough, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRenderClause(t *testing.T) {
	p, err := filter.Compile(filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
		{Key: "user.age", Operator: filter.NE, Value: filter.Number(18)},
		{Key: "tier", Operator: filter.EQ, Value: filter.String("gold")},
	}})
	require.NoError(t, err)
	clauses := p.Clauses()

	got, err := RenderClause(clauses[0])
	require.NoError(t, err)
	assert.Equal(t, `type(doc["user"]["age"]) == double ? (doc["user"]["age"] != 18.0 ? 1 : 0) : 2`, got)

	got, err = RenderClause(clauses[1])
	require.NoError(t, err)
	assert.Equal(t, `type(doc["tier"]) == string ? (doc["tier"] == "gold" ? 1 : 0) : 2`, got)
}

func TestEngine_AgreesWithNativeEngine(t *testing.T) {
	celEngine, err := NewEngine()
	require.NoError(t, err)
	native := filter.NewNativeEngine()

	tests := []struct {
		name string
		spec filter.Specification
		docs []string
	}{
		{
			name: "and over nested number and string",
			spec: filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
				{Key: "user.age", Operator: filter.GT, Value: filter.Number(18)},
				{Key: "tier", Operator: filter.NE, Value: filter.String("free")},
			}},
			docs: []string{
				`{"user":{"age":30},"tier":"gold"}`,
				`{"user":{"age":10},"tier":"gold"}`,
				`{"user":{"age":30},"tier":"free"}`,
				`{"user":{"age":10}}`,
				`{"user":{"age":30}}`,
			},
		},
		{
			name: "not equal against a value of another type",
			spec: filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
				{Key: "age", Operator: filter.NE, Value: filter.Number(18)},
			}},
			docs: []string{`{"age":"twenty"}`, `{"age":true}`, `{"age":null}`, `{"age":{"n":1}}`, `{"age":17}`},
		},
		{
			name: "string not equal against a boolean",
			spec: filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
				{Key: "flag", Operator: filter.NE, Value: filter.String("x")},
			}},
			docs: []string{`{"flag":true}`, `{"flag":"y"}`, `{"flag":"x"}`},
		},
		{
			name: "or with a failing first clause",
			spec: filter.Specification{Condition: filter.Or, Expressions: []filter.Expression{
				{Key: "missing", Operator: filter.GT, Value: filter.Number(1)},
				{Key: "age", Operator: filter.GT, Value: filter.Number(18)},
			}},
			docs: []string{`{"age":20}`, `{"missing":5,"age":1}`, `{"missing":0,"age":20}`},
		},
		{
			name: "or stops before a failing clause",
			spec: filter.Specification{Condition: filter.Or, Expressions: []filter.Expression{
				{Key: "age", Operator: filter.GT, Value: filter.Number(18)},
				{Key: "missing", Operator: filter.GT, Value: filter.Number(1)},
			}},
			docs: []string{`{"age":20}`, `{"age":2}`},
		},
		{
			name: "and stops before a failing clause",
			spec: filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
				{Key: "age", Operator: filter.GT, Value: filter.Number(18)},
				{Key: "name", Operator: filter.EQ, Value: filter.String("bob")},
			}},
			docs: []string{`{"age":2,"name":7}`, `{"age":20,"name":7}`, `{"age":20,"name":"bob"}`},
		},
		{
			name: "array navigation",
			spec: filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
				{Key: "items.1.sku", Operator: filter.EQ, Value: filter.String("A")},
			}},
			docs: []string{`{"items":[{"sku":"B"},{"sku":"A"}]}`, `{"items":[{"sku":"A"}]}`, `{"items":"A"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			celCompiled, err := celEngine.Compile(tt.spec)
			require.NoError(t, err)
			nativeCompiled, err := native.Compile(tt.spec)
			require.NoError(t, err)

			for _, raw := range tt.docs {
				doc := decode(t, raw)
				want, wantErr := native.Evaluate(nativeCompiled, doc)
				got, gotErr := celEngine.Evaluate(celCompiled, doc)

				if wantErr != nil {
					assert.ErrorIs(t, gotErr, filter.ErrEvaluation, raw)
					assert.False(t, got, raw)

					var nativeErr, celErr *filter.EvaluationError
					require.ErrorAs(t, wantErr, &nativeErr)
					require.ErrorAs(t, gotErr, &celErr)
					assert.Equal(t, nativeErr.Clause, celErr.Clause, raw)
					continue
				}
				require.NoError(t, gotErr, raw)
				assert.Equal(t, want, got, raw)
			}
		})
	}
}
