package filtering

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamfilter/internal/logger"
	"streamfilter/pkg/cel"
	"streamfilter/pkg/codec"
	"streamfilter/pkg/filter"
	"streamfilter/pkg/metrics"
)

func encode(doc string) string {
	return base64.StdEncoding.EncodeToString([]byte(doc))
}

func envelope(payload string) string {
	return `{"messageId":"m-1","publishTime":1700000000,"payload":"` + payload + `","properties":{"tenant":"acme"}}`
}

func engines(t *testing.T) []filter.Engine {
	t.Helper()
	celEngine, err := cel.NewEngine()
	require.NoError(t, err)
	return []filter.Engine{filter.NewNativeEngine(), celEngine}
}

func ageOver18() filter.Specification {
	return filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
		{Key: "age", Operator: filter.GT, Value: filter.Number(18)},
	}}
}

// process runs the pipeline and asserts deliver fired exactly once.
func process(t *testing.T, p *Pipeline, raw string, f filter.Compiled) string {
	t.Helper()
	calls := 0
	var out string
	p.Process(raw, f, func(s string) {
		calls++
		out = s
	})
	require.Equal(t, 1, calls, "deliver must be called exactly once")
	return out
}

func payloadOf(t *testing.T, raw string) interface{} {
	t.Helper()
	doc, _, err := codec.New(nil).Decode([]byte(raw))
	require.NoError(t, err)
	return doc
}

func TestPipeline_Scenarios(t *testing.T) {
	for _, engine := range engines(t) {
		t.Run(engine.Name(), func(t *testing.T) {
			p := NewPipeline("scenarios-"+engine.Name(), engine, codec.New(nil), logger.NopLogger())

			adults, err := engine.Compile(ageOver18())
			require.NoError(t, err)

			t.Run("A match delivers original", func(t *testing.T) {
				raw := envelope(encode(`{"age":20}`))
				out := process(t, p, raw, adults)
				assert.Equal(t, raw, out)
				assert.Equal(t, map[string]interface{}{"age": 20.0}, payloadOf(t, out))
			})

			t.Run("B no match delivers redacted", func(t *testing.T) {
				raw := envelope(encode(`{"age":10}`))
				out := process(t, p, raw, adults)
				assert.Equal(t, envelope("e30="), out)
				assert.Equal(t, map[string]interface{}{}, payloadOf(t, out))
			})

			t.Run("C empty filter is pass-through", func(t *testing.T) {
				disabled, err := engine.Compile(filter.Specification{})
				require.NoError(t, err)

				for _, raw := range []string{
					envelope(encode(`{"age":10}`)),
					envelope("!!not base64!!"),
					"not even json",
				} {
					assert.Equal(t, raw, process(t, p, raw, disabled))
				}
			})

			t.Run("D undecodable payload delivers original", func(t *testing.T) {
				for _, raw := range []string{
					envelope("!!not base64!!"),
					envelope(encode(`{"age":`)),
					`{"messageId":"no payload"}`,
					`[1,2,3]`,
				} {
					assert.Equal(t, raw, process(t, p, raw, adults))
				}
			})

			t.Run("E nested key", func(t *testing.T) {
				nested, err := engine.Compile(filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
					{Key: "user.age", Operator: filter.GT, Value: filter.Number(18)},
				}})
				require.NoError(t, err)

				raw := envelope(encode(`{"user":{"age":30}}`))
				assert.Equal(t, raw, process(t, p, raw, nested))
			})

			t.Run("G wrong type or missing path delivers redacted", func(t *testing.T) {
				tests := []struct {
					spec filter.Specification
					doc  string
				}{
					{
						spec: filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
							{Key: "age", Operator: filter.NE, Value: filter.Number(18)},
						}},
						doc: `{"age":"twenty"}`,
					},
					{
						spec: filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
							{Key: "flag", Operator: filter.NE, Value: filter.String("x")},
						}},
						doc: `{"flag":true}`,
					},
					{
						spec: filter.Specification{Condition: filter.Or, Expressions: []filter.Expression{
							{Key: "missing", Operator: filter.GT, Value: filter.Number(1)},
							{Key: "age", Operator: filter.GT, Value: filter.Number(18)},
						}},
						doc: `{"age":20}`,
					},
				}

				for _, tt := range tests {
					compiled, err := engine.Compile(tt.spec)
					require.NoError(t, err)

					raw := envelope(encode(tt.doc))
					res := p.Decide(raw, compiled)
					assert.Equal(t, OutcomeEvaluationFailed, res.Outcome, tt.doc)
					assert.Equal(t, envelope("e30="), res.Output, tt.doc)
				}
			})

			t.Run("H repeated payload field delivers redacted", func(t *testing.T) {
				over100, err := engine.Compile(filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
					{Key: "n", Operator: filter.GT, Value: filter.Number(100)},
				}})
				require.NoError(t, err)

				raw := `{"payload":"eyJuIjoyMDB9","payload":"eyJuIjoxfQ=="}`
				res := p.Decide(raw, over100)
				assert.Equal(t, OutcomeDuplicatePayload, res.Outcome)
				assert.ErrorIs(t, res.Err, codec.ErrDuplicatePayload)
				assert.False(t, res.Outcome.Delivered())

				out := process(t, p, raw, over100)
				assert.Equal(t, `{"payload":"e30="}`, out)
				assert.NotContains(t, out, "eyJuIjoyMDB9")
				assert.NotContains(t, out, "eyJuIjoxfQ==")
			})

			t.Run("F unknown operator rejected at compile time", func(t *testing.T) {
				_, err := engine.Compile(filter.Specification{Condition: filter.And, Expressions: []filter.Expression{
					{Key: "age", Operator: "LIKE", Value: filter.Number(18)},
				}})
				require.Error(t, err)
				assert.ErrorIs(t, err, filter.ErrCompile)
			})
		})
	}
}

func TestPipeline_Decide(t *testing.T) {
	engine := filter.NewNativeEngine()
	p := NewPipeline("decide", engine, codec.New(nil), logger.NopLogger())

	adults, err := engine.Compile(ageOver18())
	require.NoError(t, err)

	tests := []struct {
		name    string
		f       filter.Compiled
		raw     string
		outcome Outcome
		errIs   error
	}{
		{"pass-through", filter.PassThrough, envelope(encode(`{}`)), OutcomePassThrough, nil},
		{"nil filter", nil, envelope(encode(`{}`)), OutcomePassThrough, nil},
		{"matched", adults, envelope(encode(`{"age":40}`)), OutcomeMatched, nil},
		{"redacted", adults, envelope(encode(`{"age":4}`)), OutcomeRedacted, nil},
		{"decode failed", adults, envelope("%%%"), OutcomeDecodeFailed, codec.ErrDecode},
		{"missing key", adults, envelope(encode(`{"height":4}`)), OutcomeEvaluationFailed, filter.ErrEvaluation},
		{"kind mismatch", adults, envelope(encode(`{"age":"old"}`)), OutcomeEvaluationFailed, filter.ErrEvaluation},
		{"non-object document", adults, envelope(encode(`[1]`)), OutcomeEvaluationFailed, filter.ErrEvaluation},
		{"repeated payload field", adults, `{"payload":"` + encode(`{"age":40}`) + `","id":2,"payload":"` + encode(`{"age":1}`) + `"}`, OutcomeDuplicatePayload, codec.ErrDuplicatePayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Decide(tt.raw, tt.f)
			assert.Equal(t, tt.outcome, res.Outcome)
			if tt.errIs != nil {
				assert.ErrorIs(t, res.Err, tt.errIs)
			} else {
				assert.NoError(t, res.Err)
			}

			if tt.outcome.Delivered() {
				assert.Equal(t, tt.raw, res.Output)
			} else {
				assert.Equal(t, map[string]interface{}{}, payloadOf(t, res.Output))
			}
		})
	}
}

func TestPipeline_RedactionPreservesEnvelope(t *testing.T) {
	engine := filter.NewNativeEngine()
	p := NewPipeline("preserve", engine, codec.New(nil), logger.NopLogger())
	adults, err := engine.Compile(ageOver18())
	require.NoError(t, err)

	payload := encode(`{"age":3,"secret":"s3cr3t"}`)
	raw := "{\n  \"z\": [3, 2, 1],\n  \"payload\" : \"" + payload + "\",\n  \"a\": {\"n\": 1.50}\n}"

	out := process(t, p, raw, adults)
	assert.Equal(t, strings.Replace(raw, payload, "e30=", 1), out)
	assert.NotContains(t, out, payload)
}

func TestPipeline_RawEncoding(t *testing.T) {
	engine := filter.NewNativeEngine()
	p := NewPipeline("raw-encoding", engine, codec.New(codec.Raw{}), logger.NopLogger())
	adults, err := engine.Compile(ageOver18())
	require.NoError(t, err)

	raw := `{"payload":"{\"age\":5}"}`
	assert.Equal(t, `{"payload":"{}"}`, process(t, p, raw, adults))

	raw = `{"payload":"{\"age\":50}"}`
	assert.Equal(t, raw, process(t, p, raw, adults))
}

type panickingEngine struct{ filter.NativeEngine }

func (panickingEngine) Evaluate(filter.Compiled, interface{}) (bool, error) {
	panic("boom")
}

func TestPipeline_PanicDuringEvaluationRedacts(t *testing.T) {
	engine := panickingEngine{}
	p := NewPipeline("panic", engine, codec.New(nil), logger.NopLogger())
	adults, err := engine.Compile(ageOver18())
	require.NoError(t, err)

	raw := envelope(encode(`{"age":40}`))
	res := p.Decide(raw, adults)
	assert.Equal(t, OutcomeEvaluationFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, filter.ErrEvaluation)
	assert.Equal(t, envelope("e30="), process(t, p, raw, adults))
}

func TestPipeline_RecordsOutcomeMetrics(t *testing.T) {
	engine := filter.NewNativeEngine()
	p := NewPipeline("metrics-sub", engine, codec.New(nil), logger.NopLogger())
	adults, err := engine.Compile(ageOver18())
	require.NoError(t, err)

	process(t, p, envelope(encode(`{"age":40}`)), adults)
	process(t, p, envelope(encode(`{"age":1}`)), adults)
	process(t, p, envelope(encode(`{"age":2}`)), adults)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FilteringMessagesTotal.WithLabelValues("metrics-sub", string(OutcomeMatched))))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.FilteringMessagesTotal.WithLabelValues("metrics-sub", string(OutcomeRedacted))))
}

func TestPipeline_ConcurrentProcess(t *testing.T) {
	engine := filter.NewNativeEngine()
	p := NewPipeline("concurrent", engine, codec.New(nil), logger.NopLogger())
	adults, err := engine.Compile(ageOver18())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(age int) {
			defer wg.Done()
			raw := envelope(encode(fmt.Sprintf(`{"age":%d}`, age)))
			res := p.Decide(raw, adults)
			if age > 18 {
				assert.Equal(t, OutcomeMatched, res.Outcome)
			} else {
				assert.Equal(t, OutcomeRedacted, res.Outcome)
			}
		}(i)
	}
	wg.Wait()
}
