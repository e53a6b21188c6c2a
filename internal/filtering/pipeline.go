package filtering

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"streamfilter/internal/logger"
	"streamfilter/pkg/codec"
	apperrors "streamfilter/pkg/errors"
	"streamfilter/pkg/filter"
	"streamfilter/pkg/logging"
	"streamfilter/pkg/metrics"
	"streamfilter/pkg/tracing"
)

const tracerName = "stream-filter"

type Outcome string

const (
	OutcomePassThrough      Outcome = "passthrough"
	OutcomeMatched          Outcome = "matched"
	OutcomeRedacted         Outcome = "redacted"
	OutcomeDecodeFailed     Outcome = "decode_failed"
	OutcomeEvaluationFailed Outcome = "evaluation_failed"
	OutcomeRedactFailed     Outcome = "redact_failed"
	OutcomeDuplicatePayload Outcome = "duplicate_payload"
)

// Delivered reports whether the message went out with its original payload.
func (o Outcome) Delivered() bool {
	switch o {
	case OutcomePassThrough, OutcomeMatched, OutcomeDecodeFailed, OutcomeRedactFailed:
		return true
	}
	return false
}

type Result struct {
	Output  string
	Outcome Outcome
	Err     error
}

// Pipeline decides, per message, whether the subscriber sees the original
// payload or the redacted one. Decode failures fail open, evaluation
// failures and envelopes with a repeated payload field fail closed.
type Pipeline struct {
	name   string
	engine filter.Engine
	codec  *codec.PayloadCodec
	logger logger.Logger
}

func NewPipeline(name string, engine filter.Engine, c *codec.PayloadCodec, log logger.Logger) *Pipeline {
	if c == nil {
		c = codec.New(nil)
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &Pipeline{
		name:   name,
		engine: engine,
		codec:  c,
		logger: log,
	}
}

func (p *Pipeline) Name() string { return p.name }

func (p *Pipeline) Engine() filter.Engine { return p.engine }

func (p *Pipeline) Codec() *codec.PayloadCodec { return p.codec }

// Process runs the decision for raw and calls deliver exactly once with the
// resulting message.
func (p *Pipeline) Process(raw string, f filter.Compiled, deliver func(string)) {
	p.ProcessContext(context.Background(), raw, f, deliver)
}

func (p *Pipeline) ProcessContext(ctx context.Context, raw string, f filter.Compiled, deliver func(string)) Outcome {
	res := p.DecideContext(ctx, raw, f)
	deliver(res.Output)
	return res.Outcome
}

func (p *Pipeline) Decide(raw string, f filter.Compiled) Result {
	return p.DecideContext(context.Background(), raw, f)
}

func (p *Pipeline) DecideContext(ctx context.Context, raw string, f filter.Compiled) (res Result) {
	ctx = logging.WithSubscription(ctx, p.name)
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "filtering.decide")
	defer span.End()

	start := time.Now()
	defer func() {
		span.SetAttributes(
			attribute.String("subscription", p.name),
			attribute.String("filtering.engine", p.engine.Name()),
			attribute.String("outcome", string(res.Outcome)),
		)
		p.record(ctx, res, time.Since(start))
	}()

	if f == nil || f.Program().IsPassThrough() {
		return Result{Output: raw, Outcome: OutcomePassThrough}
	}

	doc, env, err := p.decode([]byte(raw))
	if errors.Is(err, codec.ErrDuplicatePayload) {
		return p.redact(raw, env, OutcomeDuplicatePayload, err)
	}
	if err != nil {
		return Result{Output: raw, Outcome: OutcomeDecodeFailed, Err: err}
	}

	matched, err := p.evaluate(f, doc)
	if err != nil {
		return p.redact(raw, env, OutcomeEvaluationFailed, err)
	}
	if matched {
		return Result{Output: raw, Outcome: OutcomeMatched}
	}
	return p.redact(raw, env, OutcomeRedacted, nil)
}

func (p *Pipeline) decode(raw []byte) (doc interface{}, env codec.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = &codec.DecodeError{Stage: "panic", Cause: apperrors.RecoverPanic(r)}
		}
	}()
	return p.codec.Decode(raw)
}

func (p *Pipeline) evaluate(f filter.Compiled, doc interface{}) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = &filter.EvaluationError{Clause: -1, Message: "evaluator panicked", Cause: apperrors.RecoverPanic(r)}
		}
	}()
	return p.engine.Evaluate(f, doc)
}

func (p *Pipeline) redact(raw string, env codec.Envelope, outcome Outcome, cause error) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Output: raw, Outcome: OutcomeRedactFailed, Err: apperrors.RecoverPanic(r)}
		}
	}()

	out, err := env.WithPayload(p.codec.Redact())
	if err != nil {
		return Result{Output: raw, Outcome: OutcomeRedactFailed, Err: err}
	}
	return Result{Output: string(out), Outcome: outcome, Err: cause}
}

func (p *Pipeline) record(ctx context.Context, res Result, elapsed time.Duration) {
	metrics.IncFilteringOutcome(p.name, string(res.Outcome))
	metrics.ObserveFilteringDuration(elapsed, string(res.Outcome))

	switch res.Outcome {
	case OutcomeDecodeFailed:
		p.logger.DebugwCtx(ctx, "Payload could not be decoded, delivering original",
			"error", res.Err,
		)
	case OutcomeDuplicatePayload:
		p.logger.WarnwCtx(ctx, "Envelope repeats the payload field, delivering redacted payload",
			"error", res.Err,
		)
	case OutcomeEvaluationFailed:
		p.logger.WarnwCtx(ctx, "Filter evaluation failed, delivering redacted payload",
			"error", res.Err,
		)
	case OutcomeRedactFailed:
		p.logger.ErrorwCtx(ctx, "Failed to redact payload, delivering original",
			"error", res.Err,
		)
	}
}
