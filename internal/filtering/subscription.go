package filtering

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamfilter/internal/config"
	"streamfilter/internal/logger"
	"streamfilter/pkg/codec"
	apperrors "streamfilter/pkg/errors"
	"streamfilter/pkg/filter"
	"streamfilter/pkg/metrics"
)

// Subscription binds a compiled filter to a source and a sink. The compiled
// filter is built once in Subscribe and never changes afterwards.
type Subscription struct {
	ID        uuid.UUID
	Name      string
	Source    config.SourceConfig
	Sink      config.SinkConfig
	Spec      filter.Specification
	Filter    filter.Compiled
	CreatedAt time.Time

	pipeline *Pipeline
}

// Handle runs raw through the subscription's pipeline and calls deliver once.
func (s *Subscription) Handle(ctx context.Context, raw string, deliver func(string)) Outcome {
	return s.pipeline.ProcessContext(ctx, raw, s.Filter, deliver)
}

func (s *Subscription) Decide(ctx context.Context, raw string) Result {
	return s.pipeline.DecideContext(ctx, raw, s.Filter)
}

// Expression returns the filter in the form the engine evaluates.
func (s *Subscription) Expression() string {
	return Describe(s.Filter)
}

// Describe renders a compiled filter for humans: the engine expression when
// the engine has one, the native textual form otherwise.
func Describe(f filter.Compiled) string {
	if f == nil {
		return ""
	}
	if e, ok := f.(interface{ Expression() string }); ok {
		return e.Expression()
	}
	return f.Program().String()
}

type SubscribeRequest struct {
	Name   string
	Source config.SourceConfig
	Sink   config.SinkConfig
	Spec   filter.Specification
}

// Registry holds the live subscriptions of the service.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	engine filter.Engine
	codec  *codec.PayloadCodec
	logger logger.Logger
}

func NewRegistry(engine filter.Engine, c *codec.PayloadCodec, log logger.Logger) *Registry {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Registry{
		subs:   make(map[string]*Subscription),
		engine: engine,
		codec:  c,
		logger: log,
	}
}

func (r *Registry) Engine() filter.Engine { return r.engine }

func (r *Registry) Codec() *codec.PayloadCodec { return r.codec }

// Compile compiles spec with the registry's engine and maps compile errors
// to INVALID_FILTER application errors.
func (r *Registry) Compile(spec filter.Specification) (filter.Compiled, error) {
	compiled, err := r.engine.Compile(spec)
	if err != nil {
		metrics.IncFilteringCompileError(r.engine.Name())
		return nil, InvalidFilterError(err)
	}
	return compiled, nil
}

// Subscribe compiles the request's filter and registers the subscription.
// An invalid filter is rejected before anything is registered.
func (r *Registry) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.ErrValidation.WithDetail("message", "subscription name is required")
	}

	compiled, err := r.Compile(req.Spec)
	if err != nil {
		r.logger.WarnwCtx(ctx, "Rejected subscription filter",
			"subscription", name,
			"error", err,
		)
		return nil, err
	}

	sub := &Subscription{
		ID:        uuid.New(),
		Name:      name,
		Source:    req.Source,
		Sink:      req.Sink,
		Spec:      req.Spec,
		Filter:    compiled,
		CreatedAt: time.Now().UTC(),
		pipeline:  NewPipeline(name, r.engine, r.codec, r.logger),
	}

	r.mu.Lock()
	if _, exists := r.subs[name]; exists {
		r.mu.Unlock()
		return nil, apperrors.ErrConflict.WithDetail("message", fmt.Sprintf("subscription %q already exists", name))
	}
	r.subs[name] = sub
	count := len(r.subs)
	r.mu.Unlock()

	metrics.SetFilteringActiveSubscriptions(count)
	r.logger.InfowCtx(ctx, "Subscription registered",
		"subscription", name,
		"subscription_id", sub.ID.String(),
		"engine", r.engine.Name(),
		"pass_through", compiled.Program().IsPassThrough(),
		"expression", sub.Expression(),
	)

	return sub, nil
}

func (r *Registry) Get(name string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[name]
	if !ok {
		return nil, apperrors.ErrNotFound.WithDetail("message", fmt.Sprintf("subscription %q not found", name))
	}
	return sub, nil
}

// List returns the subscriptions ordered by name.
func (r *Registry) List() []*Subscription {
	r.mu.RLock()
	out := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Unsubscribe(ctx context.Context, name string) error {
	r.mu.Lock()
	if _, ok := r.subs[name]; !ok {
		r.mu.Unlock()
		return apperrors.ErrNotFound.WithDetail("message", fmt.Sprintf("subscription %q not found", name))
	}
	delete(r.subs, name)
	count := len(r.subs)
	r.mu.Unlock()

	metrics.SetFilteringActiveSubscriptions(count)
	r.logger.InfowCtx(ctx, "Subscription removed", "subscription", name)
	return nil
}

// InvalidFilterError wraps a compile error, listing every offending clause in
// the details.
func InvalidFilterError(err error) *apperrors.Error {
	clauses := filter.CompileErrors(err)
	details := make([]map[string]interface{}, 0, len(clauses))
	for _, ce := range clauses {
		details = append(details, map[string]interface{}{
			"index":   ce.Index,
			"field":   ce.Field,
			"message": ce.Message,
		})
	}
	return apperrors.Wrap(err, apperrors.ErrInvalidFilter.WithDetail("clauses", details))
}
