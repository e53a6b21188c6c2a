package filtering

import (
	"context"
	"fmt"

	"streamfilter/internal/config"
	"streamfilter/internal/constants"
	"streamfilter/pkg/cel"
	apperrors "streamfilter/pkg/errors"
	"streamfilter/pkg/filter"
)

// NewEngine returns the evaluator named by filtering.engine. An empty name
// selects the native engine.
func NewEngine(name string) (filter.Engine, error) {
	switch name {
	case "", constants.EngineNative:
		return filter.NewNativeEngine(), nil
	case constants.EngineCEL:
		return cel.NewEngine()
	default:
		return nil, fmt.Errorf("unknown filtering engine: %s", name)
	}
}

// SubscribeConfig registers a subscription declared in the config file.
func (r *Registry) SubscribeConfig(ctx context.Context, sc config.SubscriptionConfig) (*Subscription, error) {
	spec, err := filter.DecodeSpecification(sc.Filter)
	if err != nil {
		return nil, apperrors.ErrInvalidFilter.
			WithCause(err).
			WithDetail("message", fmt.Sprintf("subscription %q: %v", sc.Name, err))
	}

	return r.Subscribe(ctx, SubscribeRequest{
		Name:   sc.Name,
		Source: sc.Source,
		Sink:   sc.Sink,
		Spec:   spec,
	})
}
