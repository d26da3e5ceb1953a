package core

import (
	"context"
	"time"
)

// observedInstance decorates resolved instances with the provider's logging,
// metrics and tracing, and applies the default command timeout.
type observedInstance struct {
	Instance
	provider *Provider
}

// Unwrapper is implemented by instance decorators.
type Unwrapper interface {
	Unwrap() Instance
}

func (p *Provider) observe(instance Instance) Instance {
	if _, already := instance.(*observedInstance); already {
		return instance
	}
	return &observedInstance{Instance: instance, provider: p}
}

func (o *observedInstance) Unwrap() Instance {
	return o.Instance
}

func (o *observedInstance) Execute(ctx context.Context, cmd Command) Result[any] {
	startedAt := time.Now()
	fields := o.fields(cmd)
	ctx, span := o.provider.startSpan(orBackground(ctx), "execute", fields)
	result := o.Instance.Execute(ctx, o.withDefaults(cmd))
	o.provider.observeOperation(ctx, span, startedAt, "execute", result.Err(), fields)
	return result
}

func (o *observedInstance) ExecuteBatch(ctx context.Context, cmds []Command) Result[BatchReport] {
	startedAt := time.Now()
	fields := map[string]any{
		"type_name":   o.TypeName(),
		"instance_id": o.ID(),
		"batch_size":  len(cmds),
	}
	ctx, span := o.provider.startSpan(orBackground(ctx), "execute_batch", fields)
	prepared := make([]Command, len(cmds))
	for i, cmd := range cmds {
		prepared[i] = o.withDefaults(cmd)
	}
	result := o.Instance.ExecuteBatch(ctx, prepared)
	if err := result.Err(); err != nil {
		if index, ok := BatchIndexFrom(err); ok {
			fields["batch_index"] = index
		}
	}
	o.provider.observeOperation(ctx, span, startedAt, "execute_batch", result.Err(), fields)
	return result
}

func (o *observedInstance) withDefaults(cmd Command) Command {
	if cmd.Timeout() > 0 {
		return cmd
	}
	if timeout := o.provider.config.DefaultCommandTimeout(); timeout > 0 {
		return cmd.WithTimeout(timeout)
	}
	return cmd
}

func (o *observedInstance) fields(cmd Command) map[string]any {
	return map[string]any{
		"type_name":      o.TypeName(),
		"instance_id":    o.ID(),
		"command_kind":   cmd.Kind(),
		"command_target": cmd.Target(),
	}
}

// UnwrapInstance strips decorators added during resolution.
func UnwrapInstance(instance Instance) Instance {
	for {
		wrapped, ok := instance.(Unwrapper)
		if !ok {
			return instance
		}
		inner := wrapped.Unwrap()
		if inner == nil {
			return instance
		}
		instance = inner
	}
}

// InstanceAs returns the concrete implementation behind instance.
func InstanceAs[T any](instance Instance) (T, bool) {
	typed, ok := UnwrapInstance(instance).(T)
	return typed, ok
}
