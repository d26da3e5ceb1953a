package command

import (
	"context"

	"github.com/goliatone/go-connectors/core"

	gocmd "github.com/goliatone/go-command"
)

// Resolver is the part of core.Provider the commands depend on.
type Resolver interface {
	Resolve(ctx context.Context, cfg core.Configuration) core.Result[core.Instance]
	ResolveByName(ctx context.Context, name string) core.Result[core.Instance]
	ResolveByID(ctx context.Context, id string) core.Result[core.Instance]
}

func resolveTarget(ctx context.Context, resolver Resolver, target Target) (core.Instance, error) {
	switch {
	case target.Config != nil:
		return resolver.Resolve(ctx, target.Config).Unwrap()
	case target.ID != "":
		return resolver.ResolveByID(ctx, target.ID).Unwrap()
	default:
		return resolver.ResolveByName(ctx, target.Name).Unwrap()
	}
}

type ResolveCommand struct {
	resolver Resolver
}

func NewResolveCommand(resolver Resolver) *ResolveCommand {
	return &ResolveCommand{resolver: resolver}
}

// Execute stores the resolved core.Instance in the context result
// collector. Without a collector the instance is closed right away.
func (c *ResolveCommand) Execute(ctx context.Context, msg ResolveMessage) error {
	if c == nil || c.resolver == nil {
		return core.NewError(core.ErrorKindInternal, "command: resolver is required", nil)
	}
	instance, err := resolveTarget(ctx, c.resolver, msg.Target)
	if err != nil {
		return err
	}
	if !storeResult(ctx, instance) {
		return instance.Close(ctx)
	}
	return nil
}

type ExecuteCommand struct {
	resolver Resolver
}

func NewExecuteCommand(resolver Resolver) *ExecuteCommand {
	return &ExecuteCommand{resolver: resolver}
}

// Execute stores the command value (type any) in the result collector.
func (c *ExecuteCommand) Execute(ctx context.Context, msg ExecuteMessage) (err error) {
	if c == nil || c.resolver == nil {
		return core.NewError(core.ErrorKindInternal, "command: resolver is required", nil)
	}
	instance, err := resolveTarget(ctx, c.resolver, msg.Target)
	if err != nil {
		return err
	}
	defer closeInstance(ctx, instance, &err)

	value, err := instance.Execute(ctx, msg.Command).Unwrap()
	if err != nil {
		return err
	}
	storeResult(ctx, value)
	return nil
}

type ExecuteBatchCommand struct {
	resolver Resolver
}

func NewExecuteBatchCommand(resolver Resolver) *ExecuteBatchCommand {
	return &ExecuteBatchCommand{resolver: resolver}
}

// Execute stores the core.BatchReport in the result collector, also when
// the batch stops early.
func (c *ExecuteBatchCommand) Execute(ctx context.Context, msg ExecuteBatchMessage) (err error) {
	if c == nil || c.resolver == nil {
		return core.NewError(core.ErrorKindInternal, "command: resolver is required", nil)
	}
	instance, err := resolveTarget(ctx, c.resolver, msg.Target)
	if err != nil {
		return err
	}
	defer closeInstance(ctx, instance, &err)

	report, err := instance.ExecuteBatch(ctx, msg.Commands).Unwrap()
	if err != nil {
		if partial, ok := core.BatchReportFrom(err); ok {
			storeResult(ctx, partial)
		}
		return err
	}
	storeResult(ctx, report)
	return nil
}

func closeInstance(ctx context.Context, instance core.Instance, err *error) {
	closeErr := instance.Close(context.WithoutCancel(ctx))
	if *err == nil {
		*err = closeErr
	}
}

func storeResult[T any](ctx context.Context, value T) bool {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return false
	}
	collector.Store(value)
	return true
}
