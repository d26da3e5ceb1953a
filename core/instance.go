package core

import (
	"context"
	"strings"
)

// InstanceState is the lifecycle state of a resolved instance.
type InstanceState string

const (
	InstanceStateCreated InstanceState = "created"
	InstanceStateReady   InstanceState = "ready"
	InstanceStateClosed  InstanceState = "closed"
)

// Instance is a live implementation built by a Factory. An instance is owned
// by the caller that resolved it and serves one logical caller at a time.
type Instance interface {
	ID() string
	TypeName() string
	State() InstanceState
	Open(ctx context.Context) error
	Execute(ctx context.Context, cmd Command) Result[any]
	ExecuteBatch(ctx context.Context, cmds []Command) Result[BatchReport]
	Close(ctx context.Context) error
	Supports(kind string) bool
}

// ExecuteAs executes cmd and converts the value to T.
func ExecuteAs[T any](ctx context.Context, instance Instance, cmd Command) Result[T] {
	if instance == nil {
		return Failure[T](NewError(ErrorKindValidation, "core: instance is required", cmd.errorMetadata()))
	}
	return ResultAs[T](instance.Execute(ctx, cmd))
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
