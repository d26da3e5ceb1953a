package devkit

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/transport"
)

func ValidateTransportAdapterConformance(ctx context.Context, adapter transport.Adapter, request transport.Request) error {
	if adapter == nil {
		return fmt.Errorf("devkit: transport adapter is required")
	}
	if strings.TrimSpace(adapter.Kind()) == "" {
		return fmt.Errorf("devkit: transport adapter kind is required")
	}
	_, err := adapter.Do(ctx, request)
	return err
}

// ValidateInstanceLifecycle walks a fresh instance through the lifecycle:
// it must start Created, run the smoke command, report Ready, close
// idempotently and reject commands once Closed.
func ValidateInstanceLifecycle(ctx context.Context, instance core.Instance, smoke core.Command) error {
	if instance == nil {
		return fmt.Errorf("devkit: instance is required")
	}
	if strings.TrimSpace(instance.ID()) == "" {
		return fmt.Errorf("devkit: instance id is required")
	}
	if state := instance.State(); state != core.InstanceStateCreated {
		return fmt.Errorf("devkit: expected created state, got %q", state)
	}
	if !instance.Supports(smoke.Kind()) {
		return fmt.Errorf("devkit: instance does not support smoke kind %q", smoke.Kind())
	}
	if instance.Supports("devkit.unsupported") {
		return fmt.Errorf("devkit: instance claims support for an unknown kind")
	}
	if err := instance.Execute(ctx, smoke).Err(); err != nil {
		return fmt.Errorf("devkit: smoke command failed: %w", err)
	}
	if state := instance.State(); state != core.InstanceStateReady {
		return fmt.Errorf("devkit: expected ready state after smoke, got %q", state)
	}
	unsupported := instance.Execute(ctx, core.NewCommand("devkit.unsupported", "x")).Err()
	if !core.IsKind(unsupported, core.ErrorKindUnsupportedOperation) {
		return fmt.Errorf("devkit: expected unsupported operation, got %v", unsupported)
	}
	if err := instance.Close(ctx); err != nil {
		return fmt.Errorf("devkit: close failed: %w", err)
	}
	if err := instance.Close(ctx); err != nil {
		return fmt.Errorf("devkit: second close failed: %w", err)
	}
	if err := instance.Execute(ctx, smoke).Err(); !core.IsKind(err, core.ErrorKindInvalidState) {
		return fmt.Errorf("devkit: expected invalid state after close, got %v", err)
	}
	return nil
}

// ValidateFactoryRejects checks that factory refuses cfg with a validation
// error and hands back no instance.
func ValidateFactoryRejects(ctx context.Context, factory core.Factory, cfg core.Configuration) error {
	if factory == nil {
		return fmt.Errorf("devkit: factory is required")
	}
	result := factory.Create(ctx, cfg)
	if result.Ok() {
		if instance, _ := result.Unwrap(); instance != nil {
			_ = instance.Close(ctx)
		}
		return fmt.Errorf("devkit: expected factory to reject %T", cfg)
	}
	if kind := core.KindOf(result.Err()); kind != core.ErrorKindValidation {
		return fmt.Errorf("devkit: expected validation error, got %s: %v", kind, result.Err())
	}
	return nil
}
