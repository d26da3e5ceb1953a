// Package gocommand exposes a core.Provider on the go-command dispatcher.
package gocommand

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	connectorcmd "github.com/goliatone/go-connectors/command"
	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/query"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// ValidateMessageContract checks that msg has a non-empty Type() and passes
// its own Validate, when it has one.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) register(handler any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(handler)
}

// AddQueueResolver mirrors registered commanders into a go-job queue
// registry so connector commands can also run from a worker. Queriers stay
// dispatcher-only.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), commandersOnly(jobqueuecommand.QueueResolver(queueRegistry)))
}

func commandersOnly(next command.Resolver) command.Resolver {
	return func(cmd any, meta command.CommandMeta, r *command.Registry) error {
		if !isCommander(cmd) {
			return nil
		}
		return next(cmd, meta, r)
	}
}

func isCommander(handler any) bool {
	if handler == nil {
		return false
	}
	_, ok := reflect.TypeOf(handler).MethodByName("Execute")
	return ok
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

// Subscriptions are the dispatcher subscriptions taken by RegisterProvider.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, subscription := range s {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

// RegisterProvider registers the connector commands and queries backed by
// provider and subscribes them on the global dispatcher. On error nothing
// stays subscribed.
func RegisterProvider(adapter *RegistryAdapter, provider *core.Provider, runnerOpts ...runner.Option) (Subscriptions, error) {
	if provider == nil {
		return nil, fmt.Errorf("gocommand: provider is required")
	}
	subs := Subscriptions{}
	steps := []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) {
			return registerCommand[connectorcmd.ResolveMessage](adapter, connectorcmd.NewResolveCommand(provider), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerCommand[connectorcmd.ExecuteMessage](adapter, connectorcmd.NewExecuteCommand(provider), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerCommand[connectorcmd.ExecuteBatchMessage](adapter, connectorcmd.NewExecuteBatchCommand(provider), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerQuery[query.ListDescriptorsMessage, []core.Descriptor](adapter, query.NewListDescriptorsQuery(provider), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerQuery[query.FetchMessage, any](adapter, query.NewFetchQuery(provider), runnerOpts...)
		},
	}
	for _, step := range steps {
		subscription, err := step()
		if err != nil {
			subs.Unsubscribe()
			return nil, err
		}
		subs = append(subs, subscription)
	}
	return subs, nil
}

func registerCommand[T any](adapter *RegistryAdapter, cmd command.Commander[T], runnerOpts ...runner.Option) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.register(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func registerQuery[T any, R any](adapter *RegistryAdapter, qry command.Querier[T, R], runnerOpts ...runner.Option) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.register(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Execute dispatches msg and returns the value the handler stored.
func Execute(ctx context.Context, msg connectorcmd.ExecuteMessage) (any, error) {
	return dispatchWithResult[connectorcmd.ExecuteMessage, any](ctx, msg)
}

// ExecuteBatch dispatches msg and returns the batch report. The report is
// filled in up to the failing command when err is not nil.
func ExecuteBatch(ctx context.Context, msg connectorcmd.ExecuteBatchMessage) (core.BatchReport, error) {
	return dispatchWithResult[connectorcmd.ExecuteBatchMessage, core.BatchReport](ctx, msg)
}

// Resolve dispatches msg and returns the instance. The caller closes it.
func Resolve(ctx context.Context, msg connectorcmd.ResolveMessage) (core.Instance, error) {
	return dispatchWithResult[connectorcmd.ResolveMessage, core.Instance](ctx, msg)
}

func Fetch(ctx context.Context, msg query.FetchMessage) (any, error) {
	return commanddispatcher.Query[query.FetchMessage, any](ctx, msg)
}

func ListDescriptors(ctx context.Context, msg query.ListDescriptorsMessage) ([]core.Descriptor, error) {
	return commanddispatcher.Query[query.ListDescriptorsMessage, []core.Descriptor](ctx, msg)
}

func dispatchWithResult[T any, R any](ctx context.Context, msg T) (R, error) {
	collector := command.NewResult[R]()
	err := commanddispatcher.Dispatch(command.ContextWithResult(ctx, collector), msg)
	value, _ := collector.Load()
	return value, err
}
