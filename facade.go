package connectors

import (
	"fmt"

	connectorcmd "github.com/goliatone/go-connectors/command"
	"github.com/goliatone/go-connectors/query"
)

// CommandQueryProvider is what the facade handlers need. *Provider
// satisfies it.
type CommandQueryProvider interface {
	connectorcmd.Resolver
	query.DescriptorLister
}

type Commands struct {
	Resolve      *connectorcmd.ResolveCommand
	Execute      *connectorcmd.ExecuteCommand
	ExecuteBatch *connectorcmd.ExecuteBatchCommand
}

type Queries struct {
	ListDescriptors *query.ListDescriptorsQuery
	Fetch           *query.FetchQuery
}

type Facade struct {
	provider CommandQueryProvider
	commands Commands
	queries  Queries
}

func NewFacade(provider CommandQueryProvider) (*Facade, error) {
	if provider == nil {
		return nil, fmt.Errorf("connectors: provider is required")
	}
	return &Facade{
		provider: provider,
		commands: Commands{
			Resolve:      connectorcmd.NewResolveCommand(provider),
			Execute:      connectorcmd.NewExecuteCommand(provider),
			ExecuteBatch: connectorcmd.NewExecuteBatchCommand(provider),
		},
		queries: Queries{
			ListDescriptors: query.NewListDescriptorsQuery(provider),
			Fetch:           query.NewFetchQuery(provider),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Provider() CommandQueryProvider {
	if f == nil {
		return nil
	}
	return f.provider
}

var _ CommandQueryProvider = (*Provider)(nil)
