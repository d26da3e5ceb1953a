package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-connectors/core"
)

type DescriptorLister interface {
	Descriptors() []core.Descriptor
}

type InstanceResolver interface {
	ResolveByName(ctx context.Context, name string) core.Result[core.Instance]
	ResolveByID(ctx context.Context, id string) core.Result[core.Instance]
}

type ListDescriptorsQuery struct {
	lister DescriptorLister
}

func NewListDescriptorsQuery(lister DescriptorLister) *ListDescriptorsQuery {
	return &ListDescriptorsQuery{lister: lister}
}

func (q *ListDescriptorsQuery) Query(_ context.Context, msg ListDescriptorsMessage) ([]core.Descriptor, error) {
	if q == nil || q.lister == nil {
		return nil, core.NewError(core.ErrorKindInternal, "query: descriptor lister is required", nil)
	}
	all := q.lister.Descriptors()
	capability := strings.TrimSpace(msg.Capability)
	if capability == "" {
		return all, nil
	}
	out := make([]core.Descriptor, 0, len(all))
	for _, descriptor := range all {
		if strings.EqualFold(descriptor.Capability, capability) {
			out = append(out, descriptor)
		}
	}
	return out, nil
}

type FetchQuery struct {
	resolver InstanceResolver
}

func NewFetchQuery(resolver InstanceResolver) *FetchQuery {
	return &FetchQuery{resolver: resolver}
}

// Query resolves a fresh instance, runs the command and closes the instance
// before returning.
func (q *FetchQuery) Query(ctx context.Context, msg FetchMessage) (value any, err error) {
	if q == nil || q.resolver == nil {
		return nil, core.NewError(core.ErrorKindInternal, "query: instance resolver is required", nil)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	var resolved core.Result[core.Instance]
	if id := strings.TrimSpace(msg.ID); id != "" {
		resolved = q.resolver.ResolveByID(ctx, id)
	} else {
		resolved = q.resolver.ResolveByName(ctx, strings.TrimSpace(msg.Name))
	}
	instance, err := resolved.Unwrap()
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := instance.Close(context.WithoutCancel(ctx)); err == nil {
			err = closeErr
		}
	}()
	return instance.Execute(ctx, msg.Command).Unwrap()
}
