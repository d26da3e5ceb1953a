package query

import (
	"github.com/goliatone/go-connectors/core"

	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[ListDescriptorsMessage, []core.Descriptor] = (*ListDescriptorsQuery)(nil)
	_ gocmd.Querier[FetchMessage, any]                         = (*FetchQuery)(nil)

	_ DescriptorLister = (*core.Provider)(nil)
	_ InstanceResolver = (*core.Provider)(nil)
)
