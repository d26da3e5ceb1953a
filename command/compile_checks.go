package command

import (
	"github.com/goliatone/go-connectors/core"

	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Commander[ResolveMessage]      = (*ResolveCommand)(nil)
	_ gocmd.Commander[ExecuteMessage]      = (*ExecuteCommand)(nil)
	_ gocmd.Commander[ExecuteBatchMessage] = (*ExecuteBatchCommand)(nil)

	_ Resolver = (*core.Provider)(nil)
)
