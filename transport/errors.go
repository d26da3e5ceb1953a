package transport

import (
	"github.com/goliatone/go-connectors/core"
)

func transportError(message string, kind core.ErrorKind, metadata map[string]any) error {
	return core.NewError(kind, message, metadata)
}

func transportWrapError(source error, kind core.ErrorKind, message string, metadata map[string]any) error {
	if source == nil {
		return transportError(message, kind, metadata)
	}
	if core.IsKind(source, core.ErrorKindCancelled) {
		kind = core.ErrorKindCancelled
	}
	return core.WrapError(source, kind, message, metadata)
}
