package query

import (
	"strings"

	"github.com/goliatone/go-connectors/core"
)

const (
	TypeListDescriptors = "connectors.query.descriptors.list"
	TypeFetch           = "connectors.query.fetch"
)

// ListDescriptorsMessage lists registered descriptors, optionally narrowed
// to one capability.
type ListDescriptorsMessage struct {
	Capability string
}

func (ListDescriptorsMessage) Type() string { return TypeListDescriptors }

func (ListDescriptorsMessage) Validate() error { return nil }

// FetchMessage runs a read-only command on an instance resolved by stored
// name or identifier.
type FetchMessage struct {
	Name    string
	ID      string
	Command core.Command
}

func (FetchMessage) Type() string { return TypeFetch }

func (m FetchMessage) Validate() error {
	name := strings.TrimSpace(m.Name)
	id := strings.TrimSpace(m.ID)
	if (name == "") == (id == "") {
		return core.NewFieldError("query", "target", "exactly one of name or id is required")
	}
	if err := m.Command.Validate(); err != nil {
		return core.WrapError(err, core.ErrorKindValidation, "query: invalid connector command", nil)
	}
	if m.Command.IsMutating() {
		return core.NewError(core.ErrorKindValidation, "query: mutating commands must be dispatched as commands", nil)
	}
	return nil
}
