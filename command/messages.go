package command

import (
	"strings"

	"github.com/goliatone/go-connectors/core"
)

const (
	TypeResolve      = "connectors.command.resolve"
	TypeExecute      = "connectors.command.execute"
	TypeExecuteBatch = "connectors.command.execute_batch"
)

// Target selects the configuration an instance is resolved from. Exactly
// one of Name, ID or Config must be set.
type Target struct {
	Name   string
	ID     string
	Config core.Configuration
}

func (t Target) validate() error {
	set := 0
	if strings.TrimSpace(t.Name) != "" {
		set++
	}
	if strings.TrimSpace(t.ID) != "" {
		set++
	}
	if t.Config != nil {
		set++
	}
	switch set {
	case 0:
		return core.NewFieldError("command", "target", "one of name, id or config is required")
	case 1:
		return nil
	default:
		return core.NewFieldError("command", "target", "name, id and config are mutually exclusive")
	}
}

// ResolveMessage resolves an instance and hands it to the caller, who owns
// closing it.
type ResolveMessage struct {
	Target Target
}

func (ResolveMessage) Type() string { return TypeResolve }

func (m ResolveMessage) Validate() error {
	return m.Target.validate()
}

// ExecuteMessage resolves a fresh instance, runs one command and closes the
// instance.
type ExecuteMessage struct {
	Target  Target
	Command core.Command
}

func (ExecuteMessage) Type() string { return TypeExecute }

func (m ExecuteMessage) Validate() error {
	if err := m.Target.validate(); err != nil {
		return err
	}
	if err := m.Command.Validate(); err != nil {
		return core.WrapError(err, core.ErrorKindValidation, "command: invalid connector command", nil)
	}
	return nil
}

// ExecuteBatchMessage runs Commands in order on one instance and stops at the
// first failure.
type ExecuteBatchMessage struct {
	Target   Target
	Commands []core.Command
}

func (ExecuteBatchMessage) Type() string { return TypeExecuteBatch }

func (m ExecuteBatchMessage) Validate() error {
	if err := m.Target.validate(); err != nil {
		return err
	}
	if len(m.Commands) == 0 {
		return core.NewFieldError("command", "commands", "at least one command is required")
	}
	for _, cmd := range m.Commands {
		if err := cmd.Validate(); err != nil {
			return core.WrapError(err, core.ErrorKindValidation, "command: invalid connector command in batch", nil)
		}
	}
	return nil
}
