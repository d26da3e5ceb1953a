package core

import (
	"context"
	"errors"
	"fmt"
)

// BatchReport describes how far a batch got.
type BatchReport struct {
	Total   int
	Applied int
	Results []any
	// FailedIndex is the position of the failing command, or -1.
	FailedIndex int
}

// BatchError is the cause attached to a failed batch result.
type BatchError struct {
	Report  BatchReport
	Index   int
	Command Command
	Cause   error
}

func (e *BatchError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf(
		"batch stopped at command %d (%s) after %d applied: %v",
		e.Index, e.Command, e.Report.Applied, e.Cause,
	)
}

func (e *BatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// CommandExecutor executes a single command.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd Command) Result[any]
}

// CommandExecutorFunc adapts a function to CommandExecutor.
type CommandExecutorFunc func(ctx context.Context, cmd Command) Result[any]

func (f CommandExecutorFunc) Execute(ctx context.Context, cmd Command) Result[any] {
	return f(ctx, cmd)
}

// RunBatch executes cmds in order on exec, stopping at the first failure or
// cancellation. Commands already applied are left in place.
func RunBatch(ctx context.Context, exec CommandExecutor, cmds []Command) Result[BatchReport] {
	ctx = orBackground(ctx)
	report := BatchReport{Total: len(cmds), FailedIndex: -1, Results: make([]any, 0, len(cmds))}
	if exec == nil {
		return Failure[BatchReport](NewError(ErrorKindValidation, "core: batch executor is required", nil))
	}
	for index, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return Failure[BatchReport](batchFailure(report, index, cmd, err))
		}
		value, err := exec.Execute(ctx, cmd).Unwrap()
		if err != nil {
			return Failure[BatchReport](batchFailure(report, index, cmd, err))
		}
		report.Applied++
		report.Results = append(report.Results, value)
	}
	return Success(report)
}

func batchFailure(report BatchReport, index int, cmd Command, cause error) error {
	report.FailedIndex = index
	report.Results = append([]any(nil), report.Results...)
	kind := KindOf(cause)
	meta := errorMetadata(cause)
	meta["batch_index"] = index
	meta["batch_applied"] = report.Applied
	meta["batch_total"] = report.Total
	meta["command_kind"] = cmd.Kind()
	meta["command_target"] = cmd.Target()
	batchErr := &BatchError{Report: report, Index: index, Command: cmd, Cause: cause}
	envelope := NewError(kind, "core: "+batchErr.Error(), meta)
	envelope.Source = batchErr
	return envelope
}

// BatchReportFrom extracts the partial progress of a failed batch.
func BatchReportFrom(err error) (BatchReport, bool) {
	var batchErr *BatchError
	if errors.As(err, &batchErr) && batchErr != nil {
		return batchErr.Report, true
	}
	return BatchReport{}, false
}

// BatchIndexFrom returns the index of the command that stopped the batch.
func BatchIndexFrom(err error) (int, bool) {
	var batchErr *BatchError
	if errors.As(err, &batchErr) && batchErr != nil {
		return batchErr.Index, true
	}
	meta := errorMetadata(err)
	if index, ok := meta["batch_index"].(int); ok {
		return index, true
	}
	return -1, false
}
