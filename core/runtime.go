package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HandlerFunc executes one command kind.
type HandlerFunc func(ctx context.Context, cmd Command) (any, error)

// Runtime is an embeddable Instance. Concrete implementations register a
// handler per command kind plus optional open and close hooks; Runtime owns
// the Created -> Ready -> Closed state machine, timeouts and panic recovery.
type Runtime struct {
	mu             sync.Mutex
	id             string
	typeName       string
	state          InstanceState
	handlers       map[string]HandlerFunc
	openHooks      []func(context.Context) error
	closeHooks     []func(context.Context) error
	defaultTimeout time.Duration
}

type RuntimeOption func(*Runtime)

func WithHandler(kind string, handler HandlerFunc) RuntimeOption {
	return func(r *Runtime) {
		if handler == nil {
			return
		}
		if key := normalizeKind(kind); key != "" {
			r.handlers[key] = handler
		}
	}
}

// WithOpenHook runs fn when the instance moves to Ready.
func WithOpenHook(fn func(context.Context) error) RuntimeOption {
	return func(r *Runtime) {
		if fn != nil {
			r.openHooks = append(r.openHooks, fn)
		}
	}
}

// WithCloseHook runs fn on Close. Close hooks run newest first.
func WithCloseHook(fn func(context.Context) error) RuntimeOption {
	return func(r *Runtime) {
		if fn != nil {
			r.closeHooks = append(r.closeHooks, fn)
		}
	}
}

// WithScope hands the resources tracked during construction to the
// instance; they are released on Close.
func WithScope(scope *Scope) RuntimeOption {
	return func(r *Runtime) {
		if scope != nil {
			r.closeHooks = append(r.closeHooks, scope.Release)
		}
	}
}

// WithDefaultTimeout bounds commands that carry no timeout of their own.
func WithDefaultTimeout(timeout time.Duration) RuntimeOption {
	return func(r *Runtime) {
		if timeout > 0 {
			r.defaultTimeout = timeout
		}
	}
}

func WithInstanceID(id string) RuntimeOption {
	return func(r *Runtime) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			r.id = trimmed
		}
	}
}

func NewRuntime(typeName string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		id:       uuid.NewString(),
		typeName: strings.TrimSpace(typeName),
		state:    InstanceStateCreated,
		handlers: map[string]HandlerFunc{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Runtime) ID() string {
	return r.id
}

func (r *Runtime) TypeName() string {
	return r.typeName
}

func (r *Runtime) State() InstanceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Handle registers a handler before the instance is opened.
func (r *Runtime) Handle(kind string, handler HandlerFunc) error {
	key := normalizeKind(kind)
	if key == "" || handler == nil {
		return NewError(ErrorKindValidation, "core: handler kind and func are required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != InstanceStateCreated {
		return r.stateError("register handler", r.state)
	}
	r.handlers[key] = handler
	return nil
}

func (r *Runtime) Supports(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[normalizeKind(kind)]
	return ok
}

// Kinds lists supported command kinds in sorted order.
func (r *Runtime) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Open acquires resources. Opening a Ready instance is a no-op. A failed open
// leaves the instance in Created.
func (r *Runtime) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openLocked(orBackground(ctx))
}

func (r *Runtime) openLocked(ctx context.Context) (err error) {
	switch r.state {
	case InstanceStateReady:
		return nil
	case InstanceStateClosed:
		return r.stateError("open", r.state)
	}
	if err := ctx.Err(); err != nil {
		return WrapError(err, ErrorKindCancelled, "core: open cancelled", r.metadata())
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			err = NewError(
				ErrorKindConstruction,
				fmt.Sprintf("core: open %q panicked: %v", r.typeName, recovered),
				r.metadata(),
			)
		}
	}()
	for _, hook := range r.openHooks {
		if hookErr := hook(ctx); hookErr != nil {
			return ensureKind(hookErr, ErrorKindConstruction, fmt.Sprintf("core: open %q", r.typeName), r.metadata())
		}
	}
	r.state = InstanceStateReady
	return nil
}

// Close releases resources and moves to Closed. Closing twice is a no-op.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.state == InstanceStateClosed {
		r.mu.Unlock()
		return nil
	}
	r.state = InstanceStateClosed
	hooks := r.closeHooks
	r.closeHooks = nil
	r.mu.Unlock()

	ctx = context.WithoutCancel(orBackground(ctx))
	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := runCloseHook(ctx, hooks[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return WrapError(err, ErrorKindExecution, fmt.Sprintf("core: close %q: %v", r.typeName, err), r.metadata())
	}
	return nil
}

func runCloseHook(ctx context.Context, hook func(context.Context) error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("close hook panicked: %v", recovered)
		}
	}()
	return hook(ctx)
}

func (r *Runtime) Execute(ctx context.Context, cmd Command) Result[any] {
	ctx = orBackground(ctx)
	if err := cmd.Validate(); err != nil {
		return Failure[any](err)
	}

	r.mu.Lock()
	if r.state == InstanceStateClosed {
		r.mu.Unlock()
		return Failure[any](r.commandStateError(cmd))
	}
	handler, ok := r.handlers[normalizeKind(cmd.Kind())]
	if !ok {
		r.mu.Unlock()
		return Failure[any](NewError(
			ErrorKindUnsupportedOperation,
			fmt.Sprintf("core: %q does not support command %q (target %q)", r.typeName, cmd.Kind(), cmd.Target()),
			r.commandMetadata(cmd),
		))
	}
	if r.state == InstanceStateCreated {
		if err := r.openLocked(ctx); err != nil {
			r.mu.Unlock()
			return Failure[any](err)
		}
	}
	r.mu.Unlock()

	timeout := cmd.Timeout()
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return Failure[any](r.executionError(cmd, err))
	}

	value, err := r.invoke(ctx, handler, cmd)
	if err != nil {
		return Failure[any](r.executionError(cmd, err))
	}
	return Success(value)
}

func (r *Runtime) invoke(ctx context.Context, handler HandlerFunc, cmd Command) (value any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panicked: %v", recovered)
		}
	}()
	return handler(ctx, cmd)
}

// ExecuteBatch runs cmds in order and stops at the first failure or
// cancellation. Applied commands are not rolled back.
func (r *Runtime) ExecuteBatch(ctx context.Context, cmds []Command) Result[BatchReport] {
	return RunBatch(orBackground(ctx), r, cmds)
}

func (r *Runtime) executionError(cmd Command, err error) error {
	meta := r.commandMetadata(cmd)
	for key, value := range errorMetadata(err) {
		if _, exists := meta[key]; !exists {
			meta[key] = value
		}
	}
	if hasKind(err) {
		return err
	}
	if isContextError(err) {
		return WrapError(err, ErrorKindCancelled,
			fmt.Sprintf("core: command %q on %q cancelled: %v", cmd.Kind(), cmd.Target(), err), meta)
	}
	return WrapError(err, ErrorKindExecution,
		fmt.Sprintf("core: command %q on %q failed: %v", cmd.Kind(), cmd.Target(), err), meta)
}

func (r *Runtime) commandStateError(cmd Command) error {
	meta := r.commandMetadata(cmd)
	meta["state"] = string(InstanceStateClosed)
	return NewError(
		ErrorKindInvalidState,
		fmt.Sprintf("core: %q is closed, cannot execute %q on %q", r.typeName, cmd.Kind(), cmd.Target()),
		meta,
	)
}

func (r *Runtime) stateError(action string, state InstanceState) error {
	meta := r.metadata()
	meta["state"] = string(state)
	return NewError(
		ErrorKindInvalidState,
		fmt.Sprintf("core: cannot %s %q in state %s", action, r.typeName, state),
		meta,
	)
}

func (r *Runtime) metadata() map[string]any {
	return map[string]any{"type_name": r.typeName, "instance_id": r.id}
}

func (r *Runtime) commandMetadata(cmd Command) map[string]any {
	meta := r.metadata()
	for key, value := range cmd.errorMetadata() {
		meta[key] = value
	}
	return meta
}
