// Package gojob runs connector commands through go-job queues. A scheduled
// command travels as a job.ExecutionMessage and is executed on a freshly
// resolved instance by Processor.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/ratelimit"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDExecute = "connectors.execute"
	ScriptPath   = "connectors/execute"
)

const (
	paramConfigName     = "config_name"
	paramConfigID       = "config_id"
	paramKind           = "command_kind"
	paramTarget         = "command_target"
	paramParameters     = "parameters"
	paramParameterKeys  = "parameter_keys"
	paramFilters        = "filters"
	paramFilterKeys     = "filter_keys"
	paramMetadata       = "metadata"
	paramExpectedResult = "expected_result_type"
	paramMutating       = "mutating"
	paramTimeoutMillis  = "timeout_ms"
)

// Request is one deferred command against a stored configuration. Exactly
// one of Name or ID selects the configuration.
type Request struct {
	Name           string
	ID             string
	Command        core.Command
	IdempotencyKey string
	DedupPolicy    string
}

func (r Request) Validate() error {
	if (strings.TrimSpace(r.Name) == "") == (strings.TrimSpace(r.ID) == "") {
		return core.NewError(core.ErrorKindValidation, "gojob: exactly one of name or id is required", nil)
	}
	return r.Command.Validate()
}

// RetryPolicy bounds how often and how late a failed delivery comes back.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	BaseDelay       time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt bounds a nack for the given attempt. A nack without a
// disposition retries. A retry at MaxAttempts becomes terminal: dead letter
// when DeadLetterOnMax is set, failed otherwise.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Disposition == "" {
		out.Disposition = queue.NackDispositionRetry
	}
	if out.Disposition == queue.NackDispositionRetry && p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Disposition = queue.NackDispositionFailed
		if p.DeadLetterOnMax {
			out.Disposition = queue.NackDispositionDeadLetter
		}
	}
	if out.Disposition != queue.NackDispositionRetry || out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	return out
}

// backoff doubles BaseDelay per attempt.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt <= 0 {
		return p.BaseDelay
	}
	delay := p.BaseDelay
	for i := 1; i < attempt && delay < time.Hour; i++ {
		delay *= 2
	}
	return delay
}

// ToExecutionMessage encodes req as a go-job message.
func ToExecutionMessage(req Request) (*job.ExecutionMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cmd := req.Command
	params := map[string]any{
		paramKind:          cmd.Kind(),
		paramTarget:        cmd.Target(),
		paramMutating:      cmd.IsMutating(),
		paramMetadata:      cmd.Metadata().Map(),
		paramTimeoutMillis: cmd.Timeout().Milliseconds(),
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		params[paramConfigName] = name
	} else {
		params[paramConfigID] = strings.TrimSpace(req.ID)
	}
	if cmd.Parameters().Len() > 0 {
		params[paramParameters] = cmd.Parameters().Map()
		params[paramParameterKeys] = cmd.Parameters().Keys()
	}
	if cmd.Filters().Len() > 0 {
		params[paramFilters] = cmd.Filters().Map()
		params[paramFilterKeys] = cmd.Filters().Keys()
	}
	if expected := cmd.ExpectedResultType(); expected != core.ResultTypeAny {
		params[paramExpectedResult] = string(expected)
	}
	return &job.ExecutionMessage{
		JobID:          JobIDExecute,
		ScriptPath:     ScriptPath,
		Parameters:     params,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(req.DedupPolicy)),
	}, nil
}

// FromExecutionMessage decodes a message built by ToExecutionMessage. It
// accepts the loosened types a JSON round trip produces.
func FromExecutionMessage(msg *job.ExecutionMessage) (Request, error) {
	if msg == nil {
		return Request{}, core.NewError(core.ErrorKindValidation, "gojob: execution message is required", nil)
	}
	if strings.TrimSpace(msg.JobID) != JobIDExecute {
		return Request{}, core.NewError(core.ErrorKindValidation,
			fmt.Sprintf("gojob: unexpected job id %q", msg.JobID),
			map[string]any{"job_id": msg.JobID})
	}
	params := msg.Parameters
	timeout, err := toInt64(params[paramTimeoutMillis])
	if err != nil {
		return Request{}, core.WrapError(err, core.ErrorKindValidation, "gojob: invalid timeout", nil)
	}
	mutating, _ := params[paramMutating].(bool)

	cmd := core.NewCommand(stringParam(params, paramKind), stringParam(params, paramTarget),
		core.Expect(core.ResultType(stringParam(params, paramExpectedResult))),
		core.Timeout(time.Duration(timeout)*time.Millisecond),
	).
		WithMutating(mutating).
		WithParameters(orderedValues(params[paramParameters], params[paramParameterKeys])).
		WithFilters(orderedValues(params[paramFilters], params[paramFilterKeys]))
	if metadata, ok := params[paramMetadata].(map[string]any); ok {
		for _, key := range core.ValuesFromMap(metadata).Keys() {
			cmd = cmd.WithMetadata(key, metadata[key])
		}
	}

	req := Request{
		Name:           stringParam(params, paramConfigName),
		ID:             stringParam(params, paramConfigID),
		Command:        cmd,
		IdempotencyKey: msg.IdempotencyKey,
		DedupPolicy:    string(msg.DedupPolicy),
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

type Scheduler struct {
	enqueuer queue.Enqueuer
}

func NewScheduler(enqueuer queue.Enqueuer) *Scheduler {
	return &Scheduler{enqueuer: enqueuer}
}

// Schedule enqueues req for a worker to execute later. The receipt carries
// the queue's dispatch id.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (queue.EnqueueReceipt, error) {
	if s == nil || s.enqueuer == nil {
		return queue.EnqueueReceipt{}, core.NewError(core.ErrorKindInternal, "gojob: enqueuer is not configured", nil)
	}
	msg, err := ToExecutionMessage(req)
	if err != nil {
		return queue.EnqueueReceipt{}, err
	}
	receipt, err := s.enqueuer.Enqueue(ctx, msg)
	if err != nil {
		return queue.EnqueueReceipt{}, core.WrapError(err, core.ErrorKindExecution, "gojob: enqueue connector command",
			map[string]any{"command_kind": req.Command.Kind()})
	}
	return receipt, nil
}

// InstanceResolver is the part of core.Provider a Processor needs.
type InstanceResolver interface {
	ResolveByName(ctx context.Context, name string) core.Result[core.Instance]
	ResolveByID(ctx context.Context, id string) core.Result[core.Instance]
}

type ProcessorOption func(*Processor)

func WithRetryPolicy(policy RetryPolicy) ProcessorOption {
	return func(p *Processor) {
		p.policy = policy
	}
}

func WithLogger(logger core.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithResultHandler receives the value of every command that succeeds.
func WithResultHandler(fn func(context.Context, Request, any)) ProcessorOption {
	return func(p *Processor) {
		p.onResult = fn
	}
}

// Processor executes deliveries and settles them: ack on success, nack with
// retry on execution failures, dead letter on failures a retry cannot fix.
type Processor struct {
	resolver InstanceResolver
	policy   RetryPolicy
	logger   core.Logger
	onResult func(context.Context, Request, any)
}

func NewProcessor(resolver InstanceResolver, opts ...ProcessorOption) *Processor {
	p := &Processor{resolver: resolver, logger: nopLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Next dequeues one delivery and processes it as the given attempt.
func (p *Processor) Next(ctx context.Context, dequeuer queue.Dequeuer, attempt int) error {
	if dequeuer == nil {
		return core.NewError(core.ErrorKindInternal, "gojob: dequeuer is not configured", nil)
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return p.Process(ctx, delivery, attempt)
}

// Process runs the delivery's command and acks or nacks it. The returned
// error is the command failure, if any, after the delivery was settled.
func (p *Processor) Process(ctx context.Context, delivery queue.Delivery, attempt int) error {
	if p == nil || p.resolver == nil {
		return core.NewError(core.ErrorKindInternal, "gojob: instance resolver is not configured", nil)
	}
	if delivery == nil {
		return core.NewError(core.ErrorKindValidation, "gojob: delivery is required", nil)
	}
	req, err := FromExecutionMessage(delivery.Message())
	if err != nil {
		return p.settle(ctx, delivery, err, attempt)
	}
	value, err := p.execute(ctx, req)
	if err != nil {
		p.logger.Warn("gojob: connector command failed",
			"command_kind", req.Command.Kind(), "attempt", attempt, "error", err)
		return p.settle(ctx, delivery, err, attempt)
	}
	if p.onResult != nil {
		p.onResult(ctx, req, value)
	}
	if ackErr := delivery.Ack(ctx); ackErr != nil {
		return ackErr
	}
	return nil
}

func (p *Processor) execute(ctx context.Context, req Request) (value any, err error) {
	var resolved core.Result[core.Instance]
	if id := strings.TrimSpace(req.ID); id != "" {
		resolved = p.resolver.ResolveByID(ctx, id)
	} else {
		resolved = p.resolver.ResolveByName(ctx, strings.TrimSpace(req.Name))
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
	return instance.Execute(ctx, req.Command).Unwrap()
}

func (p *Processor) settle(ctx context.Context, delivery queue.Delivery, cause error, attempt int) error {
	opts := queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: cause.Error()}
	if retryable(cause) {
		opts.Disposition = queue.NackDispositionRetry
		opts.Delay = p.policy.backoff(attempt)
		if wait, throttled := ratelimit.RetryAfter(cause); throttled && wait > opts.Delay {
			opts.Delay = wait
		}
	}
	if nackErr := delivery.Nack(ctx, p.policy.NormalizeAttempt(opts, attempt)); nackErr != nil {
		return fmt.Errorf("gojob: nack after %v: %w", cause, nackErr)
	}
	return cause
}

// retryable reports whether running the same command again can succeed.
func retryable(err error) bool {
	switch core.KindOf(err) {
	case core.ErrorKindExecution, core.ErrorKindCancelled, core.ErrorKindInternal:
		return true
	default:
		return false
	}
}

// LoggingHook reports worker events for connector jobs on a logger.
type LoggingHook struct {
	logger core.Logger
}

func NewLoggingHook(logger core.Logger) *LoggingHook {
	if logger == nil {
		logger = nopLogger()
	}
	return &LoggingHook{logger: logger}
}

func (h *LoggingHook) OnStart(_ context.Context, event worker.Event) {
	h.logger.Debug("gojob: job started", eventFields(event)...)
}

func (h *LoggingHook) OnSuccess(_ context.Context, event worker.Event) {
	h.logger.Info("gojob: job succeeded", eventFields(event)...)
}

func (h *LoggingHook) OnFailure(_ context.Context, event worker.Event) {
	h.logger.Error("gojob: job failed", eventFields(event)...)
}

func (h *LoggingHook) OnRetry(_ context.Context, event worker.Event) {
	h.logger.Warn("gojob: job retry scheduled", eventFields(event)...)
}

func eventFields(event worker.Event) []any {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	fields := []any{"attempt", event.Attempt}
	if message != nil {
		fields = append(fields, "job_id", message.JobID,
			"command_kind", stringParam(message.Parameters, paramKind))
		if name := stringParam(message.Parameters, paramConfigName); name != "" {
			fields = append(fields, "config_name", name)
		}
	}
	if event.Delay > 0 {
		fields = append(fields, "delay", event.Delay)
	}
	if event.Duration > 0 {
		fields = append(fields, "duration", event.Duration)
	}
	if event.Err != nil {
		fields = append(fields, "error", event.Err)
	}
	return fields
}

var (
	_ worker.Hook      = (*LoggingHook)(nil)
	_ InstanceResolver = (*core.Provider)(nil)
)
