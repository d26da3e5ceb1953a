package gojob

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/ratelimit"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func sampleRequest() Request {
	return Request{
		Name: "primary",
		Command: core.NewCommand("update", "users",
			core.Param("values", map[string]any{"team": "platform"}),
			core.Param("all", false),
			core.Filter("id", 7),
			core.Meta("trace", "abc"),
			core.Expect(core.ResultTypeAffected),
			core.Timeout(1500*time.Millisecond),
			core.Mutating(),
		),
		IdempotencyKey: "idem-1",
		DedupPolicy:    "drop",
	}
}

func TestExecutionMessage_SurvivesJSONTransport(t *testing.T) {
	msg, err := ToExecutionMessage(sampleRequest())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if msg.JobID != JobIDExecute || msg.IdempotencyKey != "idem-1" {
		t.Fatalf("unexpected envelope %+v", msg)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var transported job.ExecutionMessage
	if err := json.Unmarshal(raw, &transported); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	req, err := FromExecutionMessage(&transported)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cmd := req.Command
	if req.Name != "primary" || cmd.Kind() != "update" || cmd.Target() != "users" {
		t.Fatalf("unexpected request %+v", req)
	}
	if !cmd.IsMutating() || cmd.Timeout() != 1500*time.Millisecond || cmd.ExpectedResultType() != core.ResultTypeAffected {
		t.Fatalf("expected flags to survive, got %s", cmd)
	}
	if keys := cmd.Parameters().Keys(); len(keys) != 2 || keys[0] != "values" || keys[1] != "all" {
		t.Fatalf("expected parameter order preserved, got %v", keys)
	}
	if id, _ := cmd.Filters().Get("id"); id != float64(7) {
		t.Fatalf("expected JSON number filter, got %#v", id)
	}
	if trace, _ := cmd.Metadata().Get("trace"); trace != "abc" {
		t.Fatalf("expected metadata, got %#v", trace)
	}
}

func TestFromExecutionMessage_Rejects(t *testing.T) {
	cases := map[string]*job.ExecutionMessage{
		"nil":       nil,
		"other job": {JobID: "reports.render"},
		"no target": {JobID: JobIDExecute, Parameters: map[string]any{paramKind: "get"}},
		"no kind":   {JobID: JobIDExecute, Parameters: map[string]any{paramConfigName: "primary"}},
		"timeout":   {JobID: JobIDExecute, Parameters: map[string]any{paramConfigName: "primary", paramKind: "get", paramTimeoutMillis: "soon"}},
	}
	for name, msg := range cases {
		if _, err := FromExecutionMessage(msg); !core.IsKind(err, core.ErrorKindValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestScheduler_Enqueues(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	receipt, err := NewScheduler(enqueuer).Schedule(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDExecute {
		t.Fatalf("expected enqueued connector job, got %+v", enqueuer.last)
	}
	if receipt.DispatchID != "dispatch-1" {
		t.Fatalf("expected queue receipt, got %+v", receipt)
	}
	if _, err := NewScheduler(enqueuer).Schedule(context.Background(), Request{Command: core.NewCommand("get", "")}); err == nil {
		t.Fatalf("expected invalid request to be rejected")
	}
	if _, err := NewScheduler(nil).Schedule(context.Background(), sampleRequest()); err == nil {
		t.Fatalf("expected missing enqueuer error")
	}
}

type stubResolver struct {
	closed  int
	handler core.HandlerFunc
	failErr error
}

func (s *stubResolver) instance() core.Result[core.Instance] {
	if s.failErr != nil {
		return core.Failure[core.Instance](s.failErr)
	}
	return core.Success[core.Instance](core.NewRuntime("stub",
		core.WithHandler("update", s.handler),
		core.WithCloseHook(func(context.Context) error {
			s.closed++
			return nil
		}),
	))
}

func (s *stubResolver) ResolveByName(context.Context, string) core.Result[core.Instance] {
	return s.instance()
}

func (s *stubResolver) ResolveByID(context.Context, string) core.Result[core.Instance] {
	return s.instance()
}

func deliveryFor(t *testing.T, req Request) *stubQueueDelivery {
	t.Helper()
	msg, err := ToExecutionMessage(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &stubQueueDelivery{msg: msg}
}

func TestProcessor_AcksAndReportsResult(t *testing.T) {
	resolver := &stubResolver{handler: func(context.Context, core.Command) (any, error) {
		return int64(3), nil
	}}
	var got any
	processor := NewProcessor(resolver, WithResultHandler(func(_ context.Context, _ Request, value any) {
		got = value
	}))
	delivery := deliveryFor(t, sampleRequest())
	dequeuer := &stubQueueDequeuer{delivery: delivery}

	if err := processor.Next(context.Background(), dequeuer, 1); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !delivery.acked || got != int64(3) {
		t.Fatalf("expected ack with result 3, acked=%v got=%#v", delivery.acked, got)
	}
	if resolver.closed != 1 {
		t.Fatalf("expected instance closed once, got %d", resolver.closed)
	}
}

func TestProcessor_RetriesExecutionFailures(t *testing.T) {
	resolver := &stubResolver{handler: func(context.Context, core.Command) (any, error) {
		return nil, errors.New("connection reset")
	}}
	processor := NewProcessor(resolver, WithRetryPolicy(RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		MaxDelay:        3 * time.Second,
		DeadLetterOnMax: true,
	}))

	delivery := deliveryFor(t, sampleRequest())
	if err := processor.Process(context.Background(), delivery, 2); !core.IsKind(err, core.ErrorKindExecution) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if delivery.nackOpts.Disposition != queue.NackDispositionRetry || delivery.nackOpts.Delay != 2*time.Second {
		t.Fatalf("expected retry after 2s, got %+v", delivery.nackOpts)
	}

	last := deliveryFor(t, sampleRequest())
	_ = processor.Process(context.Background(), last, 3)
	if last.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %+v", last.nackOpts)
	}
}

func TestProcessor_WaitsOutThrottleWindow(t *testing.T) {
	resolver := &stubResolver{handler: func(context.Context, core.Command) (any, error) {
		return nil, ratelimit.ThrottledError{Bucket: "api.example.test", RetryAfter: 30 * time.Second}.ToError()
	}}
	processor := NewProcessor(resolver, WithRetryPolicy(RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
	}))

	delivery := deliveryFor(t, sampleRequest())
	_ = processor.Process(context.Background(), delivery, 1)
	if delivery.nackOpts.Disposition != queue.NackDispositionRetry || delivery.nackOpts.Delay != 30*time.Second {
		t.Fatalf("expected retry after the throttle window, got %+v", delivery.nackOpts)
	}
}

func TestProcessor_DeadLettersPermanentFailures(t *testing.T) {
	resolver := &stubResolver{failErr: core.NewError(core.ErrorKindNotFound, "no such configuration", nil)}
	processor := NewProcessor(resolver)

	delivery := deliveryFor(t, sampleRequest())
	if err := processor.Process(context.Background(), delivery, 1); !core.IsKind(err, core.ErrorKindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if delivery.acked || delivery.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected dead letter without ack, got %+v", delivery.nackOpts)
	}

	garbage := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: "other"}}
	_ = processor.Process(context.Background(), garbage, 1)
	if garbage.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected undecodable message dead-lettered")
	}
}

func TestRetryPolicy_NormalizeAttempt(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second}
	opts := policy.NormalizeAttempt(queue.NackOptions{Delay: 30 * time.Second, Reason: " transient "}, 1)
	if opts.Disposition != queue.NackDispositionRetry || opts.Delay != 10*time.Second || opts.Reason != "transient" {
		t.Fatalf("unexpected bounded nack %+v", opts)
	}
	opts = policy.NormalizeAttempt(queue.NackOptions{Disposition: queue.NackDispositionRetry, Delay: time.Second}, 3)
	if opts.Disposition != queue.NackDispositionFailed || opts.Delay != 0 {
		t.Fatalf("expected terminal failure at max attempts, got %+v", opts)
	}
	policy.DeadLetterOnMax = true
	if opts = policy.NormalizeAttempt(queue.NackOptions{}, 3); opts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %+v", opts)
	}
	opts = policy.NormalizeAttempt(queue.NackOptions{Delay: -time.Second}, 0)
	if opts.Disposition != queue.NackDispositionRetry || opts.Delay != 0 {
		t.Fatalf("expected empty nack to retry immediately, got %+v", opts)
	}
	for _, normalized := range []queue.NackOptions{
		policy.NormalizeAttempt(queue.NackOptions{}, 1),
		policy.NormalizeAttempt(queue.NackOptions{Disposition: queue.NackDispositionCanceled, Delay: time.Second}, 1),
	} {
		if err := queue.ValidateNackOptions(normalized); err != nil {
			t.Fatalf("expected %+v to satisfy go-job nack rules: %v", normalized, err)
		}
	}
}

type capturedEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	entries []capturedEntry
}

func (l *captureLogger) record(level, msg string, args ...any) {
	l.entries = append(l.entries, capturedEntry{level: level, msg: msg, args: args})
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }
func (l *captureLogger) WithContext(context.Context) core.Logger {
	return l
}

func TestLoggingHook_MapsWorkerEvents(t *testing.T) {
	logger := &captureLogger{}
	hook := NewLoggingHook(logger)
	msg, err := ToExecutionMessage(sampleRequest())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	hook.OnRetry(context.Background(), worker.Event{
		Delivery: &stubQueueDelivery{msg: msg},
		Attempt:  2,
		Delay:    5 * time.Second,
		Err:      errors.New("retry"),
	})
	hook.OnSuccess(context.Background(), worker.Event{Message: msg, Attempt: 3})

	if len(logger.entries) != 2 {
		t.Fatalf("expected two log lines, got %d", len(logger.entries))
	}
	retry := logger.entries[0]
	if retry.level != "warn" {
		t.Fatalf("expected retry at warn, got %s", retry.level)
	}
	fields := map[string]any{}
	for i := 0; i+1 < len(retry.args); i += 2 {
		fields[retry.args[i].(string)] = retry.args[i+1]
	}
	if fields["command_kind"] != "update" || fields["config_name"] != "primary" || fields["attempt"] != 2 {
		t.Fatalf("unexpected retry fields %#v", fields)
	}
	if logger.entries[1].level != "info" {
		t.Fatalf("expected success at info, got %s", logger.entries[1].level)
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	s.last = msg
	return queue.EnqueueReceipt{DispatchID: "dispatch-1", EnqueuedAt: time.Now()}, nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}
