package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (p *Provider) startSpan(ctx context.Context, operation string, fields map[string]any) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, "connectors."+normalizeOperation(operation),
		trace.WithAttributes(spanAttributes(fields)...),
	)
}

func (p *Provider) observeOperation(
	ctx context.Context,
	span trace.Span,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if p == nil {
		return
	}
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}

	contextFields := cloneFields(fields)
	contextFields["event_type"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
		contextFields["error_kind"] = string(KindOf(err))
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"type_name", "error_kind"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	p.recordCounter(ctx, p.metricName(operation, "total"), 1, tags)
	p.recordHistogram(ctx, p.metricName(operation, "duration_ms"), float64(time.Since(startedAt).Milliseconds()), tags)

	if span != nil {
		span.SetAttributes(attribute.String("connectors.status", status))
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("connectors.error_kind", string(KindOf(err))))
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}

	if err != nil {
		p.logError(ctx, operation+" failed", contextFields)
		return
	}
	p.logInfo(ctx, operation+" succeeded", contextFields)
}

func (p *Provider) metricName(operation, suffix string) string {
	prefix := strings.TrimSpace(p.config.ServiceName)
	if prefix == "" {
		prefix = "connectors"
	}
	return prefix + "." + operation + "." + suffix
}

func (p *Provider) logInfo(ctx context.Context, message string, fields map[string]any) {
	p.logWithLevel(ctx, "info", message, fields)
}

func (p *Provider) logError(ctx context.Context, message string, fields map[string]any) {
	p.logWithLevel(ctx, "error", message, fields)
}

func (p *Provider) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if p == nil || p.logger == nil {
		return
	}
	logger := p.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (p *Provider) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if p == nil || p.metricsRecorder == nil {
		return
	}
	p.metricsRecorder.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (p *Provider) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if p == nil || p.metricsRecorder == nil {
		return
	}
	p.metricsRecorder.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func spanAttributes(fields map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		name := "connectors." + key
		switch value := fields[key].(type) {
		case string:
			attrs = append(attrs, attribute.String(name, value))
		case int:
			attrs = append(attrs, attribute.Int(name, value))
		case int64:
			attrs = append(attrs, attribute.Int64(name, value))
		case bool:
			attrs = append(attrs, attribute.Bool(name, value))
		default:
			attrs = append(attrs, attribute.String(name, fmt.Sprint(value)))
		}
	}
	return attrs
}

func cloneFields(fields map[string]any) map[string]any {
	return copyAnyMap(fields)
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
