// Package gologger names go-logger loggers for connector components and
// bridges them to go-job workers.
package gologger

import (
	"strings"

	"github.com/goliatone/go-connectors/connectors/builtin"
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const RootName = "connectors"

// ComponentName returns "connectors.<component>". A blank component names
// the root logger.
func ComponentName(component string) string {
	component = strings.ToLower(strings.TrimSpace(component))
	if component == "" || component == RootName {
		return RootName
	}
	return RootName + "." + strings.TrimPrefix(component, RootName+".")
}

// Resolve picks the logger for component with provider > logger > nop
// precedence.
func Resolve(component string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	resolvedProvider, resolved := glog.Resolve(ComponentName(component), provider, logger)
	return resolvedProvider, glog.Ensure(resolved)
}

// BuiltinOption hands the built-in connectors a logger named
// "connectors.builtin".
func BuiltinOption(provider glog.LoggerProvider, logger glog.Logger) builtin.Option {
	_, resolved := Resolve("builtin", provider, logger)
	return builtin.WithLogger(resolved)
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the "connectors.jobs" logger and its go-job
// equivalents.
func ResolveForJob(
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve("jobs", provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
