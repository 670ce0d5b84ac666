package frontend

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudcustos/ruleengine/internal/jobs"
)

type ContextError struct {
	got any
}

func (c *ContextError) Error() string {
	return fmt.Sprintf(
		"error retrieving value from context, value obtained was '%v' and type obtained was '%T'",
		c.got,
		c.got)
}

type contextKey int

const (
	// Keys for request-scoped data in http.Request contexts
	contextKeyBody contextKey = iota
	contextKeyLogger
	contextKeyPattern
	contextKeyCaller
)

func ContextWithBody(ctx context.Context, body []byte) context.Context {
	return context.WithValue(ctx, contextKeyBody, body)
}

func BodyFromContext(ctx context.Context) ([]byte, error) {
	body, ok := ctx.Value(contextKeyBody).([]byte)
	if !ok {
		return body, &ContextError{got: body}
	}
	return body, nil
}

func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKeyLogger, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(contextKeyLogger).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return logger
}

// ContextWithPattern stores a pointer to the route pattern the mux will
// match so pre-mux middleware can read it after the handler ran.
func ContextWithPattern(ctx context.Context, pattern *string) context.Context {
	return context.WithValue(ctx, contextKeyPattern, pattern)
}

func PatternFromContext(ctx context.Context) (*string, error) {
	pattern, ok := ctx.Value(contextKeyPattern).(*string)
	if !ok {
		return pattern, &ContextError{got: pattern}
	}
	return pattern, nil
}

func ContextWithCaller(ctx context.Context, caller jobs.Caller) context.Context {
	return context.WithValue(ctx, contextKeyCaller, caller)
}

func CallerFromContext(ctx context.Context) (jobs.Caller, error) {
	caller, ok := ctx.Value(contextKeyCaller).(jobs.Caller)
	if !ok {
		return caller, &ContextError{got: caller}
	}
	return caller, nil
}
