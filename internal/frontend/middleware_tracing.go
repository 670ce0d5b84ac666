package frontend

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/cloudcustos/ruleengine/internal/tracing"
)

// MiddlewareTracing starts a server span for the request and annotates it
// with the caller identity headers when present.
func MiddlewareTracing(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	otelhttp.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span := trace.SpanFromContext(r.Context())
		if customer := r.Header.Get(CustomerHeader); customer != "" {
			span.SetAttributes(tracing.CustomerKey.String(customer))
		}

		next(w, r)
	}), fmt.Sprintf("HTTP %s", r.Method)).ServeHTTP(w, r)
}
