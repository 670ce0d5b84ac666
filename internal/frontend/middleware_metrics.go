package frontend

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/cloudcustos/ruleengine/internal/metrics"
)

// patternRe is used to strip the HTTP method from the route pattern.
var patternRe = regexp.MustCompile(`^[^\s]*\s+`)

type MetricsMiddleware struct {
	metrics.Emitter
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	mrw.statusCode = code
	mrw.ResponseWriter.WriteHeader(code)
}

// Metrics emits a request counter and duration gauge per route.
func (mm MetricsMiddleware) Metrics() MiddlewareFunc {
	return func(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		startTime := time.Now()

		mrw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(mrw, r)

		duration := time.Since(startTime).Seconds()

		// The pattern pointer was installed by MiddlewareMux before the
		// request was mutated, so it survives the middleware chain.
		routePattern := ""
		if patt, err := PatternFromContext(r.Context()); err == nil && patt != nil {
			routePattern = patternRe.ReplaceAllString(*patt, "")
		}

		labels := map[string]string{
			"verb":  r.Method,
			"code":  strconv.Itoa(mrw.statusCode),
			"route": routePattern,
		}
		mm.Emitter.AddCounter("frontend_requests_total", 1.0, labels)
		mm.Emitter.EmitGauge("frontend_request_duration_seconds", duration, labels)
	}
}
