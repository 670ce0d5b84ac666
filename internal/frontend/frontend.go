package frontend

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudcustos/ruleengine/internal/api/rest"
	"github.com/cloudcustos/ruleengine/internal/database"
	"github.com/cloudcustos/ruleengine/internal/events"
	"github.com/cloudcustos/ruleengine/internal/jobs"
	"github.com/cloudcustos/ruleengine/internal/metrics"
	"github.com/cloudcustos/ruleengine/internal/rulesets"
)

// Frontend is the HTTP surface of the rule engine control plane.
type Frontend struct {
	logger    *slog.Logger
	listener  net.Listener
	server    http.Server
	dbClient  database.DBClient
	metrics   metrics.Emitter
	jobs      *jobs.Service
	scheduled *jobs.ScheduledService
	rulesets  *rulesets.Service
	ingestor  *events.Ingestor
	ready     atomic.Value
	done      chan struct{}
}

func NewFrontend(
	logger *slog.Logger,
	listener net.Listener,
	emitter metrics.Emitter,
	dbClient database.DBClient,
	jobService *jobs.Service,
	scheduledService *jobs.ScheduledService,
	rulesetService *rulesets.Service,
	ingestor *events.Ingestor,
) *Frontend {
	f := &Frontend{
		logger:   logger,
		listener: listener,
		metrics:  emitter,
		server: http.Server{
			ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
			BaseContext: func(net.Listener) context.Context {
				return ContextWithLogger(context.Background(), logger)
			},
		},
		dbClient:  dbClient,
		jobs:      jobService,
		scheduled: scheduledService,
		rulesets:  rulesetService,
		ingestor:  ingestor,
		done:      make(chan struct{}),
	}

	f.server.Handler = f.routes()

	return f
}

func (f *Frontend) routes() *MiddlewareMux {
	metricsMiddleware := MetricsMiddleware{Emitter: f.metrics}

	mux := NewMiddlewareMux(
		MiddlewarePanic,
		MiddlewareLogging,
		MiddlewareTracing,
		MiddlewareBody,
		metricsMiddleware.Metrics(),
	)

	// Unauthenticated routes
	mux.HandleFunc("/", f.NotFound)
	mux.HandleFunc("GET /healthz/ready", f.HealthzReady)

	// Expose Prometheus metrics endpoint
	mux.Handle("GET /metrics", promhttp.Handler())

	// Tenant-scoped routes require the caller identity headers.
	callerMiddleware := NewMiddleware(MiddlewareCaller)
	mux.Handle("POST /jobs", callerMiddleware.HandlerFunc(f.JobCreate))
	mux.Handle("GET /jobs/{id}", callerMiddleware.HandlerFunc(f.JobGet))
	mux.Handle("DELETE /jobs/{id}", callerMiddleware.HandlerFunc(f.JobTerminate))

	mux.Handle("POST /jobs/scheduled", callerMiddleware.HandlerFunc(f.ScheduledJobCreate))
	mux.Handle("GET /jobs/scheduled", callerMiddleware.HandlerFunc(f.ScheduledJobList))
	mux.Handle("GET /jobs/scheduled/{customer}/{name}", callerMiddleware.HandlerFunc(f.ScheduledJobGet))
	mux.Handle("PATCH /jobs/scheduled/{customer}/{name}", callerMiddleware.HandlerFunc(f.ScheduledJobPatch))
	mux.Handle("DELETE /jobs/scheduled/{customer}/{name}", callerMiddleware.HandlerFunc(f.ScheduledJobDelete))

	mux.Handle("POST /exceptions", callerMiddleware.HandlerFunc(f.ExceptionCreate))
	mux.Handle("GET /exceptions", callerMiddleware.HandlerFunc(f.ExceptionList))

	// Operator routes. The proxy only forwards these for SYSTEM callers.
	mux.HandleFunc("POST /rulesets", f.RulesetCreate)
	mux.HandleFunc("PATCH /rulesets", f.RulesetUpdate)
	mux.HandleFunc("GET /rulesets", f.RulesetGet)
	mux.HandleFunc("DELETE /rulesets", f.RulesetDelete)
	mux.HandleFunc("POST /rulesets/release", f.RulesetRelease)
	mux.HandleFunc("POST /rulesets/event-driven", f.EventDrivenRulesetCreate)
	mux.HandleFunc("GET /rulesets/event-driven", f.EventDrivenRulesetGet)

	mux.HandleFunc("POST /events", f.EventSubmit)

	return mux
}

func (f *Frontend) Run(ctx context.Context, stop <-chan struct{}) {
	if stop != nil {
		go func() {
			<-stop
			f.ready.Store(false)
			_ = f.server.Shutdown(ctx)
		}()
	}

	f.logger.Info(fmt.Sprintf("listening on %s", f.listener.Addr().String()))

	f.ready.Store(true)

	err := f.server.Serve(f.listener)
	if err != http.ErrServerClosed {
		f.logger.Error(err.Error())
		os.Exit(1)
	}

	close(f.done)
}

func (f *Frontend) Join() {
	<-f.done
}

func (f *Frontend) CheckReady() bool {
	ready, ok := f.ready.Load().(bool)
	return ok && ready
}

func (f *Frontend) NotFound(writer http.ResponseWriter, request *http.Request) {
	rest.WriteError(
		writer, http.StatusNotFound,
		rest.ErrorCodeNotFound, "",
		"The requested path could not be found.")
}

// HealthzReady reports readiness: the server accepted the listener and the
// database connection test passes.
func (f *Frontend) HealthzReady(writer http.ResponseWriter, request *http.Request) {
	var healthStatus float64

	healthy := f.CheckReady()
	if healthy {
		if err := f.dbClient.DBConnectionTest(request.Context()); err != nil {
			f.logger.ErrorContext(request.Context(), "database health check failed", "error", err)
			healthy = false
		}
	}

	if healthy {
		writer.WriteHeader(http.StatusOK)
		healthStatus = 1.0
	} else {
		writer.WriteHeader(http.StatusInternalServerError)
		healthStatus = 0.0
	}

	f.metrics.EmitGauge("frontend_health", healthStatus, map[string]string{
		"endpoint": "/healthz/ready",
	})
}
