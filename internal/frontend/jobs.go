package frontend

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/tracing"
)

func (f *Frontend) JobCreate(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	c, ok := caller(writer, request)
	if !ok {
		return
	}

	var req api.JobRequest
	if !readRequest(writer, request, &req) {
		return
	}

	job, err := f.jobs.Submit(ctx, c, &req)
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	tracing.SetJobAttributes(trace.SpanFromContext(ctx), job)
	writeJSONResponse(writer, http.StatusCreated, job)
}

func (f *Frontend) JobGet(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	c, ok := caller(writer, request)
	if !ok {
		return
	}

	job, err := f.jobs.Get(ctx, c, request.PathValue("id"))
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	tracing.SetJobAttributes(trace.SpanFromContext(ctx), job)
	writeJSONResponse(writer, http.StatusOK, job)
}

func (f *Frontend) JobTerminate(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	c, ok := caller(writer, request)
	if !ok {
		return
	}

	job, err := f.jobs.Terminate(ctx, c, request.PathValue("id"))
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writeJSONResponse(writer, http.StatusOK, job)
}

func (f *Frontend) ScheduledJobCreate(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	c, ok := caller(writer, request)
	if !ok {
		return
	}

	var req api.ScheduledJobRequest
	if !readRequest(writer, request, &req) {
		return
	}

	doc, err := f.scheduled.Create(ctx, c, &req)
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writeJSONResponse(writer, http.StatusCreated, doc)
}

func (f *Frontend) ScheduledJobList(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	c, ok := caller(writer, request)
	if !ok {
		return
	}

	customer := request.URL.Query().Get("customer")
	if c.Customer != "" {
		customer = c.Customer
	}

	docs, err := f.scheduled.List(ctx, c, customer, request.URL.Query().Get("tenant"))
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writeJSONResponse(writer, http.StatusOK, docs)
}

func (f *Frontend) ScheduledJobGet(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	c, ok := caller(writer, request)
	if !ok {
		return
	}

	doc, err := f.scheduled.Get(ctx, c, request.PathValue("customer"), request.PathValue("name"))
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writeJSONResponse(writer, http.StatusOK, doc)
}

func (f *Frontend) ScheduledJobPatch(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	c, ok := caller(writer, request)
	if !ok {
		return
	}

	var req api.ScheduledJobPatchRequest
	if !readRequest(writer, request, &req) {
		return
	}

	doc, err := f.scheduled.Patch(ctx, c, request.PathValue("customer"), request.PathValue("name"), &req)
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writeJSONResponse(writer, http.StatusOK, doc)
}

func (f *Frontend) ScheduledJobDelete(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	c, ok := caller(writer, request)
	if !ok {
		return
	}

	if err := f.scheduled.Delete(ctx, c, request.PathValue("customer"), request.PathValue("name")); err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writer.WriteHeader(http.StatusNoContent)
}
