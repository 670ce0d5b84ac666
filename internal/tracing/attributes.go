package tracing

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cloudcustos/ruleengine/internal/database"
)

const (
	// CustomerKey is the span's attribute Key reporting the customer the
	// authenticated caller acts for.
	CustomerKey = attribute.Key("custos.customer")

	// TenantKey is the span's attribute Key reporting the tenant targeted
	// by the current request.
	TenantKey = attribute.Key("custos.tenant")

	// JobIDKey is the span's attribute Key reporting the scan job id.
	JobIDKey = attribute.Key("custos.job.id")

	// JobStatusKey is the span's attribute Key reporting the scan job
	// status.
	JobStatusKey = attribute.Key("custos.job.status")

	// BatchJobIDKey is the span's attribute Key reporting the executor-side
	// job id.
	BatchJobIDKey = attribute.Key("custos.batch.job.id")
)

// SetJobAttributes sets attributes on the span to identify the job.
func SetJobAttributes(span trace.Span, job *database.JobDocument) {
	if job == nil {
		return
	}
	setIfPresent(span, JobIDKey, job.ID)
	setIfPresent(span, TenantKey, job.TenantName)
	setIfPresent(span, CustomerKey, job.Customer)
	setIfPresent(span, JobStatusKey, string(job.Status))
	setIfPresent(span, BatchJobIDKey, job.BatchJobID)
}

func setIfPresent(span trace.Span, key attribute.Key, value string) {
	if value == "" {
		return
	}
	span.SetAttributes(key.String(value))
}
