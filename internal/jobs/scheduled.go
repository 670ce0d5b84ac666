package jobs

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/api/rest"
	"github.com/cloudcustos/ruleengine/internal/database"
	"github.com/cloudcustos/ruleengine/internal/scheduler"
)

// contextLicenseKey stores the resolved license on the definition so a
// firing run does not redo ambiguity resolution.
const contextLicenseKey = "license_key"

// ScheduledService manages cron-like scan definitions. Every operation
// requires a scheduler; deployment modes without one answer 501.
type ScheduledService struct {
	jobs     *Service
	registry *scheduler.Registry
	logger   *slog.Logger
}

func NewScheduledService(jobs *Service, registry *scheduler.Registry, logger *slog.Logger) *ScheduledService {
	return &ScheduledService{
		jobs:     jobs,
		registry: registry,
		logger:   logger,
	}
}

func (s *ScheduledService) available() error {
	if !s.registry.Available() {
		return rest.NewNotImplementedError("", "this deployment has no scheduler")
	}
	return nil
}

func taskName(customer, name string) string {
	return fmt.Sprintf("scheduled/%s/%s", customer, name)
}

func callerAllowsCustomer(caller Caller, customer string) bool {
	return caller.Customer == "" || caller.Customer == customer
}

// Create validates the definition the same way admission validates a
// submitted job, then persists it and attaches the cron task.
func (s *ScheduledService) Create(ctx context.Context, caller Caller, req *api.ScheduledJobRequest) (*database.ScheduledJobDocument, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	if _, err := cron.ParseStandard(req.Schedule); err != nil {
		return nil, rest.NewBadRequestError("schedule", "invalid cron expression %q: %v", req.Schedule, err)
	}

	tenant, err := s.jobs.dbClient.GetTenant(ctx, req.TenantName)
	if errors.Is(err, database.ErrNotFound) {
		return nil, rest.NewNotFoundError("tenant_name", "tenant %q not found", req.TenantName)
	}
	if err != nil {
		return nil, err
	}
	if !tenant.Active {
		return nil, rest.NewNotFoundError("tenant_name", "tenant %q is not active", req.TenantName)
	}
	if !caller.Allows(tenant) {
		return nil, rest.NewForbiddenError("tenant_name", "tenant %q is not accessible", req.TenantName)
	}

	if _, err := s.jobs.dbClient.GetScheduledJob(ctx, tenant.Customer, req.Name); err == nil {
		return nil, rest.NewConflictError("name",
			"scheduled job %q already exists for customer %s", req.Name, tenant.Customer)
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	// Resolution runs once, at definition time. A firing run reuses
	// the stored outcome.
	regions, err := ResolveRegions(tenant, req.TargetRegions)
	if err != nil {
		return nil, err
	}
	names := make([]api.RulesetName, 0, len(req.Rulesets))
	for _, raw := range req.Rulesets {
		names = append(names, api.ParseRulesetName(raw))
	}
	resolved, err := s.jobs.resolveRulesets(ctx, tenant, req.LicenseKey, names)
	if err != nil {
		return nil, err
	}

	doc := &database.ScheduledJobDocument{
		Name:        req.Name,
		Customer:    tenant.Customer,
		Tenant:      tenant.Name,
		Type:        database.ScheduledJobTypeStandard,
		Schedule:    req.Schedule,
		Description: req.Description,
		Meta: database.ScheduledJobMeta{
			Rulesets: serializeRulesets(resolved.names),
			Regions:  regions,
		},
		Enabled: true,
	}
	if resolved.license != nil {
		doc.Context = map[string]string{contextLicenseKey: resolved.license.LicenseKey}
	}
	if err := s.jobs.dbClient.SetScheduledJob(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.attach(doc); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "scheduled job created",
		"customer", doc.Customer, "name", doc.Name, "schedule", doc.Schedule)
	return doc, nil
}

// Patch toggles or reshapes an existing definition.
func (s *ScheduledService) Patch(ctx context.Context, caller Caller, customer, name string, req *api.ScheduledJobPatchRequest) (*database.ScheduledJobDocument, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	if !callerAllowsCustomer(caller, customer) {
		return nil, rest.NewForbiddenError("customer", "customer %q is not accessible", customer)
	}
	doc, err := s.jobs.dbClient.GetScheduledJob(ctx, customer, name)
	if errors.Is(err, database.ErrNotFound) {
		return nil, rest.NewNotFoundError("name", "scheduled job %q not found", name)
	}
	if err != nil {
		return nil, err
	}

	if req.Schedule != nil {
		if _, err := cron.ParseStandard(*req.Schedule); err != nil {
			return nil, rest.NewBadRequestError("schedule", "invalid cron expression %q: %v", *req.Schedule, err)
		}
		doc.Schedule = *req.Schedule
	}
	if req.Description != nil {
		doc.Description = *req.Description
	}
	if req.Enabled != nil {
		doc.Enabled = *req.Enabled
	}

	if err := s.jobs.dbClient.SetScheduledJob(ctx, doc); err != nil {
		return nil, err
	}
	if doc.Enabled {
		if err := s.attach(doc); err != nil {
			return nil, err
		}
	} else {
		s.registry.Unregister(taskName(customer, name))
	}
	return doc, nil
}

// Get returns one definition.
func (s *ScheduledService) Get(ctx context.Context, caller Caller, customer, name string) (*database.ScheduledJobDocument, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	if !callerAllowsCustomer(caller, customer) {
		return nil, rest.NewNotFoundError("name", "scheduled job %q not found", name)
	}
	doc, err := s.jobs.dbClient.GetScheduledJob(ctx, customer, name)
	if errors.Is(err, database.ErrNotFound) {
		return nil, rest.NewNotFoundError("name", "scheduled job %q not found", name)
	}
	return doc, err
}

// List returns the definitions of a customer, optionally narrowed to a
// tenant.
func (s *ScheduledService) List(ctx context.Context, caller Caller, customer, tenant string) ([]*database.ScheduledJobDocument, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	if !callerAllowsCustomer(caller, customer) {
		return nil, rest.NewForbiddenError("customer", "customer %q is not accessible", customer)
	}
	return s.jobs.dbClient.ListScheduledJobs(ctx, customer, tenant)
}

// Delete removes the definition and its cron task.
func (s *ScheduledService) Delete(ctx context.Context, caller Caller, customer, name string) error {
	if err := s.available(); err != nil {
		return err
	}
	if !callerAllowsCustomer(caller, customer) {
		return rest.NewForbiddenError("customer", "customer %q is not accessible", customer)
	}
	if _, err := s.jobs.dbClient.GetScheduledJob(ctx, customer, name); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return rest.NewNotFoundError("name", "scheduled job %q not found", name)
		}
		return err
	}
	if err := s.jobs.dbClient.DeleteScheduledJob(ctx, customer, name); err != nil {
		return err
	}
	s.registry.Unregister(taskName(customer, name))
	return nil
}

// Bootstrap re-attaches every enabled definition after a restart.
func (s *ScheduledService) Bootstrap(ctx context.Context) error {
	if !s.registry.Available() {
		return nil
	}
	docs, err := s.jobs.dbClient.ListScheduledJobs(ctx, "", "")
	if err != nil {
		return fmt.Errorf("listing scheduled jobs: %w", err)
	}
	for _, doc := range docs {
		if !doc.Enabled {
			continue
		}
		if err := s.attach(doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *ScheduledService) attach(doc *database.ScheduledJobDocument) error {
	customer, name := doc.Customer, doc.Name
	return s.registry.Register(taskName(customer, name), doc.Schedule, func(ctx context.Context) {
		s.run(ctx, customer, name)
	})
}

// run fires one occurrence. Failures are logged, never propagated: the
// next tick retries from scratch.
func (s *ScheduledService) run(ctx context.Context, customer, name string) {
	doc, err := s.jobs.dbClient.GetScheduledJob(ctx, customer, name)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled job vanished",
			"customer", customer, "name", name, "error", err)
		s.registry.Unregister(taskName(customer, name))
		return
	}
	if !doc.Enabled {
		return
	}

	req := &api.JobRequest{
		TenantName:    doc.Tenant,
		TargetRegions: doc.Meta.Regions,
		Rulesets:      doc.Meta.Rulesets,
		LicenseKey:    doc.Context[contextLicenseKey],
	}
	job, err := s.jobs.submit(ctx, Caller{Customer: customer}, req, api.JobTypeScheduled)
	if err != nil {
		s.logger.WarnContext(ctx, "scheduled run skipped",
			"customer", customer, "name", name, "error", err)
		return
	}

	doc.LastRun = s.jobs.newTimestamp()
	if err := s.jobs.dbClient.SetScheduledJob(ctx, doc); err != nil {
		s.logger.ErrorContext(ctx, "failed to record scheduled run",
			"customer", customer, "name", name, "error", err)
	}
	s.logger.InfoContext(ctx, "scheduled run submitted",
		"customer", customer, "name", name, "job_id", job.ID,
		"rulesets", strings.Join(job.Rulesets, ","))
}
