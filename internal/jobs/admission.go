package jobs

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/api/rest"
	"github.com/cloudcustos/ruleengine/internal/database"
	"github.com/cloudcustos/ruleengine/internal/executor"
	"github.com/cloudcustos/ruleengine/internal/licenses"
	"github.com/cloudcustos/ruleengine/internal/metrics"
	"github.com/cloudcustos/ruleengine/internal/rules"
	"github.com/cloudcustos/ruleengine/internal/secrets"
)

// credentialsTTL bounds how long submitted job credentials stay in the
// secret store. The executor reads them once.
const credentialsTTL = 1800 * time.Second

// terminatedByUserReason is recorded on jobs stopped via the API.
const terminatedByUserReason = "Initiated by user. The job was terminated before completion."

// PermissionClient is the LM surface admission needs.
type PermissionClient interface {
	CheckPermission(ctx context.Context, customer, tenant, tenantLicenseKey string) (bool, error)
}

// Caller identifies the authenticated principal submitting a request.
// An empty AllowedTenants slice means every tenant of the customer.
type Caller struct {
	Customer       string
	AllowedTenants []string
}

// Allows reports whether the caller may act on the tenant.
func (c Caller) Allows(tenant *database.TenantDocument) bool {
	if c.Customer != "" && c.Customer != tenant.Customer {
		return false
	}
	return len(c.AllowedTenants) == 0 || slices.Contains(c.AllowedTenants, tenant.Name)
}

// Config carries the deployment constants baked into every executor
// environment.
type Config struct {
	RulesetsBucket     string
	ReportsBucket      string
	AWSRegion          string
	JobLifetimeMinutes int
	LogLevel           string
	MinCoreVersion     string
	CurrentCoreVersion string
	// DeploymentAccount is our own AWS account; self-events and
	// self-scans are filtered against it.
	DeploymentAccount string
	// JobTTL expires job rows; zero disables the TTL attribute.
	JobTTL time.Duration
}

// Service admits, dispatches and terminates scan jobs.
type Service struct {
	dbClient database.DBClient
	lock     *database.LockClient
	secrets  secrets.Store
	executor executor.Executor
	lm       PermissionClient
	view     *licenses.View
	emitter  metrics.Emitter
	logger   *slog.Logger
	cfg      Config

	newTimestamp func() time.Time
	newID        func() string
	// resolveAWSAccount calls STS GetCallerIdentity with the submitted
	// credentials; split out for testing.
	resolveAWSAccount AWSAccountResolver
}

func NewService(dbClient database.DBClient, secretStore secrets.Store, exec executor.Executor, lm PermissionClient, emitter metrics.Emitter, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		dbClient:          dbClient,
		lock:              database.NewLockClient(dbClient),
		secrets:           secretStore,
		executor:          exec,
		lm:                lm,
		view:              licenses.NewView(dbClient),
		emitter:           emitter,
		logger:            logger,
		cfg:               cfg,
		newTimestamp:      func() time.Time { return time.Now().UTC() },
		newID:             uuid.NewString,
		resolveAWSAccount: ResolveAWSAccount,
	}
}

// Submit runs the admission chain and dispatches the job. The returned
// document has status PENDING and carries the executor's job id.
func (s *Service) Submit(ctx context.Context, caller Caller, req *api.JobRequest) (*database.JobDocument, error) {
	return s.submit(ctx, caller, req, api.JobTypeStandard)
}

func (s *Service) submit(ctx context.Context, caller Caller, req *api.JobRequest, jobType api.JobType) (*database.JobDocument, error) {
	tenant, err := s.dbClient.GetTenant(ctx, req.TenantName)
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
	if !slices.Contains(api.Clouds(), tenant.Cloud) {
		return nil, rest.NewBadRequestError("tenant_name", "unsupported cloud %q", tenant.Cloud)
	}

	regions, err := ResolveRegions(tenant, req.TargetRegions)
	if err != nil {
		return nil, err
	}

	jobID := s.newID()
	lockRegions, lockPlatforms := lockScope(tenant, regions)
	if err := s.lock.Acquire(ctx, tenant.Name, jobID, lockRegions, lockPlatforms); err != nil {
		var conflict *database.LockConflictError
		if errors.As(err, &conflict) {
			return nil, rest.NewForbiddenError("target_regions",
				"requested scope is locked by job %s", conflict.BlockerJobID)
		}
		return nil, err
	}
	released := false
	releaseLock := func() {
		if !released {
			released = true
			if err := s.lock.Release(ctx, tenant.Name, jobID); err != nil {
				s.logger.ErrorContext(ctx, "failed to release job lock",
					"tenant", tenant.Name, "job_id", jobID, "error", err)
			}
		}
	}
	defer releaseLock()

	credentialsKey, err := s.storeCredentials(ctx, tenant, jobID, req.Credentials)
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolveRulesets(ctx, tenant, req.LicenseKey, req.RulesetNames())
	if err != nil {
		return nil, err
	}

	rulesToScan, err := resolveRulesToScan(resolved.ruleUnion, req.RulesToScan)
	if err != nil {
		return nil, err
	}

	var affectedLicense, tenantLicenseKey string
	if resolved.license != nil {
		affectedLicense = resolved.license.LicenseKey
		tenantLicenseKey = licenses.TenantLicenseKey(resolved.license, tenant.Customer)
		allowed, err := s.lm.CheckPermission(ctx, tenant.Customer, tenant.Name, tenantLicenseKey)
		if errors.Is(err, licenses.ErrUnavailable) {
			return nil, rest.NewServiceUnavailableError("", "license manager is unavailable")
		}
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, rest.NewForbiddenError("license_key",
				"license %s does not permit execution on tenant %q", affectedLicense, tenant.Name)
		}
	}

	now := s.newTimestamp()
	job := &database.JobDocument{
		ID:              jobID,
		TenantName:      tenant.Name,
		Customer:        tenant.Customer,
		Regions:         regions,
		Rulesets:        serializeRulesets(resolved.names),
		RulesToScan:     rulesToScan,
		Status:          api.JobStatusPending,
		SubmittedAt:     now,
		CredentialsKey:  credentialsKey,
		AffectedLicense: affectedLicense,
	}
	if tenant.Cloud == api.CloudKubernetes {
		job.PlatformID = tenant.Project
	}
	if s.cfg.JobTTL > 0 {
		job.TTL = now.Add(s.cfg.JobTTL).Unix()
	}
	if err := s.dbClient.SetJob(ctx, job); err != nil {
		return nil, err
	}

	env := s.buildEnv(job, tenant, tenantLicenseKey, jobType)
	timeout := s.cfg.JobLifetimeMinutes
	if req.TimeoutMinutes > 0 {
		timeout = int(req.TimeoutMinutes)
	}
	env["BATCH_JOB_LIFETIME_MINUTES"] = fmt.Sprintf("%d", timeout)

	batchJobID, err := s.executor.Submit(ctx, executor.Submission{
		Name: fmt.Sprintf("custodian-%s-%s", tenant.Name, jobID),
		Env:  env,
	})
	if err != nil {
		job.Status = api.JobStatusFailed
		job.Reason = fmt.Sprintf("executor submission failed: %v", err)
		if setErr := s.dbClient.SetJob(ctx, job); setErr != nil {
			s.logger.ErrorContext(ctx, "failed to record submission failure",
				"job_id", jobID, "error", setErr)
		}
		return nil, rest.NewServiceUnavailableError("", "executor rejected the job")
	}

	job.BatchJobID = batchJobID
	if err := s.dbClient.SetJob(ctx, job); err != nil {
		return nil, err
	}

	// The lock outlives the request; the reconciler releases it when
	// the job reaches a terminal state.
	released = true

	s.emitter.AddCounter("jobs_submitted_total", 1, map[string]string{
		"cloud": string(tenant.Cloud),
		"type":  string(jobType),
	})
	s.logger.InfoContext(ctx, "job admitted",
		"job_id", jobID,
		"tenant", tenant.Name,
		"regions", strings.Join(regions, ","),
		"rulesets", strings.Join(job.Rulesets, ","))
	return job, nil
}

// Terminate stops a non-terminal job and frees its lock.
func (s *Service) Terminate(ctx context.Context, caller Caller, jobID string) (*database.JobDocument, error) {
	job, err := s.dbClient.GetJob(ctx, jobID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, rest.NewNotFoundError("id", "job %q not found", jobID)
	}
	if err != nil {
		return nil, err
	}

	tenant, err := s.dbClient.GetTenant(ctx, job.TenantName)
	if err == nil && !caller.Allows(tenant) {
		return nil, rest.NewForbiddenError("id", "job %q is not accessible", jobID)
	}

	if job.Status.IsTerminal() {
		return nil, rest.NewBadRequestError("id", "job %q already finished with status %s", jobID, job.Status)
	}

	if job.BatchJobID != "" {
		if err := s.executor.Terminate(ctx, job.BatchJobID, terminatedByUserReason); err != nil {
			return nil, fmt.Errorf("terminating executor job %s: %w", job.BatchJobID, err)
		}
	}

	job.Status = api.JobStatusFailed
	job.Reason = terminatedByUserReason
	job.StoppedAt = s.newTimestamp()
	if err := s.dbClient.SetJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.lock.Release(ctx, job.TenantName, job.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to release lock on termination",
			"job_id", job.ID, "error", err)
	}
	return job, nil
}

// Get returns a job the caller may see.
func (s *Service) Get(ctx context.Context, caller Caller, jobID string) (*database.JobDocument, error) {
	job, err := s.dbClient.GetJob(ctx, jobID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, rest.NewNotFoundError("id", "job %q not found", jobID)
	}
	if err != nil {
		return nil, err
	}
	tenant, err := s.dbClient.GetTenant(ctx, job.TenantName)
	if err == nil && !caller.Allows(tenant) {
		return nil, rest.NewNotFoundError("id", "job %q not found", jobID)
	}
	return job, nil
}

// ResolveRegions applies the per-cloud region rules: Azure and GCP scan
// global scope only; AWS and Kubernetes intersect the request with the
// tenant's active regions.
func ResolveRegions(tenant *database.TenantDocument, requested []string) ([]string, error) {
	switch tenant.Cloud {
	case api.CloudAzure, api.CloudGoogle:
		return []string{api.GlobalRegion}, nil
	}

	if len(requested) == 0 {
		return slices.Clone(tenant.ActiveRegions), nil
	}
	missing, _ := lo.Difference(requested, tenant.ActiveRegions)
	if len(missing) > 0 {
		return nil, rest.NewBadRequestError("target_regions",
			"regions not active for tenant: %s", strings.Join(missing, ", "))
	}
	return slices.Clone(requested), nil
}

// lockScope claims regions for region-scanned clouds and the platform
// id for Kubernetes.
func lockScope(tenant *database.TenantDocument, regions []string) (lockRegions, lockPlatforms []string) {
	if tenant.Cloud == api.CloudKubernetes {
		return nil, []string{tenant.Project}
	}
	return regions, nil
}

// storeCredentials verifies submitted credentials against the tenant's
// cloud identifier and parks them in the secret store under a TTL.
func (s *Service) storeCredentials(ctx context.Context, tenant *database.TenantDocument, jobID string, credentials map[string]string) (string, error) {
	if len(credentials) == 0 {
		return "", nil
	}

	switch tenant.Cloud {
	case api.CloudAWS:
		account, err := s.resolveAWSAccount(ctx, credentials)
		if err != nil {
			return "", rest.NewBadRequestError("credentials", "credentials rejected: %v", err)
		}
		if account != tenant.Project {
			return "", rest.NewForbiddenError("credentials",
				"credentials belong to account %s, tenant is bound to %s", account, tenant.Project)
		}
	case api.CloudGoogle:
		if credentials["project_id"] != tenant.Project {
			return "", rest.NewForbiddenError("credentials",
				"credentials belong to project %s, tenant is bound to %s", credentials["project_id"], tenant.Project)
		}
	}

	key := fmt.Sprintf("jobs/%s/credentials", jobID)
	value := make(map[string]any, len(credentials))
	for k, v := range credentials {
		value[k] = v
	}
	if err := s.secrets.Put(ctx, key, value, credentialsTTL); err != nil {
		return "", fmt.Errorf("storing job credentials: %w", err)
	}
	return key, nil
}

// resolveRulesToScan intersects the requested rule fragments with the
// union of rules in the resolved rulesets.
func resolveRulesToScan(ruleUnion, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, nil
	}
	resolved, unresolved := rules.ResolveStrict(ruleUnion, requested)
	if len(unresolved) > 0 {
		msg := fmt.Sprintf("cannot resolve rule %q", unresolved[0].Input)
		if unresolved[0].Suggestion != "" {
			msg += fmt.Sprintf(", did you mean %q", unresolved[0].Suggestion)
		}
		return nil, rest.NewBadRequestError("rules_to_scan", "%s", msg)
	}
	sort.Strings(resolved)
	return slices.Compact(resolved), nil
}

func serializeRulesets(names []api.RulesetName) []string {
	serialized := make([]string, 0, len(names))
	for _, name := range names {
		serialized = append(serialized, name.String())
	}
	return serialized
}

// buildEnv renders the executor environment for a standard or scheduled job.
func (s *Service) buildEnv(job *database.JobDocument, tenant *database.TenantDocument, tenantLicenseKey string, jobType api.JobType) map[string]string {
	env := map[string]string{
		"CUSTODIAN_JOB_ID":     job.ID,
		"JOB_TYPE":             string(jobType),
		"SUBMITTED_AT":         job.SubmittedAt.UTC().Format(time.RFC3339),
		"SYSTEM_CUSTOMER_NAME": api.SystemCustomer,
		"RULESETS":             strings.Join(job.Rulesets, ","),
		"RULESETS_BUCKET_NAME": s.cfg.RulesetsBucket,
		"REPORTS_BUCKET_NAME":  s.cfg.ReportsBucket,
		"AWS_REGION":           s.cfg.AWSRegion,
		"BATCH_JOB_LOG_LEVEL":  s.cfg.LogLevel,
		"MIN_CORE_VERSION":     s.cfg.MinCoreVersion,
		"CURRENT_CORE_VERSION": s.cfg.CurrentCoreVersion,
	}
	if tenant.Cloud == api.CloudAWS {
		env["TARGET_REGIONS"] = strings.Join(job.Regions, ",")
	}
	if tenantLicenseKey != "" {
		env["AFFECTED_LICENSES"] = tenantLicenseKey
	}
	if job.CredentialsKey != "" {
		env["CREDENTIALS_KEY"] = job.CredentialsKey
	}
	if job.PlatformID != "" {
		env["PLATFORM_ID"] = job.PlatformID
	}
	return env
}
