package database

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"

	"github.com/cloudcustos/ruleengine/internal/api"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("DocumentNotFound")

// ErrThrottled is returned when the backing store rejects the request due
// to throughput exhaustion. Handlers map it to 429.
var ErrThrottled = errors.New("RequestThrottled")

// ErrPreconditionFailed is returned when an optimistic write loses a race.
var ErrPreconditionFailed = errors.New("PreconditionFailed")

// DBClient is the document store every component performs its CRUD
// operations against. ErrNotFound is returned wherever a requested
// document cannot be found.
type DBClient interface {
	// DBConnectionTest is used to health check the database. If the
	// database is not reachable or otherwise not ready to be used, an
	// error is returned.
	DBConnectionTest(ctx context.Context) error

	GetTenant(ctx context.Context, name string) (*TenantDocument, error)
	// GetTenantByProject resolves an active tenant by its cloud account
	// identifier. Used by the event assembler for AWS events.
	GetTenantByProject(ctx context.Context, cloud api.Cloud, project string) (*TenantDocument, error)
	SetTenant(ctx context.Context, doc *TenantDocument) error

	GetCustomer(ctx context.Context, name string) (*CustomerDocument, error)
	SetCustomer(ctx context.Context, doc *CustomerDocument) error
	SetUser(ctx context.Context, doc *UserDocument) error

	GetJob(ctx context.Context, id string) (*JobDocument, error)
	SetJob(ctx context.Context, doc *JobDocument) error
	// ListNonTerminalJobs feeds the status reconciler.
	ListNonTerminalJobs(ctx context.Context) ([]*JobDocument, error)

	GetScheduledJob(ctx context.Context, customer, name string) (*ScheduledJobDocument, error)
	SetScheduledJob(ctx context.Context, doc *ScheduledJobDocument) error
	DeleteScheduledJob(ctx context.Context, customer, name string) error
	ListScheduledJobs(ctx context.Context, customer, tenant string) ([]*ScheduledJobDocument, error)

	// GetRuleset retrieves a specific (customer, name, version) row.
	GetRuleset(ctx context.Context, customer, name, version string) (*RulesetDocument, error)
	// GetLatestRuleset retrieves the row with the highest SemVer version
	// for (customer, name).
	GetLatestRuleset(ctx context.Context, customer, name string) (*RulesetDocument, error)
	// GetRulesetByID resolves a licensed ruleset by its LM-issued id.
	GetRulesetByID(ctx context.Context, id string) (*RulesetDocument, error)
	ListRulesetVersions(ctx context.Context, customer, name string) ([]*RulesetDocument, error)
	ListEventDrivenRulesets(ctx context.Context, cloud api.Cloud) ([]*RulesetDocument, error)
	SetRuleset(ctx context.Context, doc *RulesetDocument) error
	DeleteRuleset(ctx context.Context, customer, name, version string) error
	// DeleteRulesetVersions removes every version of (customer, name).
	DeleteRulesetVersions(ctx context.Context, customer, name string) error

	// GetRule retrieves the latest version of a rule by name.
	GetRule(ctx context.Context, customer, name string) (*RuleDocument, error)
	ListRules(ctx context.Context, customer string, cloud api.Cloud) ([]*RuleDocument, error)
	ListRulesBySource(ctx context.Context, customer, sourceID string) ([]*RuleDocument, error)
	ListRulesByGitProject(ctx context.Context, customer, project, ref string) ([]*RuleDocument, error)
	SetRule(ctx context.Context, doc *RuleDocument) error

	GetRuleSource(ctx context.Context, customer, id string) (*RuleSourceDocument, error)
	SetRuleSource(ctx context.Context, doc *RuleSourceDocument) error

	GetLicense(ctx context.Context, key string) (*LicenseDocument, error)
	SetLicense(ctx context.Context, doc *LicenseDocument) error

	GetBatchResults(ctx context.Context, id string) (*BatchResultsDocument, error)
	SetBatchResults(ctx context.Context, doc *BatchResultsDocument) error

	// PutEvents appends a partitioned event record.
	PutEvents(ctx context.Context, doc *EventDocument) error
	// ListEventsSince range-queries one partition for records with
	// Timestamp strictly greater than since, in ascending order,
	// limited to limit records.
	ListEventsSince(ctx context.Context, partition int, since float64, limit int) ([]*EventDocument, error)
	// DeleteEventsUpTo removes records of one partition with
	// Timestamp less than or equal to upTo.
	DeleteEventsUpTo(ctx context.Context, partition int, upTo float64) error

	ListExceptions(ctx context.Context, customer, tenant string) ([]*ExceptionDocument, error)
	SetException(ctx context.Context, doc *ExceptionDocument) error

	GetSetting(ctx context.Context, name string) (*SettingDocument, error)
	SetSetting(ctx context.Context, doc *SettingDocument) error

	GetTenantSetting(ctx context.Context, tenant, key string) (*TenantSettingDocument, error)
	// SetTenantSetting performs an optimistic write: the stored revision
	// must equal doc.Revision-1 (or the document must not exist when
	// doc.Revision is 1). ErrPreconditionFailed is returned on a lost race.
	SetTenantSetting(ctx context.Context, doc *TenantSettingDocument) error
	DeleteTenantSetting(ctx context.Context, tenant, key string) error
}
