package database

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudcustos/ruleengine/internal/api"
)

// TenantApplication is an add-on activated for a tenant's customer. The
// CUSTODIAN_LICENSES application's meta maps cloud to license key.
type TenantApplication struct {
	Type   string            `json:"type"             dynamodbav:"t"`
	Status string            `json:"status"           dynamodbav:"s"`
	Meta   map[string]string `json:"meta,omitempty"   dynamodbav:"m,omitempty"`
}

const ApplicationStatusActive = "ACTIVE"

// TenantDocument represents a registered cloud account.
type TenantDocument struct {
	Name          string              `json:"name"                     dynamodbav:"n"`
	DisplayName   string              `json:"display_name,omitempty"   dynamodbav:"dn,omitempty"`
	Customer      string              `json:"customer"                 dynamodbav:"cust"`
	Cloud         api.Cloud           `json:"cloud"                    dynamodbav:"c"`
	Project       string              `json:"project"                  dynamodbav:"acc"`
	ActiveRegions []string            `json:"active_regions,omitempty" dynamodbav:"regions,omitempty"`
	Active        bool                `json:"active"                   dynamodbav:"act"`
	Applications  []TenantApplication `json:"applications,omitempty"   dynamodbav:"apps,omitempty"`
	ActivatedAt   time.Time           `json:"activated_at,omitzero"    dynamodbav:"ad,unixtime,omitempty"`
}

// CustomerDocument represents an organization owning tenants.
type CustomerDocument struct {
	Name        string   `json:"name"                   dynamodbav:"n"`
	DisplayName string   `json:"display_name,omitempty" dynamodbav:"dn,omitempty"`
	Admins      []string `json:"admins,omitempty"       dynamodbav:"adm,omitempty"`
}

// UserDocument represents an API user. Only the bootstrap path writes these.
type UserDocument struct {
	Username     string    `json:"username"             dynamodbav:"u"`
	Customer     string    `json:"customer"             dynamodbav:"cust"`
	Role         string    `json:"role"                 dynamodbav:"r"`
	PasswordHash string    `json:"-"                    dynamodbav:"ph"`
	CreatedAt    time.Time `json:"created_at,omitzero"  dynamodbav:"ca,unixtime,omitempty"`
}

// JobDocument represents one scan job owned by exactly one tenant.
type JobDocument struct {
	ID              string        `json:"id"                         dynamodbav:"id"`
	TenantName      string        `json:"tenant_name"                dynamodbav:"tn"`
	Customer        string        `json:"customer"                   dynamodbav:"cust"`
	Regions         []string      `json:"regions,omitempty"          dynamodbav:"rg,omitempty"`
	Rulesets        []string      `json:"rulesets,omitempty"         dynamodbav:"rs,omitempty"`
	RulesToScan     []string      `json:"rules_to_scan,omitempty"    dynamodbav:"rts,omitempty"`
	Status          api.JobStatus `json:"status"                     dynamodbav:"st"`
	SubmittedAt     time.Time     `json:"submitted_at"               dynamodbav:"sa,unixtime"`
	StoppedAt       time.Time     `json:"stopped_at,omitzero"        dynamodbav:"pa,unixtime,omitempty"`
	BatchJobID      string        `json:"batch_job_id,omitempty"     dynamodbav:"bid,omitempty"`
	CredentialsKey  string        `json:"credentials_key,omitempty"  dynamodbav:"ck,omitempty"`
	AffectedLicense string        `json:"affected_license,omitempty" dynamodbav:"al,omitempty"`
	PlatformID      string        `json:"platform_id,omitempty"      dynamodbav:"pid,omitempty"`
	Reason          string        `json:"reason,omitempty"           dynamodbav:"rsn,omitempty"`
	TTL             int64         `json:"-"                          dynamodbav:"ttl,omitempty"`
}

// ScheduledJobDocument is a cron-like job definition bound to a tenant.
type ScheduledJobDocument struct {
	Name        string            `json:"name"                  dynamodbav:"n"`
	Customer    string            `json:"customer"              dynamodbav:"cust"`
	Tenant      string            `json:"tenant_name"           dynamodbav:"tn"`
	Type        string            `json:"type"                  dynamodbav:"tp"`
	Schedule    string            `json:"schedule"              dynamodbav:"sch"`
	Description string            `json:"description,omitempty" dynamodbav:"d,omitempty"`
	Meta        ScheduledJobMeta  `json:"meta"                  dynamodbav:"meta"`
	Enabled     bool              `json:"enabled"               dynamodbav:"e"`
	LastRun     time.Time         `json:"last_run,omitzero"     dynamodbav:"lr,unixtime,omitempty"`
	Context     map[string]string `json:"-"                     dynamodbav:"ctx,omitempty"`
}

const ScheduledJobTypeStandard = "STANDARD"

type ScheduledJobMeta struct {
	Rulesets []string `json:"rulesets,omitempty" dynamodbav:"rs,omitempty"`
	Regions  []string `json:"regions,omitempty"  dynamodbav:"rg,omitempty"`
}

// S3Path locates a blob.
type S3Path struct {
	Bucket string `json:"bucket" dynamodbav:"b"`
	Key    string `json:"key"    dynamodbav:"k"`
}

// RulesetDocument represents one version of a named policy bundle.
// For a fixed (customer, name) the cloud is immutable across versions and
// (customer, name, version) is unique. Licensed rulesets are owned by the
// SYSTEM customer.
type RulesetDocument struct {
	ID          string    `json:"id"                     dynamodbav:"id"`
	Customer    string    `json:"customer"               dynamodbav:"cust"`
	Name        string    `json:"name"                   dynamodbav:"n"`
	Version     string    `json:"version"                dynamodbav:"v"`
	Cloud       api.Cloud `json:"cloud"                  dynamodbav:"c"`
	Rules       []string  `json:"rules,omitempty"        dynamodbav:"r,omitempty"`
	Licensed    bool      `json:"licensed"               dynamodbav:"l"`
	EventDriven bool      `json:"event_driven"           dynamodbav:"ed"`
	Versions    []string  `json:"versions,omitempty"     dynamodbav:"vs,omitempty"`
	LicenseKeys []string  `json:"license_keys,omitempty" dynamodbav:"lk,omitempty"`
	S3Path      S3Path    `json:"s3_path"                dynamodbav:"s3"`
	Description string    `json:"description,omitempty"  dynamodbav:"d,omitempty"`
	CreatedAt   time.Time `json:"created_at"             dynamodbav:"ca,unixtime"`
}

// EmptyVersion marks rulesets that never resolved a version.
const EmptyVersion = "EMPTY"

// RuleEvents maps an audit event source to the event names that can change
// the resources a rule inspects.
type RuleEvents map[string][]string

// RuleDocument is a single policy with its metadata. The composite id is
// customer#cloud#name#version.
type RuleDocument struct {
	ID           string          `json:"id"                       dynamodbav:"id"`
	Customer     string          `json:"customer"                 dynamodbav:"cust"`
	Cloud        api.Cloud       `json:"cloud"                    dynamodbav:"c"`
	Name         string          `json:"name"                     dynamodbav:"n"`
	Version      string          `json:"version"                  dynamodbav:"v"`
	Resource     string          `json:"resource"                 dynamodbav:"res"`
	Description  string          `json:"description,omitempty"    dynamodbav:"d,omitempty"`
	Filters      json.RawMessage `json:"filters,omitempty"        dynamodbav:"f,omitempty"`
	Comment      string          `json:"comment,omitempty"        dynamodbav:"i,omitempty"`
	SourceID     string          `json:"rule_source_id,omitempty" dynamodbav:"src,omitempty"`
	Location     string          `json:"location,omitempty"       dynamodbav:"loc,omitempty"`
	CommitHash   string          `json:"commit_hash,omitempty"    dynamodbav:"ch,omitempty"`
	UpdatedDate  time.Time       `json:"updated_date,omitzero"    dynamodbav:"ud,unixtime,omitempty"`
	Severity     string          `json:"severity,omitempty"       dynamodbav:"sev,omitempty"`
	MitreTactics []string        `json:"mitre,omitempty"          dynamodbav:"mt,omitempty"`
	Events       RuleEvents      `json:"events,omitempty"         dynamodbav:"ev,omitempty"`
}

// RuleID builds the composite rule id.
func RuleID(customer string, cloud api.Cloud, name, version string) string {
	return strings.Join([]string{customer, string(cloud), name, version}, "#")
}

// Policy renders the rule as a scanner policy document.
func (r *RuleDocument) Policy() map[string]any {
	policy := map[string]any{
		"name":     r.Name,
		"resource": r.Resource,
	}
	if r.Description != "" {
		policy["description"] = r.Description
	}
	if len(r.Filters) > 0 {
		var filters any
		if err := json.Unmarshal(r.Filters, &filters); err == nil {
			policy["filters"] = filters
		}
	}
	if r.Comment != "" {
		policy["comment"] = r.Comment
	}
	return policy
}

// RuleSourceSync captures the outcome of the last rule source sync.
type RuleSourceSync struct {
	ReleaseTag string    `json:"release_tag,omitempty" dynamodbav:"rt,omitempty"`
	CommitHash string    `json:"commit_hash,omitempty" dynamodbav:"ch,omitempty"`
	SyncedAt   time.Time `json:"synced_at,omitzero"    dynamodbav:"sa,unixtime,omitempty"`
	Status     string    `json:"status,omitempty"      dynamodbav:"st,omitempty"`
}

// RuleSourceDocument represents a repository rules are synced from.
type RuleSourceDocument struct {
	ID           string             `json:"id"                      dynamodbav:"id"`
	Customer     string             `json:"customer"                dynamodbav:"cust"`
	Type         api.RuleSourceType `json:"type"                    dynamodbav:"t"`
	GitProjectID string             `json:"git_project_id,omitempty" dynamodbav:"gp,omitempty"`
	GitRef       string             `json:"git_ref,omitempty"       dynamodbav:"gr,omitempty"`
	LatestSync   RuleSourceSync     `json:"latest_sync"             dynamodbav:"ls"`
}

// LicenseCustomer is a license's per-customer grant.
type LicenseCustomer struct {
	TenantLicenseKey string   `json:"tenant_license_key"   dynamodbav:"tlk"`
	// Tenants limits the grant to the named tenants. Empty means every
	// tenant of the customer.
	Tenants []string `json:"tenants,omitempty" dynamodbav:"tn,omitempty"`
}

type LicenseEventDriven struct {
	Active bool `json:"active" dynamodbav:"a"`
}

// LicenseDocument is the cached replica of an LM-issued license.
type LicenseDocument struct {
	LicenseKey  string                     `json:"license_key"           dynamodbav:"lk"`
	Customers   map[string]LicenseCustomer `json:"customers"             dynamodbav:"cust"`
	RulesetIDs  []string                   `json:"ruleset_ids,omitempty" dynamodbav:"rs,omitempty"`
	EventDriven LicenseEventDriven         `json:"event_driven"          dynamodbav:"ed"`
	Expiration  time.Time                  `json:"expiration"            dynamodbav:"exp,unixtime"`
	LatestSync  time.Time                  `json:"latest_sync,omitzero"  dynamodbav:"sync,unixtime,omitempty"`
}

// BatchResultsDocument describes the event-driven scope (rules by region)
// a single batch job run must cover for one tenant. Created exactly once
// per (tenant, event batch). The Rules keys are either plain regions or
// CSV-joined region tuples when the map was compressed.
type BatchResultsDocument struct {
	ID                string              `json:"id"                 dynamodbav:"id"`
	TenantName        string              `json:"tenant_name"        dynamodbav:"tn"`
	Customer          string              `json:"customer"           dynamodbav:"cust"`
	CloudIdentifier   string              `json:"cloud_identifier"   dynamodbav:"cid"`
	Rules             map[string][]string `json:"rules"              dynamodbav:"r"`
	RegistrationStart float64             `json:"registration_start" dynamodbav:"rgs"`
	RegistrationEnd   float64             `json:"registration_end"   dynamodbav:"rge"`
	SubmittedAt       time.Time           `json:"submitted_at"       dynamodbav:"sa,unixtime"`
	Status            api.JobStatus       `json:"status"             dynamodbav:"st"`
	JobID             string              `json:"job_id,omitempty"   dynamodbav:"jid,omitempty"`
	TTL               int64               `json:"-"                  dynamodbav:"ttl,omitempty"`
}

// EventDocument is one partitioned audit event record. Partition is
// assigned randomly on creation; Timestamp is the insertion time as a
// float of epoch seconds.
type EventDocument struct {
	Partition int              `json:"partition" dynamodbav:"p"`
	Timestamp float64          `json:"timestamp" dynamodbav:"ts"`
	Vendor    api.EventVendor  `json:"vendor"    dynamodbav:"v"`
	Events    []map[string]any `json:"events"    dynamodbav:"e"`
	TTL       int64            `json:"-"         dynamodbav:"ttl,omitempty"`
}

// ExceptionDocument suppresses findings for an identified resource.
/// Exactly one identification mode is set: ARN, the
// (ResourceID, ResourceType, Location) triple, or TagsFilters. A tag
// filter matches when all listed key=value tags are present.
type ExceptionDocument struct {
	ID           string    `json:"id"                      dynamodbav:"id"`
	Customer     string    `json:"customer"                dynamodbav:"cust"`
	TenantName   string    `json:"tenant_name,omitempty"   dynamodbav:"tn,omitempty"`
	ARN          string    `json:"arn,omitempty"           dynamodbav:"arn,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"   dynamodbav:"rid,omitempty"`
	ResourceType string    `json:"resource_type,omitempty" dynamodbav:"rt,omitempty"`
	Location     string    `json:"location,omitempty"      dynamodbav:"loc,omitempty"`
	TagsFilters  []string  `json:"tags_filters,omitempty"  dynamodbav:"tf,omitempty"`
	Reason       string    `json:"reason,omitempty"        dynamodbav:"rsn,omitempty"`
	ExpireAt     time.Time `json:"expire_at"               dynamodbav:"exp,unixtime"`
}

// Expired reports whether the exception is past its expiry at now.
func (e *ExceptionDocument) Expired(now time.Time) bool {
	return now.After(e.ExpireAt)
}

// SettingDocument is a named global setting. Value is a JSON document.
type SettingDocument struct {
	Name  string          `json:"name"  dynamodbav:"n"`
	Value json.RawMessage `json:"value" dynamodbav:"v"`
}

// TenantSettingDocument is a per-tenant setting with an optimistic
// revision for read-modify-write updates (the job lock lives here).
type TenantSettingDocument struct {
	TenantName string          `json:"tenant_name" dynamodbav:"tn"`
	Key        string          `json:"key"         dynamodbav:"k"`
	Value      json.RawMessage `json:"value"       dynamodbav:"v"`
	Revision   int64           `json:"revision"    dynamodbav:"rev"`
}

// LicenseApplications yields the per-cloud license keys of a tenant's
// ACTIVE CUSTODIAN_LICENSES applications.
func (t *TenantDocument) LicenseApplications() map[string]string {
	keys := make(map[string]string)
	for _, app := range t.Applications {
		if app.Type != api.LicensesApplicationType || app.Status != ApplicationStatusActive {
			continue
		}
		for cloud, licenseKey := range app.Meta {
			keys[strings.ToUpper(cloud)] = licenseKey
		}
	}
	return keys
}

// RulesetID builds the row id for a standard ruleset version.
func RulesetID(customer, name, version string) string {
	return fmt.Sprintf("%s#%s#%s", customer, name, version)
}
