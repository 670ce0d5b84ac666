package api

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"bytes"
	"encoding/json"
	"time"
)

// JobRequest is the payload accepted by POST /jobs. Unknown keys are
// rejected at the boundary.
type JobRequest struct {
	TenantName     string            `json:"tenant_name"     validate:"required"`
	Customer       string            `json:"customer"        validate:"omitempty"`
	TargetRegions  []string          `json:"target_regions"  validate:"omitempty,dive,min=1"`
	Credentials    map[string]string `json:"credentials"     validate:"omitempty"`
	LicenseKey     string            `json:"license_key"     validate:"omitempty"`
	Rulesets       []string          `json:"rulesets"        validate:"omitempty,dive,min=1"`
	RulesToScan    []string          `json:"rules_to_scan"   validate:"omitempty,dive,min=1"`
	TimeoutMinutes float64           `json:"timeout_minutes" validate:"omitempty,gt=0"`
	ApplicationID  string            `json:"application_id"  validate:"omitempty"`
}

// RulesetNames parses the serialized ruleset references of the request.
func (r *JobRequest) RulesetNames() []RulesetName {
	names := make([]RulesetName, 0, len(r.Rulesets))
	for _, s := range r.Rulesets {
		names = append(names, ParseRulesetName(s))
	}
	return names
}

// RulesetCreateRequest is the payload accepted by POST /rulesets.
type RulesetCreateRequest struct {
	Customer        string   `json:"customer"         validate:"omitempty"`
	Name            string   `json:"name"             validate:"required"`
	Version         string   `json:"version"          validate:"omitempty"`
	Cloud           string   `json:"cloud"            validate:"required,cloud"`
	RuleSourceID    string   `json:"rule_source_id"   validate:"omitempty"`
	Rules           []string `json:"rules"            validate:"omitempty,dive,min=1"`
	ExcludedRules   []string `json:"excluded_rules"   validate:"omitempty,dive,min=1"`
	Platforms       []string `json:"platforms"        validate:"omitempty,dive,min=1"`
	Categories      []string `json:"categories"       validate:"omitempty,dive,min=1"`
	ServiceSections []string `json:"service_sections" validate:"omitempty,dive,min=1"`
	Sources         []string `json:"sources"          validate:"omitempty,dive,min=1"`
	GitProjectID    string   `json:"git_project_id"   validate:"omitempty"`
	GitRef          string   `json:"git_ref"          validate:"omitempty"`
}

// RulesetUpdateRequest is the payload accepted by PATCH /rulesets.
type RulesetUpdateRequest struct {
	Customer      string   `json:"customer"        validate:"omitempty"`
	Name          string   `json:"name"            validate:"required"`
	Version       string   `json:"version"         validate:"omitempty"`
	NewVersion    string   `json:"new_version"     validate:"omitempty"`
	RulesToAttach []string `json:"rules_to_attach" validate:"omitempty,dive,min=1"`
	RulesToDetach []string `json:"rules_to_detach" validate:"omitempty,dive,min=1"`
	Force         bool     `json:"force"`
}

// RulesetDeleteRequest is the payload accepted by DELETE /rulesets.
type RulesetDeleteRequest struct {
	Customer    string `json:"customer" validate:"omitempty"`
	Name        string `json:"name"     validate:"required"`
	Version     string `json:"version"  validate:"omitempty"`
	AllVersions bool   `json:"all_versions"`
}

// RulesetReleaseRequest selects rulesets for release to the License Manager.
type RulesetReleaseRequest struct {
	Customer    string   `json:"customer"     validate:"omitempty"`
	Names       []string `json:"names"        validate:"required,min=1,dive,min=1"`
	Version     string   `json:"version"      validate:"omitempty"`
	DisplayName string   `json:"display_name" validate:"omitempty"`
	Description string   `json:"description"  validate:"omitempty"`
}

// ScheduledJobRequest is the payload accepted by POST /jobs/scheduled.
type ScheduledJobRequest struct {
	Name          string   `json:"name"           validate:"required"`
	Customer      string   `json:"customer"       validate:"omitempty"`
	TenantName    string   `json:"tenant_name"    validate:"required"`
	Schedule      string   `json:"schedule"       validate:"required"`
	Description   string   `json:"description"    validate:"omitempty"`
	TargetRegions []string `json:"target_regions" validate:"omitempty,dive,min=1"`
	Rulesets      []string `json:"rulesets"       validate:"omitempty,dive,min=1"`
	LicenseKey    string   `json:"license_key"    validate:"omitempty"`
}

// ScheduledJobPatchRequest toggles or reshapes an existing definition.
type ScheduledJobPatchRequest struct {
	Enabled     *bool   `json:"enabled"     validate:"omitempty"`
	Schedule    *string `json:"schedule"    validate:"omitempty,min=1"`
	Description *string `json:"description" validate:"omitempty"`
}

// EventDrivenRulesetRequest publishes one event-driven ruleset version.
type EventDrivenRulesetRequest struct {
	Cloud   string   `json:"cloud"   validate:"required,cloud"`
	Version string   `json:"version" validate:"required"`
	Rules   []string `json:"rules"   validate:"required,min=1,dive,min=1"`
}

// ExceptionRequest registers a resource exception. Exactly one
// identification mode must be set: arn, the (resource_id, resource_type,
// location) triple, or tags_filters.
type ExceptionRequest struct {
	Customer     string    `json:"customer"       validate:"omitempty"`
	TenantName   string    `json:"tenant_name"    validate:"omitempty"`
	ARN          string    `json:"arn"            validate:"omitempty"`
	ResourceID   string    `json:"resource_id"    validate:"omitempty"`
	ResourceType string    `json:"resource_type"  validate:"omitempty"`
	Location     string    `json:"location"       validate:"omitempty"`
	TagsFilters  []string  `json:"tags_filters"   validate:"omitempty,dive,contains=="`
	Reason       string    `json:"reason"         validate:"omitempty"`
	ExpireAt     time.Time `json:"expire_at"      validate:"required"`
}

// IdentificationModes counts the identification modes set on the request.
func (r *ExceptionRequest) IdentificationModes() int {
	modes := 0
	if r.ARN != "" {
		modes++
	}
	if r.ResourceID != "" || r.ResourceType != "" || r.Location != "" {
		modes++
	}
	if len(r.TagsFilters) > 0 {
		modes++
	}
	return modes
}

// EventSubmitRequest ingests a batch of raw audit events.
type EventSubmitRequest struct {
	Vendor string           `json:"vendor" validate:"required,oneof=AWS MAESTRO"`
	Events []map[string]any `json:"events" validate:"required,min=1"`
}

// DecodeStrict unmarshals JSON into dst rejecting unknown keys.
func DecodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
