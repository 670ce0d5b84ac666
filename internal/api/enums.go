package api

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"fmt"
	"strings"
)

// Cloud identifies the provider a tenant's inventory lives in.
type Cloud string

const (
	CloudAWS        Cloud = "AWS"
	CloudAzure      Cloud = "AZURE"
	CloudGoogle     Cloud = "GOOGLE"
	CloudKubernetes Cloud = "KUBERNETES"
)

// Clouds lists every recognized cloud.
func Clouds() []Cloud {
	return []Cloud{CloudAWS, CloudAzure, CloudGoogle, CloudKubernetes}
}

// ParseCloud accepts any casing; an unrecognized value returns an error.
func ParseCloud(s string) (Cloud, error) {
	switch Cloud(strings.ToUpper(s)) {
	case CloudAWS:
		return CloudAWS, nil
	case CloudAzure:
		return CloudAzure, nil
	case CloudGoogle:
		return CloudGoogle, nil
	case CloudKubernetes:
		return CloudKubernetes, nil
	}
	return "", fmt.Errorf("unsupported cloud: %q", s)
}

// RuleDomain returns the cloud token used inside rule names.
func (c Cloud) RuleDomain() string {
	switch c {
	case CloudAWS:
		return "aws"
	case CloudAzure:
		return "azure"
	case CloudGoogle:
		return "gcp"
	case CloudKubernetes:
		return "k8s"
	}
	return ""
}

// GlobalRegion is the pseudo-region used for clouds scanned per project
// rather than per region.
const GlobalRegion = "global"

// JobStatus models the executor-driven job lifecycle.
type JobStatus string

const (
	JobStatusSubmitted JobStatus = "SUBMITTED"
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunnable  JobStatus = "RUNNABLE"
	JobStatusStarting  JobStatus = "STARTING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusFailed || s == JobStatusSucceeded
}

// JobType distinguishes how a scan was initiated.
type JobType string

const (
	JobTypeStandard    JobType = "standard"
	JobTypeEventDriven JobType = "event-driven-multi-account"
	JobTypeScheduled   JobType = "scheduled"
)

// RuleSourceType identifies where rule content is synced from.
type RuleSourceType string

const (
	RuleSourceGithub        RuleSourceType = "GITHUB"
	RuleSourceGitlab        RuleSourceType = "GITLAB"
	RuleSourceGithubRelease RuleSourceType = "GITHUB_RELEASE"
)

// EventVendor partitions ingested audit events by their producer.
type EventVendor string

const (
	EventVendorAWS     EventVendor = "AWS"
	EventVendorMaestro EventVendor = "MAESTRO"
)

// PolicyErrorKind prefixes a shard part error string as "kind:message".
type PolicyErrorKind string

const (
	PolicyErrorAccess      PolicyErrorKind = "ACCESS"
	PolicyErrorCredentials PolicyErrorKind = "CREDENTIALS"
	PolicyErrorClient      PolicyErrorKind = "CLIENT"
	PolicyErrorSkipped     PolicyErrorKind = "SKIPPED"
	PolicyErrorInternal    PolicyErrorKind = "INTERNAL"
)

// SystemCustomer owns system-wide rulesets and licensed ruleset references.
const SystemCustomer = "SYSTEM"

// LicensesApplicationType is the tenant application type whose meta carries
// per-cloud license keys.
const LicensesApplicationType = "CUSTODIAN_LICENSES"

// JobLockSettingName keys the per-tenant job lock record in settings.
const JobLockSettingName = "CUSTODIAN_JOB_LOCK"

// EventCursorSettingName keys the event assembler cursor in settings.
const EventCursorSettingName = "eventCursor"

// MappingMetaSettingName keys the rule comment-index enumerations in
// settings.
const MappingMetaSettingName = "mappingsMeta"

// MetaReposSettingName keys the rule-metadata repository credentials in
// settings.
const MetaReposSettingName = "metaRepositories"
