package rulesets

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/blang/semver/v4"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/api/rest"
	"github.com/cloudcustos/ruleengine/internal/blob"
	"github.com/cloudcustos/ruleengine/internal/database"
	"github.com/cloudcustos/ruleengine/internal/licenses"
	"github.com/cloudcustos/ruleengine/internal/rules"
)

// ReleaseClient is the LM surface the release path needs.
type ReleaseClient interface {
	PostRuleset(ctx context.Context, release licenses.RulesetRelease) error
}

// Bundle is the policy document a ruleset's S3 path resolves to.
type Bundle struct {
	Policies []map[string]any `json:"policies"`
}

// presignExpiry bounds how long an LM release download link stays valid.
const presignExpiry = time.Hour

// Service assembles, versions, releases and deletes rulesets.
type Service struct {
	dbClient     database.DBClient
	blobClient   blob.Client
	bucket       string
	lm           ReleaseClient
	logger       *slog.Logger
	newTimestamp func() time.Time
}

func NewService(dbClient database.DBClient, blobClient blob.Client, bucket string, lm ReleaseClient, logger *slog.Logger) *Service {
	return &Service{
		dbClient:     dbClient,
		blobClient:   blobClient,
		bucket:       bucket,
		lm:           lm,
		logger:       logger,
		newTimestamp: time.Now,
	}
}

func bundleKey(customer, name, version string) string {
	return fmt.Sprintf("standard/%s/%s/%s.json.gz", customer, name, version)
}

func defaultCustomer(customer string) string {
	if customer == "" {
		return api.SystemCustomer
	}
	return customer
}

// Create assembles a new ruleset version per the request.
func (s *Service) Create(ctx context.Context, req *api.RulesetCreateRequest) (*database.RulesetDocument, error) {
	customer := defaultCustomer(req.Customer)
	cloud, err := api.ParseCloud(req.Cloud)
	if err != nil {
		return nil, rest.NewBadRequestError("cloud", "%s", err)
	}

	version, err := s.resolveCreateVersion(ctx, customer, req)
	if err != nil {
		return nil, err
	}

	// Cloud is immutable across versions of a name.
	latest, err := s.dbClient.GetLatestRuleset(ctx, customer, req.Name)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	if latest != nil && latest.Cloud != cloud {
		return nil, rest.NewBadRequestError("cloud",
			"ruleset %q already exists for cloud %s", req.Name, latest.Cloud)
	}

	collected, err := s.collectRules(ctx, customer, cloud, req)
	if err != nil {
		return nil, err
	}
	collected = dedupeLatest(collected)

	if len(req.ExcludedRules) > 0 {
		collected, err = s.applyExclusions(collected, req.ExcludedRules)
		if err != nil {
			return nil, err
		}
	}

	filter := rules.MappingFilter{
		Platforms:       req.Platforms,
		Categories:      req.Categories,
		ServiceSections: req.ServiceSections,
		Sources:         req.Sources,
	}
	if !filter.Empty() {
		meta, err := s.mappingMeta(ctx)
		if err != nil {
			return nil, err
		}
		kept := collected[:0]
		for _, rule := range collected {
			if filter.Matches(meta, rule.Comment) {
				kept = append(kept, rule)
			}
		}
		collected = kept
	}

	if len(collected) == 0 {
		return nil, rest.NewBadRequestError("rules", "no rules matched the request")
	}

	return s.persist(ctx, customer, req.Name, version, cloud, collected, false)
}

// resolveCreateVersion implements the desired-version rules: explicit
// and unique, or inherited from a GITHUB_RELEASE source's SemVer tag.
func (s *Service) resolveCreateVersion(ctx context.Context, customer string, req *api.RulesetCreateRequest) (string, error) {
	version := req.Version
	if version == "" && req.RuleSourceID != "" {
		source, err := s.dbClient.GetRuleSource(ctx, customer, req.RuleSourceID)
		if errors.Is(err, database.ErrNotFound) {
			return "", rest.NewNotFoundError("rule_source_id", "rule source %q not found", req.RuleSourceID)
		}
		if err != nil {
			return "", err
		}
		if source.Type == api.RuleSourceGithubRelease {
			if _, err := semver.Parse(source.LatestSync.ReleaseTag); err == nil {
				version = source.LatestSync.ReleaseTag
			}
		}
	}
	if version == "" {
		return "", rest.NewBadRequestError("version", "cannot resolve version for ruleset %q", req.Name)
	}
	if _, err := semver.Parse(version); err != nil {
		return "", rest.NewBadRequestError("version", "version %q is not SemVer", version)
	}

	_, err := s.dbClient.GetRuleset(ctx, customer, req.Name, version)
	if err == nil {
		return "", rest.NewConflictError("version", "ruleset %q version %s already exists", req.Name, version)
	}
	if !errors.Is(err, database.ErrNotFound) {
		return "", err
	}
	return version, nil
}

// collectRules gathers candidates by the request's priority order:
// explicit names, rule source, git project/ref, everything for the
// (customer, cloud).
func (s *Service) collectRules(ctx context.Context, customer string, cloud api.Cloud, req *api.RulesetCreateRequest) ([]*database.RuleDocument, error) {
	switch {
	case len(req.Rules) > 0:
		collected := make([]*database.RuleDocument, 0, len(req.Rules))
		for _, name := range req.Rules {
			rule, err := s.dbClient.GetRule(ctx, customer, name)
			if errors.Is(err, database.ErrNotFound) {
				return nil, rest.NewNotFoundError("rules", "rule %q not found", name)
			}
			if err != nil {
				return nil, err
			}
			if rule.Cloud != cloud {
				return nil, rest.NewBadRequestError("rules",
					"rule %q belongs to cloud %s", name, rule.Cloud)
			}
			collected = append(collected, rule)
		}
		return collected, nil
	case req.RuleSourceID != "":
		return s.dbClient.ListRulesBySource(ctx, customer, req.RuleSourceID)
	case req.GitProjectID != "":
		return s.dbClient.ListRulesByGitProject(ctx, customer, req.GitProjectID, req.GitRef)
	default:
		return s.dbClient.ListRules(ctx, customer, cloud)
	}
}

// dedupeLatest keeps the highest version per rule name.
func dedupeLatest(candidates []*database.RuleDocument) []*database.RuleDocument {
	byName := make(map[string]*database.RuleDocument, len(candidates))
	for _, rule := range candidates {
		current, ok := byName[rule.Name]
		if !ok || ruleVersionLess(current.Version, rule.Version) {
			byName[rule.Name] = rule
		}
	}
	deduped := make([]*database.RuleDocument, 0, len(byName))
	for _, rule := range byName {
		deduped = append(deduped, rule)
	}
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].Name < deduped[j].Name })
	return deduped
}

func ruleVersionLess(a, b string) bool {
	va, errA := semver.Parse(a)
	vb, errB := semver.Parse(b)
	if errA != nil || errB != nil {
		return a < b
	}
	return va.LT(vb)
}

// applyExclusions drops rules named by the fuzzily resolved exclusion
// list. Unresolvable exclusions are rejected rather than ignored.
func (s *Service) applyExclusions(collected []*database.RuleDocument, excluded []string) ([]*database.RuleDocument, error) {
	names := make([]string, 0, len(collected))
	for _, rule := range collected {
		names = append(names, rule.Name)
	}
	resolved, unresolved := rules.ResolveStrict(names, excluded)
	if len(unresolved) > 0 {
		return nil, rest.NewBadRequestError("excluded_rules",
			"cannot resolve %q%s", unresolved[0].Input, suggestionHint(unresolved[0]))
	}

	drop := make(map[string]struct{}, len(resolved))
	for _, name := range resolved {
		drop[name] = struct{}{}
	}
	kept := collected[:0]
	for _, rule := range collected {
		if _, ok := drop[rule.Name]; !ok {
			kept = append(kept, rule)
		}
	}
	return kept, nil
}

func suggestionHint(r rules.Resolution) string {
	if r.Suggestion == "" {
		return ""
	}
	return fmt.Sprintf(", did you mean %q", r.Suggestion)
}

func (s *Service) mappingMeta(ctx context.Context) (rules.MappingMeta, error) {
	var meta rules.MappingMeta
	setting, err := s.dbClient.GetSetting(ctx, api.MappingMetaSettingName)
	if errors.Is(err, database.ErrNotFound) {
		return meta, nil
	}
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(setting.Value, &meta); err != nil {
		return meta, fmt.Errorf("decoding %s setting: %w", api.MappingMetaSettingName, err)
	}
	return meta, nil
}

// persist uploads the policy bundle and writes the ruleset row.
func (s *Service) persist(ctx context.Context, customer, name, version string, cloud api.Cloud, collected []*database.RuleDocument, eventDriven bool) (*database.RulesetDocument, error) {
	bundle := Bundle{Policies: make([]map[string]any, 0, len(collected))}
	ruleNames := make([]string, 0, len(collected))
	for _, rule := range collected {
		bundle.Policies = append(bundle.Policies, rule.Policy())
		ruleNames = append(ruleNames, rule.Name)
	}

	key := bundleKey(customer, name, version)
	if err := s.blobClient.PutGzipJSON(ctx, s.bucket, key, bundle); err != nil {
		return nil, fmt.Errorf("uploading bundle for %s@%s: %w", name, version, err)
	}

	doc := &database.RulesetDocument{
		ID:          database.RulesetID(customer, name, version),
		Customer:    customer,
		Name:        name,
		Version:     version,
		Cloud:       cloud,
		Rules:       ruleNames,
		EventDriven: eventDriven,
		S3Path:      database.S3Path{Bucket: s.bucket, Key: key},
		CreatedAt:   s.newTimestamp(),
	}
	if err := s.dbClient.SetRuleset(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "ruleset persisted",
		"customer", customer,
		"name", name,
		"version", version,
		"rules", len(ruleNames))
	return doc, nil
}

// Update derives a new version from an existing one by detaching,
// attaching and refreshing rules. A no-op delta is rejected unless
// forced: the content hash guards against accidental empty releases.
func (s *Service) Update(ctx context.Context, req *api.RulesetUpdateRequest) (*database.RulesetDocument, error) {
	customer := defaultCustomer(req.Customer)

	target, err := s.resolveTarget(ctx, customer, req.Name, req.Version)
	if err != nil {
		return nil, err
	}

	var bundle Bundle
	if err := s.blobClient.GetGzipJSON(ctx, target.S3Path.Bucket, target.S3Path.Key, &bundle); err != nil {
		return nil, fmt.Errorf("fetching bundle for %s@%s: %w", target.Name, target.Version, err)
	}
	policies := make(map[string]map[string]any, len(bundle.Policies))
	for _, policy := range bundle.Policies {
		name, _ := policy["name"].(string)
		policies[name] = policy
	}
	beforeHash, err := hashPolicies(policies)
	if err != nil {
		return nil, err
	}

	if len(req.RulesToDetach) > 0 {
		names := make([]string, 0, len(policies))
		for name := range policies {
			names = append(names, name)
		}
		resolved, unresolved := rules.ResolveStrict(names, req.RulesToDetach)
		if len(unresolved) > 0 {
			return nil, rest.NewBadRequestError("rules_to_detach",
				"cannot resolve %q%s", unresolved[0].Input, suggestionHint(unresolved[0]))
		}
		for _, name := range resolved {
			delete(policies, name)
		}
	}

	for _, name := range req.RulesToAttach {
		rule, err := s.dbClient.GetRule(ctx, customer, name)
		if errors.Is(err, database.ErrNotFound) {
			return nil, rest.NewNotFoundError("rules_to_attach", "rule %q not found", name)
		}
		if err != nil {
			return nil, err
		}
		if rule.Cloud != target.Cloud {
			return nil, rest.NewBadRequestError("rules_to_attach",
				"rule %q belongs to cloud %s", name, rule.Cloud)
		}
		policies[rule.Name] = rule.Policy()
	}

	// Refresh surviving policies against the current latest rules.
	refreshed := make([]*database.RuleDocument, 0, len(policies))
	for name := range policies {
		rule, err := s.dbClient.GetRule(ctx, customer, name)
		if errors.Is(err, database.ErrNotFound) {
			// The rule vanished since the bundle was built; keep the
			// policy as stored.
			continue
		}
		if err != nil {
			return nil, err
		}
		policies[name] = rule.Policy()
		refreshed = append(refreshed, rule)
	}

	afterHash, err := hashPolicies(policies)
	if err != nil {
		return nil, err
	}
	if beforeHash == afterHash && !req.Force {
		return nil, rest.NewConflictError("",
			"ruleset %q content is unchanged, use force to version anyway", req.Name)
	}

	if len(policies) == 0 {
		return nil, rest.NewBadRequestError("", "update would produce an empty ruleset")
	}

	newVersion, err := s.resolveNewVersion(ctx, customer, req.Name, target.Version, req.NewVersion)
	if err != nil {
		return nil, err
	}

	if len(refreshed) != len(policies) {
		// Policies kept verbatim need a carrier document.
		refreshed = refreshed[:0]
		for name, policy := range policies {
			refreshed = append(refreshed, policyCarrier(target, name, policy))
		}
	}
	sort.Slice(refreshed, func(i, j int) bool { return refreshed[i].Name < refreshed[j].Name })

	return s.persist(ctx, customer, req.Name, newVersion, target.Cloud, refreshed, target.EventDriven)
}

// policyCarrier wraps an already-rendered policy so persist can treat
// refreshed and carried-over entries uniformly.
func policyCarrier(target *database.RulesetDocument, name string, policy map[string]any) *database.RuleDocument {
	resource, _ := policy["resource"].(string)
	description, _ := policy["description"].(string)
	comment, _ := policy["comment"].(string)
	carrier := &database.RuleDocument{
		Customer:    target.Customer,
		Cloud:       target.Cloud,
		Name:        name,
		Resource:    resource,
		Description: description,
		Comment:     comment,
	}
	if filters, ok := policy["filters"]; ok {
		if raw, err := json.Marshal(filters); err == nil {
			carrier.Filters = raw
		}
	}
	return carrier
}

func (s *Service) resolveTarget(ctx context.Context, customer, name, version string) (*database.RulesetDocument, error) {
	var target *database.RulesetDocument
	var err error
	if version != "" {
		target, err = s.dbClient.GetRuleset(ctx, customer, name, version)
	} else {
		target, err = s.dbClient.GetLatestRuleset(ctx, customer, name)
	}
	if errors.Is(err, database.ErrNotFound) {
		return nil, rest.NewNotFoundError("name", "ruleset %q not found", name)
	}
	if err != nil {
		return nil, err
	}
	return target, nil
}

// resolveNewVersion bumps the minor of the target version unless an
// explicit new version is requested.
func (s *Service) resolveNewVersion(ctx context.Context, customer, name, targetVersion, explicit string) (string, error) {
	version := explicit
	if version == "" {
		parsed, err := semver.Parse(targetVersion)
		if err != nil {
			return "", rest.NewBadRequestError("version",
				"target version %q is not SemVer, specify new_version", targetVersion)
		}
		parsed.Minor++
		parsed.Patch = 0
		version = parsed.String()
	} else if _, err := semver.Parse(version); err != nil {
		return "", rest.NewBadRequestError("new_version", "version %q is not SemVer", version)
	}

	_, err := s.dbClient.GetRuleset(ctx, customer, name, version)
	if err == nil {
		return "", rest.NewConflictError("new_version",
			"ruleset %q version %s already exists", name, version)
	}
	if !errors.Is(err, database.ErrNotFound) {
		return "", err
	}
	return version, nil
}

// hashPolicies produces a content hash over the policy map: entries are
// stable-serialized in name order and each entry's digest feeds the
// total.
func hashPolicies(policies map[string]map[string]any) (string, error) {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)

	total := make([]byte, 0, len(names)*sha256.Size)
	for _, name := range names {
		serialized, err := canonicalJSON(policies[name])
		if err != nil {
			return "", fmt.Errorf("serializing policy %q: %w", name, err)
		}
		digest := sha256.Sum256(serialized)
		total = append(total, digest[:]...)
	}
	sum := sha256.Sum256(total)
	return hex.EncodeToString(sum[:]), nil
}

// Get resolves one ruleset version, or the latest.
func (s *Service) Get(ctx context.Context, customer, name, version string) (*database.RulesetDocument, error) {
	return s.resolveTarget(ctx, defaultCustomer(customer), name, version)
}

// List returns every version of a name, or every event-driven ruleset
// of a cloud.
func (s *Service) List(ctx context.Context, customer, name string) ([]*database.RulesetDocument, error) {
	return s.dbClient.ListRulesetVersions(ctx, defaultCustomer(customer), name)
}

// Delete removes one version, or every version of the name.
func (s *Service) Delete(ctx context.Context, req *api.RulesetDeleteRequest) error {
	customer := defaultCustomer(req.Customer)

	if req.AllVersions {
		versions, err := s.dbClient.ListRulesetVersions(ctx, customer, req.Name)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			return rest.NewNotFoundError("name", "ruleset %q not found", req.Name)
		}
		for _, doc := range versions {
			if err := s.blobClient.DeleteObject(ctx, doc.S3Path.Bucket, doc.S3Path.Key); err != nil {
				return fmt.Errorf("deleting bundle %s: %w", doc.S3Path.Key, err)
			}
		}
		return s.dbClient.DeleteRulesetVersions(ctx, customer, req.Name)
	}

	if req.Version == "" {
		return rest.NewBadRequestError("version", "specify version or all_versions")
	}
	doc, err := s.dbClient.GetRuleset(ctx, customer, req.Name, req.Version)
	if errors.Is(err, database.ErrNotFound) {
		return rest.NewNotFoundError("name", "ruleset %q version %s not found", req.Name, req.Version)
	}
	if err != nil {
		return err
	}
	if err := s.blobClient.DeleteObject(ctx, doc.S3Path.Bucket, doc.S3Path.Key); err != nil {
		return fmt.Errorf("deleting bundle %s: %w", doc.S3Path.Key, err)
	}
	return s.dbClient.DeleteRuleset(ctx, customer, req.Name, req.Version)
}

// ReleaseResult reports one ruleset's release outcome.
type ReleaseResult struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  int    `json:"status"`
	Detail  string `json:"detail,omitempty"`
}

// ReleaseReport aggregates per-ruleset release results. StatusCode is
// 201 iff every ruleset released, 207 otherwise.
type ReleaseReport struct {
	Results []ReleaseResult `json:"results"`
}

func (r ReleaseReport) StatusCode() int {
	for _, result := range r.Results {
		if result.Status != http.StatusCreated {
			return http.StatusMultiStatus
		}
	}
	return http.StatusCreated
}

// Release publishes the selected rulesets to LM. A failure on one
// ruleset does not fail the others.
func (s *Service) Release(ctx context.Context, req *api.RulesetReleaseRequest) (*ReleaseReport, error) {
	customer := defaultCustomer(req.Customer)
	report := &ReleaseReport{Results: make([]ReleaseResult, 0, len(req.Names))}

	for _, name := range req.Names {
		result := ReleaseResult{Name: name, Version: req.Version}
		doc, err := s.resolveTarget(ctx, customer, name, req.Version)
		if err != nil {
			result.Status, result.Detail = releaseFailure(err)
			report.Results = append(report.Results, result)
			continue
		}
		result.Version = doc.Version

		downloadURL, err := s.blobClient.PresignGet(ctx, doc.S3Path.Bucket, doc.S3Path.Key, presignExpiry)
		if err != nil {
			result.Status = http.StatusServiceUnavailable
			result.Detail = fmt.Sprintf("presigning bundle: %v", err)
			report.Results = append(report.Results, result)
			continue
		}

		displayName := req.DisplayName
		if displayName == "" {
			displayName = doc.Name
		}
		description := req.Description
		if description == "" {
			description = doc.Description
		}
		err = s.lm.PostRuleset(ctx, licenses.RulesetRelease{
			Name:        doc.Name,
			Version:     doc.Version,
			Cloud:       doc.Cloud,
			Description: description,
			DisplayName: displayName,
			DownloadURL: downloadURL,
			Rules:       doc.Rules,
		})
		if err != nil {
			result.Status, result.Detail = releaseFailure(err)
			s.logger.WarnContext(ctx, "ruleset release failed",
				"name", doc.Name, "version", doc.Version, "error", err)
		} else {
			result.Status = http.StatusCreated
		}
		report.Results = append(report.Results, result)
	}
	return report, nil
}

func releaseFailure(err error) (int, string) {
	if restErr, ok := rest.IsError(err); ok {
		return restErr.StatusCode, restErr.Message
	}
	if errors.Is(err, licenses.ErrUnavailable) {
		return http.StatusServiceUnavailable, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

// eventDrivenName derives the namespace name for a cloud's event-driven
// ruleset line.
func eventDrivenName(cloud api.Cloud) string {
	return "event-driven-" + cloud.RuleDomain()
}

// CreateEventDriven assembles an event-driven ruleset version for a
// cloud. Rules default to every SYSTEM rule of the cloud that carries
// event metadata.
func (s *Service) CreateEventDriven(ctx context.Context, cloud api.Cloud, version string, ruleNames []string) (*database.RulesetDocument, error) {
	name := eventDrivenName(cloud)
	req := &api.RulesetCreateRequest{
		Customer: api.SystemCustomer,
		Name:     name,
		Version:  version,
		Cloud:    string(cloud),
		Rules:    ruleNames,
	}
	resolvedVersion, err := s.resolveCreateVersion(ctx, api.SystemCustomer, req)
	if err != nil {
		return nil, err
	}

	var collected []*database.RuleDocument
	if len(ruleNames) > 0 {
		collected, err = s.collectRules(ctx, api.SystemCustomer, cloud, req)
		if err != nil {
			return nil, err
		}
	} else {
		all, err := s.dbClient.ListRules(ctx, api.SystemCustomer, cloud)
		if err != nil {
			return nil, err
		}
		for _, rule := range all {
			if len(rule.Events) > 0 {
				collected = append(collected, rule)
			}
		}
	}
	collected = dedupeLatest(collected)
	if len(collected) == 0 {
		return nil, rest.NewBadRequestError("rules", "no event-driven rules for cloud %s", cloud)
	}

	return s.persist(ctx, api.SystemCustomer, name, resolvedVersion, cloud, collected, true)
}

// EventDrivenRuleset resolves the event-driven ruleset of a cloud at a
// specific version, or the latest.
func (s *Service) EventDrivenRuleset(ctx context.Context, cloud api.Cloud, version string) (*database.RulesetDocument, error) {
	return s.resolveTarget(ctx, api.SystemCustomer, eventDrivenName(cloud), version)
}

// canonicalJSON serializes with sorted keys. Maps already serialize
// sorted under encoding/json; this wrapper names the contract.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
