package jobs

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/api/rest"
	"github.com/cloudcustos/ruleengine/internal/database"
	"github.com/cloudcustos/ruleengine/internal/licenses"
)

// resolvedRulesets is the outcome of the admission ruleset subroutine:
// the qualified names serialized into the executor env, the selected
// license (nil for local-only resolution) and the union of rule names
// the rulesToScan filter intersects against.
type resolvedRulesets struct {
	names     []api.RulesetName
	license   *database.LicenseDocument
	ruleUnion []string
}

// resolveRulesets implements the three-way resolution:
//
//	Case A: no names, licenses present. Every licensed ruleset of the
//	        tenant's cloud is selected; more than one contributing
//	        license is ambiguous.
//	Case B: names, no licenses. Names resolve as local rulesets under
//	        the tenant's customer.
//	Case C: names and licenses. Each name tries every license first
//	        and falls back to local resolution; more than one matching
//	        license is ambiguous.
func (s *Service) resolveRulesets(ctx context.Context, tenant *database.TenantDocument, licenseKey string, names []api.RulesetName) (*resolvedRulesets, error) {
	candidates, err := s.candidateLicenses(ctx, tenant, licenseKey)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 && len(candidates) == 0 {
		return nil, rest.NewBadRequestError("rulesets",
			"no rulesets requested and tenant %q has no licenses", tenant.Name)
	}

	if len(names) == 0 {
		return s.resolveFromLicenses(ctx, tenant, candidates)
	}
	if len(candidates) == 0 {
		return s.resolveLocal(ctx, tenant, names)
	}
	return s.resolveMixed(ctx, tenant, candidates, names)
}

// candidateLicenses collects the licenses admission may select from.
// An explicit key narrows to that license and hard-fails when it does
// not apply; otherwise every applicable, unexpired license of the
// tenant qualifies.
func (s *Service) candidateLicenses(ctx context.Context, tenant *database.TenantDocument, licenseKey string) ([]*database.LicenseDocument, error) {
	now := s.newTimestamp()

	if licenseKey != "" {
		license, err := s.dbClient.GetLicense(ctx, licenseKey)
		if errors.Is(err, database.ErrNotFound) {
			return nil, rest.NewNotFoundError("license_key", "license %q not found", licenseKey)
		}
		if err != nil {
			return nil, err
		}
		if !licenses.IsApplicable(license, tenant.Customer, tenant.Name) {
			return nil, rest.NewForbiddenError("license_key",
				"license %q is not applicable to tenant %q", licenseKey, tenant.Name)
		}
		if licenses.IsExpired(license, now) {
			return nil, rest.NewForbiddenError("license_key", "license %q is expired", licenseKey)
		}
		return []*database.LicenseDocument{license}, nil
	}

	collected, err := s.view.ForTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	applicable := collected[:0]
	expired := 0
	for _, license := range collected {
		if !licenses.IsApplicable(license, tenant.Customer, tenant.Name) {
			continue
		}
		if licenses.IsExpired(license, now) {
			expired++
			continue
		}
		applicable = append(applicable, license)
	}
	if len(applicable) == 0 && expired > 0 {
		return nil, rest.NewForbiddenError("license_key", "all licenses of tenant %q are expired", tenant.Name)
	}
	return applicable, nil
}

// licensedSelection is one license's contribution to the resolution.
type licensedSelection struct {
	license *database.LicenseDocument
	names   []api.RulesetName
	rules   []string
}

// resolveFromLicenses is Case A.
func (s *Service) resolveFromLicenses(ctx context.Context, tenant *database.TenantDocument, candidates []*database.LicenseDocument) (*resolvedRulesets, error) {
	var selections []licensedSelection
	for _, license := range candidates {
		if licenses.TenantLicenseKey(license, tenant.Customer) == "" {
			continue
		}
		rulesets, err := s.view.RulesetsFor(ctx, license, tenant.Cloud)
		if err != nil {
			return nil, err
		}
		if len(rulesets) == 0 {
			continue
		}
		selection := licensedSelection{license: license}
		for _, ruleset := range rulesets {
			selection.names = append(selection.names, api.RulesetName{
				Name:       ruleset.ID,
				LicenseKey: license.LicenseKey,
			})
			selection.rules = append(selection.rules, ruleset.Rules...)
		}
		selections = append(selections, selection)
	}

	if len(selections) == 0 {
		return nil, rest.NewBadRequestError("rulesets",
			"no licensed rulesets cover cloud %s for tenant %q", tenant.Cloud, tenant.Name)
	}
	if len(selections) > 1 {
		return nil, ambiguousLicenses(selections)
	}

	chosen := selections[0]
	return &resolvedRulesets{
		names:     chosen.names,
		license:   chosen.license,
		ruleUnion: dedupeSorted(chosen.rules),
	}, nil
}

// resolveLocal is Case B: each name must exist as a local ruleset under
// the tenant's customer with a matching cloud.
func (s *Service) resolveLocal(ctx context.Context, tenant *database.TenantDocument, names []api.RulesetName) (*resolvedRulesets, error) {
	resolved := &resolvedRulesets{}
	for _, name := range names {
		doc, err := s.localRuleset(ctx, tenant, name)
		if err != nil {
			return nil, err
		}
		resolved.names = append(resolved.names, api.RulesetName{
			Name:    doc.Name,
			Version: doc.Version,
		})
		resolved.ruleUnion = append(resolved.ruleUnion, doc.Rules...)
	}
	resolved.ruleUnion = dedupeSorted(resolved.ruleUnion)
	return resolved, nil
}

func (s *Service) localRuleset(ctx context.Context, tenant *database.TenantDocument, name api.RulesetName) (*database.RulesetDocument, error) {
	var doc *database.RulesetDocument
	var err error
	if name.Version != "" {
		doc, err = s.dbClient.GetRuleset(ctx, tenant.Customer, name.Name, name.Version)
	} else {
		doc, err = s.dbClient.GetLatestRuleset(ctx, tenant.Customer, name.Name)
	}
	if errors.Is(err, database.ErrNotFound) {
		return nil, rest.NewNotFoundError("rulesets", "ruleset %q not found", name.String())
	}
	if err != nil {
		return nil, err
	}
	if doc.Cloud != tenant.Cloud {
		return nil, rest.NewBadRequestError("rulesets",
			"ruleset %q targets cloud %s, tenant is %s", name.Name, doc.Cloud, tenant.Cloud)
	}
	return doc, nil
}

// resolveMixed is Case C: names try every candidate license, the rest
// falls back to local resolution.
func (s *Service) resolveMixed(ctx context.Context, tenant *database.TenantDocument, candidates []*database.LicenseDocument, names []api.RulesetName) (*resolvedRulesets, error) {
	resolved := &resolvedRulesets{}
	matched := make(map[string]*database.LicenseDocument)

	for _, name := range names {
		var matchedDoc *database.RulesetDocument
		var nameLicenses []*database.LicenseDocument
		for _, license := range candidates {
			doc, ok, err := s.licenseMatches(ctx, license, tenant.Cloud, name)
			if err != nil {
				return nil, err
			}
			if ok {
				matchedDoc = doc
				nameLicenses = append(nameLicenses, license)
			}
		}
		// A name carried by several candidate licenses is ambiguous:
		// which license gets billed must never depend on scan order.
		if len(nameLicenses) > 1 {
			return nil, ambiguousLicenseKeys(nameLicenses)
		}

		if len(nameLicenses) == 1 {
			license := nameLicenses[0]
			matched[license.LicenseKey] = license
			resolved.names = append(resolved.names, api.RulesetName{
				Name:       matchedDoc.ID,
				Version:    name.Version,
				LicenseKey: license.LicenseKey,
			})
			resolved.ruleUnion = append(resolved.ruleUnion, matchedDoc.Rules...)
			continue
		}

		doc, err := s.localRuleset(ctx, tenant, name)
		if err != nil {
			return nil, err
		}
		resolved.names = append(resolved.names, api.RulesetName{
			Name:    doc.Name,
			Version: doc.Version,
		})
		resolved.ruleUnion = append(resolved.ruleUnion, doc.Rules...)
	}

	if len(matched) > 1 {
		return nil, ambiguousLicenseKeys(lo.Values(matched))
	}
	for _, license := range matched {
		resolved.license = license
	}
	resolved.ruleUnion = dedupeSorted(resolved.ruleUnion)
	return resolved, nil
}

// licenseMatches reports whether the license carries the named licensed
// ruleset for the cloud, honoring a version qualifier.
func (s *Service) licenseMatches(ctx context.Context, license *database.LicenseDocument, cloud api.Cloud, name api.RulesetName) (*database.RulesetDocument, bool, error) {
	if !slices.Contains(license.RulesetIDs, name.Name) {
		return nil, false, nil
	}
	doc, err := s.dbClient.GetRulesetByID(ctx, name.Name)
	if errors.Is(err, database.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if doc.Cloud != cloud {
		return nil, false, nil
	}
	if name.Version != "" && !slices.Contains(doc.Versions, name.Version) {
		return nil, false, nil
	}
	return doc, true, nil
}

func ambiguousLicenses(selections []licensedSelection) error {
	licenses := make([]*database.LicenseDocument, 0, len(selections))
	for _, selection := range selections {
		licenses = append(licenses, selection.license)
	}
	return ambiguousLicenseKeys(licenses)
}

func ambiguousLicenseKeys(licenses []*database.LicenseDocument) error {
	keys := make([]string, 0, len(licenses))
	for _, license := range licenses {
		keys = append(keys, license.LicenseKey)
	}
	sort.Strings(keys)
	return rest.NewConflictError("license_key",
		"Ambiguous situation. Multiple licenses: %s. Specify license_key.", strings.Join(keys, ", "))
}

func dedupeSorted(values []string) []string {
	sort.Strings(values)
	return slices.Compact(values)
}
