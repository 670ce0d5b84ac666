package licenses

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/database"
)

// IsApplicable reports whether the license grants (customer, tenant).
// An empty tenant scope on the customer entry grants every tenant of
// that customer.
func IsApplicable(license *database.LicenseDocument, customer, tenant string) bool {
	entry, ok := license.Customers[customer]
	if !ok {
		return false
	}
	return len(entry.Tenants) == 0 || slices.Contains(entry.Tenants, tenant)
}

// IsExpired reports whether the license is past its expiration at now.
func IsExpired(license *database.LicenseDocument, now time.Time) bool {
	return now.After(license.Expiration)
}

// AllowsEventDriven reports whether the license authorizes event-driven
// scans for (customer, tenant) at now.
func AllowsEventDriven(license *database.LicenseDocument, customer, tenant string, now time.Time) bool {
	return license.EventDriven.Active &&
		IsApplicable(license, customer, tenant) &&
		!IsExpired(license, now)
}

// TenantLicenseKey returns the TLK the LM validates per execution, or
// empty when the customer has none.
func TenantLicenseKey(license *database.LicenseDocument, customer string) string {
	return license.Customers[customer].TenantLicenseKey
}

// View iterates the licenses visible to a tenant through its ACTIVE
// CUSTODIAN_LICENSES applications.
type View struct {
	dbClient     database.DBClient
	newTimestamp func() time.Time
}

func NewView(dbClient database.DBClient) *View {
	return &View{
		dbClient:     dbClient,
		newTimestamp: time.Now,
	}
}

// ForTenant collects every license the tenant's applications point at.
// Missing license rows are skipped: the replica may lag LM.
func (v *View) ForTenant(ctx context.Context, tenant *database.TenantDocument) ([]*database.LicenseDocument, error) {
	var collected []*database.LicenseDocument
	for _, licenseKey := range tenant.LicenseApplications() {
		license, err := v.dbClient.GetLicense(ctx, licenseKey)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetching license %s: %w", licenseKey, err)
		}
		collected = append(collected, license)
	}
	return collected, nil
}

// ForTenantCloud returns the license the tenant's application names for
// its own cloud, or nil when there is none.
func (v *View) ForTenantCloud(ctx context.Context, tenant *database.TenantDocument) (*database.LicenseDocument, error) {
	licenseKey, ok := tenant.LicenseApplications()[string(tenant.Cloud)]
	if !ok {
		return nil, nil
	}
	license, err := v.dbClient.GetLicense(ctx, licenseKey)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching license %s: %w", licenseKey, err)
	}
	return license, nil
}

// EventDrivenLicense returns the license authorizing event-driven scans
// on the tenant, or nil when no applicable active grant exists.
func (v *View) EventDrivenLicense(ctx context.Context, tenant *database.TenantDocument) (*database.LicenseDocument, error) {
	license, err := v.ForTenantCloud(ctx, tenant)
	if err != nil || license == nil {
		return nil, err
	}
	if !AllowsEventDriven(license, tenant.Customer, tenant.Name, v.newTimestamp()) {
		return nil, nil
	}
	return license, nil
}

// RulesetsFor resolves the license's ruleset rows matching the tenant's
// rule domain.
func (v *View) RulesetsFor(ctx context.Context, license *database.LicenseDocument, cloud api.Cloud) ([]*database.RulesetDocument, error) {
	var rulesets []*database.RulesetDocument
	for _, rulesetID := range license.RulesetIDs {
		ruleset, err := v.dbClient.GetRulesetByID(ctx, rulesetID)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetching licensed ruleset %s: %w", rulesetID, err)
		}
		if ruleset.Cloud == cloud {
			rulesets = append(rulesets, ruleset)
		}
	}
	return rulesets, nil
}
