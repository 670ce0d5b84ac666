package database

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/blang/semver/v4"

	"github.com/cloudcustos/ruleengine/internal/api"
)

var _ DBClient = &Cache{}

// Cache is an in-memory DBClient used by tests and by --use-cache mode.
type Cache struct {
	mu sync.RWMutex

	tenant         map[string]*TenantDocument
	customer       map[string]*CustomerDocument
	user           map[string]*UserDocument
	job            map[string]*JobDocument
	scheduledJob   map[string]*ScheduledJobDocument
	ruleset        map[string]*RulesetDocument // keyed by ID
	rule           map[string]*RuleDocument    // keyed by ID
	ruleSource     map[string]*RuleSourceDocument
	license        map[string]*LicenseDocument
	batchResults   map[string]*BatchResultsDocument
	events         map[int][]*EventDocument
	exception      map[string]*ExceptionDocument
	setting        map[string]*SettingDocument
	tenantSettings map[string]*TenantSettingDocument
}

// NewCache allocates an empty in-memory store.
func NewCache() *Cache {
	return &Cache{
		tenant:         make(map[string]*TenantDocument),
		customer:       make(map[string]*CustomerDocument),
		user:           make(map[string]*UserDocument),
		job:            make(map[string]*JobDocument),
		scheduledJob:   make(map[string]*ScheduledJobDocument),
		ruleset:        make(map[string]*RulesetDocument),
		rule:           make(map[string]*RuleDocument),
		ruleSource:     make(map[string]*RuleSourceDocument),
		license:        make(map[string]*LicenseDocument),
		batchResults:   make(map[string]*BatchResultsDocument),
		events:         make(map[int][]*EventDocument),
		exception:      make(map[string]*ExceptionDocument),
		setting:        make(map[string]*SettingDocument),
		tenantSettings: make(map[string]*TenantSettingDocument),
	}
}

func (c *Cache) DBConnectionTest(ctx context.Context) error {
	return nil
}

func (c *Cache) GetTenant(ctx context.Context, name string) (*TenantDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if doc, ok := c.tenant[name]; ok {
		return doc, nil
	}
	return nil, ErrNotFound
}

func (c *Cache) GetTenantByProject(ctx context.Context, cloud api.Cloud, project string) (*TenantDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, doc := range c.tenant {
		if doc.Cloud == cloud && doc.Project == project && doc.Active {
			return doc, nil
		}
	}
	return nil, ErrNotFound
}

func (c *Cache) SetTenant(ctx context.Context, doc *TenantDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenant[doc.Name] = doc
	return nil
}

func (c *Cache) GetCustomer(ctx context.Context, name string) (*CustomerDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if doc, ok := c.customer[name]; ok {
		return doc, nil
	}
	return nil, ErrNotFound
}

func (c *Cache) SetCustomer(ctx context.Context, doc *CustomerDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customer[doc.Name] = doc
	return nil
}

func (c *Cache) SetUser(ctx context.Context, doc *UserDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user[doc.Username] = doc
	return nil
}

func (c *Cache) GetJob(ctx context.Context, id string) (*JobDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if doc, ok := c.job[id]; ok {
		return doc, nil
	}
	return nil, ErrNotFound
}

func (c *Cache) SetJob(ctx context.Context, doc *JobDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.job[doc.ID] = doc
	return nil
}

func (c *Cache) ListNonTerminalJobs(ctx context.Context) ([]*JobDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var docs []*JobDocument
	for _, doc := range c.job {
		if !doc.Status.IsTerminal() {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func scheduledJobKey(customer, name string) string {
	return customer + "#" + name
}

func (c *Cache) GetScheduledJob(ctx context.Context, customer, name string) (*ScheduledJobDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if doc, ok := c.scheduledJob[scheduledJobKey(customer, name)]; ok {
		return doc, nil
	}
	return nil, ErrNotFound
}

func (c *Cache) SetScheduledJob(ctx context.Context, doc *ScheduledJobDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduledJob[scheduledJobKey(doc.Customer, doc.Name)] = doc
	return nil
}

func (c *Cache) DeleteScheduledJob(ctx context.Context, customer, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.scheduledJob, scheduledJobKey(customer, name))
	return nil
}

func (c *Cache) ListScheduledJobs(ctx context.Context, customer, tenant string) ([]*ScheduledJobDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var docs []*ScheduledJobDocument
	for _, doc := range c.scheduledJob {
		if customer != "" && doc.Customer != customer {
			continue
		}
		if tenant != "" && doc.Tenant != tenant {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *Cache) GetRuleset(ctx context.Context, customer, name, version string) (*RulesetDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if doc, ok := c.ruleset[RulesetID(customer, name, version)]; ok {
		return doc, nil
	}
	return nil, ErrNotFound
}

func (c *Cache) GetLatestRuleset(ctx context.Context, customer, name string) (*RulesetDocument, error) {
	versions, err := c.ListRulesetVersions(ctx, customer, name)
	if err != nil {
		return nil, err
	}
	if latest := LatestRuleset(versions); latest != nil {
		return latest, nil
	}
	return nil, ErrNotFound
}

func (c *Cache) GetRulesetByID(ctx context.Context, id string) (*RulesetDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if doc, ok := c.ruleset[id]; ok {
		return doc, nil
	}
	return nil, ErrNotFound
}

func (c *Cache) ListRulesetVersions(ctx context.Context, customer, name string) ([]*RulesetDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var docs []*RulesetDocument
	for _, doc := range c.ruleset {
		if doc.Customer == customer && doc.Name == name {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (c *Cache) ListEventDrivenRulesets(ctx context.Context, cloud api.Cloud) ([]*RulesetDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var docs []*RulesetDocument
	for _, doc := range c.ruleset {
		if doc.EventDriven && (cloud == "" || doc.Cloud == cloud) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (c *Cache) SetRuleset(ctx context.Context, doc *RulesetDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ruleset[doc.ID] = doc
	return nil
}

func (c *Cache) DeleteRuleset(ctx context.Context, customer, name, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ruleset, RulesetID(customer, name, version))
	return nil
}

func (c *Cache) DeleteRulesetVersions(ctx context.Context, customer, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, doc := range c.ruleset {
		if doc.Customer == customer && doc.Name == name {
			delete(c.ruleset, id)
		}
	}
	return nil
}

func (c *Cache) GetRule(ctx context.Context, customer, name string) (*RuleDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var latest *RuleDocument
	for _, doc := range c.rule {
		if doc.Customer != customer || doc.Name != name {
			continue
		}
		if latest == nil || versionLess(latest.Version, doc.Version) {
			latest = doc
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (c *Cache) ListRules(ctx context.Context, customer string, cloud api.Cloud) ([]*RuleDocument, error) {
	return c.listRules(func(doc *RuleDocument) bool {
		return doc.Customer == customer && (cloud == "" || doc.Cloud == cloud)
	})
}

func (c *Cache) ListRulesBySource(ctx context.Context, customer, sourceID string) ([]*RuleDocument, error) {
	return c.listRules(func(doc *RuleDocument) bool {
		return doc.Customer == customer && doc.SourceID == sourceID
	})
}

func (c *Cache) ListRulesByGitProject(ctx context.Context, customer, project, ref string) ([]*RuleDocument, error) {
	return c.listRules(func(doc *RuleDocument) bool {
		if doc.Customer != customer || doc.Location == "" {
			return false
		}
		// Location is project#ref#path.
		parts := splitLocation(doc.Location)
		if parts[0] != project {
			return false
		}
		return ref == "" || parts[1] == ref
	})
}

func (c *Cache) listRules(keep func(*RuleDocument) bool) ([]*RuleDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var docs []*RuleDocument
	for _, doc := range c.rule {
		if keep(doc) {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (c *Cache) SetRule(ctx context.Context, doc *RuleDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rule[doc.ID] = doc
	return nil
}

func (c *Cache) GetRuleSource(ctx context.Context, customer, id string) (*RuleSourceDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if doc, ok := c.ruleSource[id]; ok && doc.Customer == customer {
		return doc, nil
	}
	return nil, ErrNotFound
}

func (c *Cache) SetRuleSource(ctx context.Context, doc *RuleSourceDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ruleSource[doc.ID] = doc
	return nil
}

func (c *Cache) GetLicense(ctx context.Context, key string) (*LicenseDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if doc, ok := c.license[key]; ok {
		return doc, nil
	}
	return nil, ErrNotFound
}

func (c *Cache) SetLicense(ctx context.Context, doc *LicenseDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.license[doc.LicenseKey] = doc
	return nil
}

func (c *Cache) GetBatchResults(ctx context.Context, id string) (*BatchResultsDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if doc, ok := c.batchResults[id]; ok {
		return doc, nil
	}
	return nil, ErrNotFound
}

func (c *Cache) SetBatchResults(ctx context.Context, doc *BatchResultsDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchResults[doc.ID] = doc
	return nil
}

func (c *Cache) PutEvents(ctx context.Context, doc *EventDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[doc.Partition] = append(c.events[doc.Partition], doc)
	sort.Slice(c.events[doc.Partition], func(i, j int) bool {
		return c.events[doc.Partition][i].Timestamp < c.events[doc.Partition][j].Timestamp
	})
	return nil
}

func (c *Cache) ListEventsSince(ctx context.Context, partition int, since float64, limit int) ([]*EventDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var docs []*EventDocument
	for _, doc := range c.events[partition] {
		if doc.Timestamp > since {
			docs = append(docs, doc)
			if limit > 0 && len(docs) >= limit {
				break
			}
		}
	}
	return docs, nil
}

func (c *Cache) DeleteEventsUpTo(ctx context.Context, partition int, upTo float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var kept []*EventDocument
	for _, doc := range c.events[partition] {
		if doc.Timestamp > upTo {
			kept = append(kept, doc)
		}
	}
	c.events[partition] = kept
	return nil
}

func (c *Cache) ListExceptions(ctx context.Context, customer, tenant string) ([]*ExceptionDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var docs []*ExceptionDocument
	for _, doc := range c.exception {
		if doc.Customer != customer {
			continue
		}
		if doc.TenantName != "" && doc.TenantName != tenant {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *Cache) SetException(ctx context.Context, doc *ExceptionDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exception[doc.ID] = doc
	return nil
}

func (c *Cache) GetSetting(ctx context.Context, name string) (*SettingDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if doc, ok := c.setting[name]; ok {
		return doc, nil
	}
	return nil, ErrNotFound
}

func (c *Cache) SetSetting(ctx context.Context, doc *SettingDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setting[doc.Name] = doc
	return nil
}

func tenantSettingKey(tenant, key string) string {
	return tenant + "#" + key
}

func (c *Cache) GetTenantSetting(ctx context.Context, tenant, key string) (*TenantSettingDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if doc, ok := c.tenantSettings[tenantSettingKey(tenant, key)]; ok {
		return doc, nil
	}
	return nil, ErrNotFound
}

func (c *Cache) SetTenantSetting(ctx context.Context, doc *TenantSettingDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.tenantSettings[tenantSettingKey(doc.TenantName, doc.Key)]
	if ok && existing.Revision != doc.Revision-1 {
		return ErrPreconditionFailed
	}
	if !ok && doc.Revision != 1 {
		return ErrPreconditionFailed
	}
	c.tenantSettings[tenantSettingKey(doc.TenantName, doc.Key)] = doc
	return nil
}

func (c *Cache) DeleteTenantSetting(ctx context.Context, tenant, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tenantSettings, tenantSettingKey(tenant, key))
	return nil
}

// LatestRuleset picks the document with the highest SemVer version.
// Rows carrying the EMPTY version sort below every parsed version.
func LatestRuleset(docs []*RulesetDocument) *RulesetDocument {
	var latest *RulesetDocument
	for _, doc := range docs {
		if latest == nil || versionLess(latest.Version, doc.Version) {
			latest = doc
		}
	}
	return latest
}

func versionLess(a, b string) bool {
	va, errA := semver.Parse(a)
	vb, errB := semver.Parse(b)
	switch {
	case errA != nil && errB != nil:
		return a < b
	case errA != nil:
		return true
	case errB != nil:
		return false
	}
	return va.LT(vb)
}

func splitLocation(location string) [3]string {
	var parts [3]string
	copy(parts[:], strings.SplitN(location, "#", 3))
	return parts
}
