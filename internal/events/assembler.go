package events

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/api/rest"
	"github.com/cloudcustos/ruleengine/internal/database"
	"github.com/cloudcustos/ruleengine/internal/executor"
	"github.com/cloudcustos/ruleengine/internal/licenses"
	"github.com/cloudcustos/ruleengine/internal/metrics"
	"github.com/cloudcustos/ruleengine/internal/rules"
)

// MappingProvider resolves the published (source, eventName) → rules
// mapping for a license and cloud.
type MappingProvider interface {
	Get(ctx context.Context, licenseKey, version string, cloud api.Cloud) (rules.EventMapping, error)
}

// Config carries the assembler's deployment constants.
type Config struct {
	// Partitions is the number of event partitions, typically 10.
	Partitions int
	// PageSize bounds the range query per partition and invocation.
	PageSize int
	// DeploymentAccount filters self-events out of the AWS stream.
	DeploymentAccount string

	RulesetsBucket     string
	ReportsBucket      string
	AWSRegion          string
	LogLevel           string
	JobLifetimeMinutes int
	MinCoreVersion     string
	CurrentCoreVersion string
	// BatchResultsTTL expires batch-results rows; zero disables it.
	BatchResultsTTL time.Duration
}

// Report summarizes one assembler invocation.
type Report struct {
	Cursor         float64  `json:"cursor"`
	NewCursor      float64  `json:"new_cursor"`
	Events         int      `json:"events"`
	BatchResultIDs []string `json:"batch_result_ids,omitempty"`
	JobID          string   `json:"job_id,omitempty"`
}

// Assembler turns raw partitioned audit events into per-tenant
// BatchResults and one multi-account batch submission. It assumes a
// single concurrent invoker.
type Assembler struct {
	dbClient database.DBClient
	mappings MappingProvider
	view     *licenses.View
	executor executor.Executor
	emitter  metrics.Emitter
	logger   *slog.Logger
	cfg      Config

	newTimestamp func() time.Time
	newID        func() string
}

func NewAssembler(dbClient database.DBClient, mappings MappingProvider, exec executor.Executor, emitter metrics.Emitter, logger *slog.Logger, cfg Config) *Assembler {
	return &Assembler{
		dbClient:     dbClient,
		mappings:     mappings,
		view:         licenses.NewView(dbClient),
		executor:     exec,
		emitter:      emitter,
		logger:       logger,
		cfg:          cfg,
		newTimestamp: func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
}

// Assemble runs one pipeline pass. No new events yields a NotFound
// error so the HTTP trigger can answer 404.
func (a *Assembler) Assemble(ctx context.Context) (*Report, error) {
	ctx, span := otel.Tracer("ruleengine/events").Start(ctx, "events.assemble")
	defer span.End()

	cursor, err := readCursor(ctx, a.dbClient)
	if err != nil {
		return nil, err
	}

	streams := make([][]*database.EventDocument, a.cfg.Partitions)
	group, groupCtx := errgroup.WithContext(ctx)
	for partition := 0; partition < a.cfg.Partitions; partition++ {
		group.Go(func() error {
			docs, err := a.dbClient.ListEventsSince(groupCtx, partition, cursor, a.cfg.PageSize)
			if err != nil {
				return fmt.Errorf("reading events of partition %d: %w", partition, err)
			}
			streams[partition] = docs
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	merged := mergeStreams(streams)
	if len(merged) == 0 {
		return nil, rest.NewNotFoundError("", "no events past cursor %f", cursor)
	}

	// The cursor moves before processing. A crash between here and the
	// submission loses this batch instead of reprocessing it; the
	// scanner side stays idempotent.
	newCursor := merged[len(merged)-1].Timestamp
	if err := writeCursor(ctx, a.dbClient, newCursor); err != nil {
		return nil, err
	}

	var awsRaw, maestroRaw []map[string]any
	for _, doc := range merged {
		switch doc.Vendor {
		case api.EventVendorAWS:
			awsRaw = append(awsRaw, doc.Events...)
		case api.EventVendorMaestro:
			maestroRaw = append(maestroRaw, doc.Events...)
		}
	}
	normalized := dedupe(processAWS(awsRaw, a.cfg.DeploymentAccount))
	normalized = append(normalized, dedupe(processMaestro(maestroRaw))...)

	report := &Report{
		Cursor:    cursor,
		NewCursor: newCursor,
		Events:    len(normalized),
	}
	a.emitter.AddCounter("events_assembled_total", float64(len(normalized)), nil)
	if len(normalized) == 0 {
		return report, nil
	}

	now := a.newTimestamp()
	documents, err := a.buildBatchResults(ctx, normalized, cursor, newCursor, now)
	if err != nil {
		return nil, err
	}
	if len(documents) == 0 {
		return report, nil
	}

	ids := make([]string, 0, len(documents))
	for _, doc := range documents {
		if err := a.dbClient.SetBatchResults(ctx, doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
		report.BatchResultIDs = append(report.BatchResultIDs, doc.ID)
	}

	jobID, err := a.executor.Submit(ctx, executor.Submission{
		Name: fmt.Sprintf("custodian-event-driven-%d", int64(newCursor)),
		Env:  a.buildEnv(ids, now),
	})
	if err != nil {
		return nil, fmt.Errorf("submitting event-driven job: %w", err)
	}
	report.JobID = jobID
	for _, doc := range documents {
		doc.JobID = jobID
		if err := a.dbClient.SetBatchResults(ctx, doc); err != nil {
			return nil, err
		}
	}

	a.emitter.AddCounter("batch_results_created_total", float64(len(ids)), nil)
	a.logger.InfoContext(ctx, "event batch assembled",
		"events", len(normalized),
		"batch_results", len(ids),
		"job_id", jobID,
		"cursor", newCursor)
	return report, nil
}

// buildBatchResults groups normalized events per tenant, gates them on
// an event-driven license and intersects them with the licensed rules.
func (a *Assembler) buildBatchResults(ctx context.Context, normalized []normalizedEvent, cursor, newCursor float64, now time.Time) ([]*database.BatchResultsDocument, error) {
	grouped := make(map[string][]normalizedEvent)
	tenants := make(map[string]*database.TenantDocument)
	for _, event := range normalized {
		tenant, err := a.resolveTenant(ctx, event)
		if err != nil {
			return nil, err
		}
		if tenant == nil || tenant.Cloud != event.Cloud {
			continue
		}
		grouped[tenant.Name] = append(grouped[tenant.Name], event)
		tenants[tenant.Name] = tenant
	}

	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	var documents []*database.BatchResultsDocument
	for _, name := range names {
		tenant := tenants[name]
		regionRules, err := a.tenantRegionRules(ctx, tenant, grouped[name])
		if err != nil {
			return nil, err
		}
		if len(regionRules) == 0 {
			continue
		}
		doc := &database.BatchResultsDocument{
			ID:                a.newID(),
			TenantName:        tenant.Name,
			Customer:          tenant.Customer,
			CloudIdentifier:   tenant.Project,
			Rules:             compressRegions(regionRules),
			RegistrationStart: cursor,
			RegistrationEnd:   newCursor,
			SubmittedAt:       now,
			Status:            api.JobStatusPending,
		}
		if a.cfg.BatchResultsTTL > 0 {
			doc.TTL = now.Add(a.cfg.BatchResultsTTL).Unix()
		}
		documents = append(documents, doc)
	}
	return documents, nil
}

func (a *Assembler) resolveTenant(ctx context.Context, event normalizedEvent) (*database.TenantDocument, error) {
	var tenant *database.TenantDocument
	var err error
	switch event.Vendor {
	case api.EventVendorAWS:
		tenant, err = a.dbClient.GetTenantByProject(ctx, api.CloudAWS, event.AccountID)
	case api.EventVendorMaestro:
		tenant, err = a.dbClient.GetTenant(ctx, event.TenantName)
	default:
		return nil, nil
	}
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !tenant.Active {
		return nil, nil
	}
	return tenant, nil
}

// tenantRegionRules maps the tenant's events through the license's
// published event mapping and restricts the hits to the rules its
// licensed rulesets actually carry.
func (a *Assembler) tenantRegionRules(ctx context.Context, tenant *database.TenantDocument, events []normalizedEvent) (map[string][]string, error) {
	license, err := a.view.EventDrivenLicense(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if license == nil {
		return nil, nil
	}

	eventDriven, err := a.dbClient.ListEventDrivenRulesets(ctx, tenant.Cloud)
	if err != nil {
		return nil, err
	}
	edRuleset := database.LatestRuleset(eventDriven)
	if edRuleset == nil {
		a.logger.WarnContext(ctx, "no event-driven ruleset published",
			"cloud", tenant.Cloud, "tenant", tenant.Name)
		return nil, nil
	}

	licensed, err := a.view.RulesetsFor(ctx, license, tenant.Cloud)
	if err != nil {
		return nil, err
	}
	licensedRules := make(map[string]struct{})
	for _, ruleset := range licensed {
		for _, rule := range ruleset.Rules {
			licensedRules[rule] = struct{}{}
		}
	}

	mapping, err := a.mappings.Get(ctx, license.LicenseKey, edRuleset.Version, tenant.Cloud)
	if err != nil {
		return nil, fmt.Errorf("fetching event mapping for tenant %s: %w", tenant.Name, err)
	}

	byRegion := make(map[string]map[string]struct{})
	for _, event := range events {
		for _, rule := range mapping.RuleNames(event.Source, event.Name) {
			if _, ok := licensedRules[rule]; !ok {
				continue
			}
			if byRegion[event.Region] == nil {
				byRegion[event.Region] = make(map[string]struct{})
			}
			byRegion[event.Region][rule] = struct{}{}
		}
	}

	regionRules := make(map[string][]string, len(byRegion))
	for region, set := range byRegion {
		names := make([]string, 0, len(set))
		for rule := range set {
			names = append(names, rule)
		}
		sort.Strings(names)
		regionRules[region] = names
	}
	return regionRules, nil
}

// compressRegions inverts region→rules and regroups rules sharing the
// same region tuple under a CSV key. Applied only when it shrinks the
// map; heterogeneous events otherwise repeat rule lists per region.
func compressRegions(regionRules map[string][]string) map[string][]string {
	byRule := make(map[string][]string)
	for region, ruleNames := range regionRules {
		for _, rule := range ruleNames {
			byRule[rule] = append(byRule[rule], region)
		}
	}

	compressed := make(map[string][]string)
	for rule, regions := range byRule {
		sort.Strings(regions)
		key := strings.Join(regions, ",")
		compressed[key] = append(compressed[key], rule)
	}
	if len(compressed) >= len(regionRules) {
		return regionRules
	}
	for key := range compressed {
		sort.Strings(compressed[key])
	}
	return compressed
}

func (a *Assembler) buildEnv(batchResultIDs []string, now time.Time) map[string]string {
	return map[string]string{
		"BATCH_RESULTS_IDS":          strings.Join(batchResultIDs, ","),
		"JOB_TYPE":                   string(api.JobTypeEventDriven),
		"SUBMITTED_AT":               now.UTC().Format(time.RFC3339),
		"SYSTEM_CUSTOMER_NAME":       api.SystemCustomer,
		"RULESETS_BUCKET_NAME":       a.cfg.RulesetsBucket,
		"REPORTS_BUCKET_NAME":        a.cfg.ReportsBucket,
		"AWS_REGION":                 a.cfg.AWSRegion,
		"BATCH_JOB_LOG_LEVEL":        a.cfg.LogLevel,
		"MIN_CORE_VERSION":           a.cfg.MinCoreVersion,
		"CURRENT_CORE_VERSION":       a.cfg.CurrentCoreVersion,
		"BATCH_JOB_LIFETIME_MINUTES": fmt.Sprintf("%d", a.cfg.JobLifetimeMinutes),
	}
}

func readCursor(ctx context.Context, dbClient database.DBClient) (float64, error) {
	doc, err := dbClient.GetSetting(ctx, api.EventCursorSettingName)
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var cursor float64
	if err := json.Unmarshal(doc.Value, &cursor); err != nil {
		return 0, fmt.Errorf("corrupt event cursor: %w", err)
	}
	return cursor, nil
}

func writeCursor(ctx context.Context, dbClient database.DBClient, cursor float64) error {
	value, err := json.Marshal(cursor)
	if err != nil {
		return err
	}
	return dbClient.SetSetting(ctx, &database.SettingDocument{
		Name:  api.EventCursorSettingName,
		Value: value,
	})
}
