package exceptions

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"sort"

	"github.com/cloudcustos/ruleengine/internal/database"
	"github.com/cloudcustos/ruleengine/internal/sharding"
)

// Summary counts the resources one exception suppressed, bucketed by
// the metadata of the policies that reported them.
type Summary struct {
	ExceptionID string         `json:"exception_id"`
	Resources   int            `json:"resources"`
	BySeverity  map[string]int `json:"by_severity,omitempty"`
	ByViolation map[string]int `json:"by_violation,omitempty"`
	ByMitre     map[string]int `json:"by_mitre,omitempty"`
}

// Filter intersects the findings with the exception set. Matched
// resources are grouped under their exception for the summary; the rest
// forms a new collection. Parts in error pass through unchanged since
// their resources reflect an older run.
func Filter(findings *sharding.Collection, exc *Collection, rulesByName map[string]*database.RuleDocument) ([]Summary, *sharding.Collection) {
	filtered := sharding.NewCollection(sharding.SingleDistributor{})
	for policy, meta := range findings.Meta {
		filtered.Meta[policy] = meta
	}

	summaries := make(map[string]*Summary)
	for _, part := range findings.AllParts() {
		if part.HasError() || exc.Empty() {
			filtered.PutPart(part)
			continue
		}

		rule := rulesByName[part.Policy]
		kept := make([]map[string]any, 0, len(part.Resources))
		for _, raw := range part.Resources {
			resource := extractResource(raw, rule, part.Location)
			exceptionID, ok := exc.Match(resource)
			if !ok {
				kept = append(kept, raw)
				continue
			}
			record(summaries, exceptionID, part.Policy, rule)
		}
		part.Resources = kept
		filtered.PutPart(part)
	}

	ordered := make([]Summary, 0, len(summaries))
	for _, summary := range summaries {
		ordered = append(ordered, *summary)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ExceptionID < ordered[j].ExceptionID })
	return ordered, filtered
}

func record(summaries map[string]*Summary, exceptionID, policy string, rule *database.RuleDocument) {
	summary, ok := summaries[exceptionID]
	if !ok {
		summary = &Summary{
			ExceptionID: exceptionID,
			BySeverity:  make(map[string]int),
			ByViolation: make(map[string]int),
			ByMitre:     make(map[string]int),
		}
		summaries[exceptionID] = summary
	}
	summary.Resources++
	summary.ByViolation[policy]++
	if rule != nil {
		if rule.Severity != "" {
			summary.BySeverity[rule.Severity]++
		}
		for _, tactic := range rule.MitreTactics {
			summary.ByMitre[tactic]++
		}
	}
}

// extractResource pulls the identifying fields out of a raw resource
// record. Scanner output is loosely shaped, so every field is optional.
func extractResource(raw map[string]any, rule *database.RuleDocument, location string) Resource {
	resource := Resource{Location: location}
	if rule != nil {
		resource.Type = rule.Resource
	}

	for _, key := range []string{"arn", "Arn", "ARN"} {
		if v, ok := raw[key].(string); ok && v != "" {
			resource.ARN = v
			break
		}
	}
	for _, key := range []string{"id", "Id", "ID", "name", "Name"} {
		if v, ok := raw[key].(string); ok && v != "" {
			resource.ID = v
			break
		}
	}
	resource.Tags = extractTags(raw)
	return resource
}

// extractTags handles both tag shapes scanners emit: a list of
// {Key, Value} objects and a plain string map.
func extractTags(raw map[string]any) map[string]string {
	var value any
	for _, key := range []string{"Tags", "tags"} {
		if v, ok := raw[key]; ok {
			value = v
			break
		}
	}
	if value == nil {
		return nil
	}

	tags := make(map[string]string)
	switch typed := value.(type) {
	case []any:
		for _, entry := range typed {
			pair, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			key, _ := pair["Key"].(string)
			tagValue, _ := pair["Value"].(string)
			if key != "" {
				tags[key] = tagValue
			}
		}
	case map[string]any:
		for key, v := range typed {
			if s, ok := v.(string); ok {
				tags[key] = s
			}
		}
	case map[string]string:
		for key, s := range typed {
			tags[key] = s
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
