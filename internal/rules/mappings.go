package rules

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/blob"
	"github.com/cloudcustos/ruleengine/internal/database"
)

// EventMapping maps an audit event source to event names to the rules
// listening on them, for one cloud.
type EventMapping map[string]map[string][]string

// RuleNames returns the rules registered for (source, eventName).
func (m EventMapping) RuleNames(source, eventName string) []string {
	return m[source][eventName]
}

// mappingClouds are the per-cloud blob files a mapping version is
// published as.
var mappingClouds = map[api.Cloud]string{
	api.CloudAWS:    "aws",
	api.CloudAzure:  "azure",
	api.CloudGoogle: "google",
}

func mappingKey(licenseKey, version, cloudToken string) string {
	return fmt.Sprintf("mappings/%s/%s/events/%s.json.gz", licenseKey, version, cloudToken)
}

// CollectEventMappings builds per-cloud event mappings from rule
// metadata. Rules without events contribute nothing. Rule name lists
// are sorted for stable output.
func CollectEventMappings(rules []*database.RuleDocument) map[api.Cloud]EventMapping {
	mappings := make(map[api.Cloud]EventMapping)
	for _, rule := range rules {
		if len(rule.Events) == 0 {
			continue
		}
		mapping, ok := mappings[rule.Cloud]
		if !ok {
			mapping = make(EventMapping)
			mappings[rule.Cloud] = mapping
		}
		for source, eventNames := range rule.Events {
			bySource, ok := mapping[source]
			if !ok {
				bySource = make(map[string][]string)
				mapping[source] = bySource
			}
			for _, eventName := range eventNames {
				bySource[eventName] = append(bySource[eventName], rule.Name)
			}
		}
	}
	for _, mapping := range mappings {
		for _, bySource := range mapping {
			for eventName := range bySource {
				sort.Strings(bySource[eventName])
			}
		}
	}
	return mappings
}

// PublishEventMappings uploads the per-cloud mappings for one
// (licenseKey, version). Clouds without rules get an empty mapping so
// readers never hit a missing key.
func PublishEventMappings(ctx context.Context, client blob.Client, bucket, licenseKey, version string, mappings map[api.Cloud]EventMapping) error {
	for cloud, token := range mappingClouds {
		mapping := mappings[cloud]
		if mapping == nil {
			mapping = make(EventMapping)
		}
		if err := client.PutGzipJSON(ctx, bucket, mappingKey(licenseKey, version, token), mapping); err != nil {
			return fmt.Errorf("publishing %s event mapping for %s/%s: %w", token, licenseKey, version, err)
		}
	}
	return nil
}

// S3EventMappingProvider serves published event mappings with an
// in-process memoization cache. Invalidate drops the cache when license
// metadata refreshes.
type S3EventMappingProvider struct {
	client blob.Client
	bucket string
	cache  *cache.Cache
}

func NewS3EventMappingProvider(client blob.Client, bucket string, ttl time.Duration) *S3EventMappingProvider {
	return &S3EventMappingProvider{
		client: client,
		bucket: bucket,
		cache:  cache.New(ttl, 2*ttl),
	}
}

// Get fetches the mapping for (licenseKey, version, cloud), memoized.
func (p *S3EventMappingProvider) Get(ctx context.Context, licenseKey, version string, cloud api.Cloud) (EventMapping, error) {
	token, ok := mappingClouds[cloud]
	if !ok {
		return nil, fmt.Errorf("no event mapping published for cloud %q", cloud)
	}

	key := mappingKey(licenseKey, version, token)
	if cached, ok := p.cache.Get(key); ok {
		return cached.(EventMapping), nil
	}

	var mapping EventMapping
	if err := p.client.GetGzipJSON(ctx, p.bucket, key, &mapping); err != nil {
		return nil, fmt.Errorf("fetching event mapping %s: %w", key, err)
	}
	p.cache.SetDefault(key, mapping)
	return mapping, nil
}

// Invalidate drops every memoized mapping.
func (p *S3EventMappingProvider) Invalidate() {
	p.cache.Flush()
}
