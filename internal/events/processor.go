package events

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"fmt"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/cloudcustos/ruleengine/internal/api"
)

// normalizedEvent is the vendor-independent shape the assembler groups
// on. Source and Name address the event mapping; the remaining fields
// locate the tenant and region the event belongs to.
type normalizedEvent struct {
	Vendor api.EventVendor
	Source string
	Name   string

	// AWS events carry the account, MAESTRO events the tenant name.
	AccountID  string
	TenantName string

	Cloud  api.Cloud
	Region string
}

// dedupe drops repeated events by a stable hash over the normalized
// record. Order of first occurrence is preserved.
func dedupe(events []normalizedEvent) []normalizedEvent {
	seen := make(map[uint64]struct{}, len(events))
	kept := events[:0]
	for _, event := range events {
		digest, err := hashstructure.Hash(event, hashstructure.FormatV2, nil)
		if err != nil {
			// Hashing a plain struct cannot fail; keep the event if it
			// somehow does.
			kept = append(kept, event)
			continue
		}
		if _, ok := seen[digest]; ok {
			continue
		}
		seen[digest] = struct{}{}
		kept = append(kept, event)
	}
	return kept
}

const cloudTrailDetailType = "AWS API Call via CloudTrail"

// processAWS filters EventBridge-over-CloudTrail records. Self-events
// from the deployment account are dropped.
func processAWS(raw []map[string]any, deploymentAccount string) []normalizedEvent {
	var events []normalizedEvent
	for _, record := range raw {
		if str(record["detail-type"]) != cloudTrailDetailType {
			continue
		}
		detail, _ := record["detail"].(map[string]any)
		if detail == nil {
			continue
		}
		accountID := str(detail["accountId"])
		if accountID == "" {
			if identity, _ := detail["userIdentity"].(map[string]any); identity != nil {
				accountID = str(identity["accountId"])
			}
		}
		if accountID == "" || accountID == deploymentAccount {
			continue
		}
		events = append(events, normalizedEvent{
			Vendor:    api.EventVendorAWS,
			Source:    str(detail["eventSource"]),
			Name:      str(detail["eventName"]),
			AccountID: accountID,
			Cloud:     api.CloudAWS,
			Region:    str(detail["awsRegion"]),
		})
	}
	return events
}

const (
	maestroGroupManagement  = "MANAGEMENT"
	maestroSubGroupInstance = "INSTANCE"
	maestroInstanceSource   = "maestro.instance"
)

// maestroActions maps a MAESTRO (subGroup, action) pair onto the
// CloudTrail-style (source, name) the event mappings are keyed by.
var maestroActions = map[string]struct{ Source, Name string }{
	maestroSubGroupInstance + "#CREATE":  {maestroInstanceSource, "CreateInstance"},
	maestroSubGroupInstance + "#DELETE":  {maestroInstanceSource, "DeleteInstance"},
	maestroSubGroupInstance + "#START":   {maestroInstanceSource, "StartInstance"},
	maestroSubGroupInstance + "#STOP":    {maestroInstanceSource, "StopInstance"},
	maestroSubGroupInstance + "#REBOOT":  {maestroInstanceSource, "RebootInstance"},
	maestroSubGroupInstance + "#RESIZE":  {maestroInstanceSource, "ResizeInstance"},
	maestroSubGroupInstance + "#SUSPEND": {maestroInstanceSource, "SuspendInstance"},
}

var maestroClouds = map[string]api.Cloud{
	"AZURE":  api.CloudAzure,
	"GOOGLE": api.CloudGoogle,
}

// processMaestro filters MAESTRO management events down to instance
// operations on the clouds we scan. Azure and GCP are scanned at global
// scope, so the region collapses to global regardless of the event.
func processMaestro(raw []map[string]any) []normalizedEvent {
	var events []normalizedEvent
	for _, record := range raw {
		if str(record["group"]) != maestroGroupManagement {
			continue
		}
		subGroup := str(record["subGroup"])
		if subGroup != maestroSubGroupInstance {
			continue
		}
		request, _ := record["request"].(map[string]any)
		if request == nil {
			continue
		}
		cloud, ok := maestroClouds[str(request["cloud"])]
		if !ok {
			continue
		}
		ref, ok := maestroActions[subGroup+"#"+str(record["eventAction"])]
		if !ok {
			continue
		}
		tenantName := str(record["tenantName"])
		if tenantName == "" {
			continue
		}
		events = append(events, normalizedEvent{
			Vendor:     api.EventVendorMaestro,
			Source:     ref.Source,
			Name:       ref.Name,
			TenantName: tenantName,
			Cloud:      cloud,
			Region:     api.GlobalRegion,
		})
	}
	return events
}

func str(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case fmt.Stringer:
		return value.String()
	}
	return ""
}
