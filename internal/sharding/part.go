package sharding

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"strings"

	"github.com/cloudcustos/ruleengine/internal/api"
)

// Part holds one policy's findings for one location as of Timestamp.
//
// Invariants:
//   - If Error is empty, PreviousTimestamp is nil and Resources is the
//     truth as of Timestamp.
//   - If Error is set, Resources and PreviousTimestamp carry the last
//     successful state. A nil PreviousTimestamp means the policy has
//     never succeeded and Resources must be considered meaningless.
type Part struct {
	Policy            string           `json:"p"`
	Location          string           `json:"l"`
	Timestamp         float64          `json:"t"`
	Resources         []map[string]any `json:"r"`
	Error             string           `json:"e,omitempty"`
	PreviousTimestamp *float64         `json:"pt,omitempty"`
}

// HasError reports whether the part is currently in error.
func (p *Part) HasError() bool {
	return p.Error != ""
}

// ErrorKind classifies the "kind:message" error string by its prefix.
func (p *Part) ErrorKind() api.PolicyErrorKind {
	if p.Error == "" {
		return ""
	}
	kind, _, _ := strings.Cut(p.Error, ":")
	return api.PolicyErrorKind(kind)
}

// LastSuccessfulTimestamp returns the timestamp the Resources field is
// valid for, or nil when the policy never succeeded at this location.
func (p *Part) LastSuccessfulTimestamp() *float64 {
	if p.Error == "" {
		t := p.Timestamp
		return &t
	}
	return p.PreviousTimestamp
}

// EverSucceeded reports whether Resources carries meaningful data.
func (p *Part) EverSucceeded() bool {
	return p.LastSuccessfulTimestamp() != nil
}

type partKey struct {
	policy   string
	location string
}

// Shard keeps parts keyed by (policy, location).
type Shard struct {
	parts map[partKey]Part
}

func NewShard() *Shard {
	return &Shard{parts: make(map[partKey]Part)}
}

// Put merges incoming into the shard. The merge is timestamp-monotonic
// per key which makes the pipeline idempotent under retries and
// out-of-order worker completions:
//
//  1. An incoming part at or behind the stored timestamp is dropped.
//  2. An incoming error preserves the stored last-successful state.
//  3. An incoming success replaces the entry outright.
//
// Put reports whether the part was accepted.
func (s *Shard) Put(incoming Part) bool {
	key := partKey{policy: incoming.Policy, location: incoming.Location}
	existing, ok := s.parts[key]
	if !ok {
		s.parts[key] = incoming
		return true
	}

	if incoming.Timestamp <= existing.Timestamp {
		return false
	}

	if incoming.HasError() {
		merged := Part{
			Policy:    incoming.Policy,
			Location:  incoming.Location,
			Timestamp: incoming.Timestamp,
			Error:     incoming.Error,
			Resources: existing.Resources,
		}
		if existing.HasError() {
			merged.PreviousTimestamp = existing.PreviousTimestamp
		} else {
			t := existing.Timestamp
			merged.PreviousTimestamp = &t
		}
		s.parts[key] = merged
		return true
	}

	s.parts[key] = incoming
	return true
}

// Get returns the part stored for (policy, location).
func (s *Shard) Get(policy, location string) (Part, bool) {
	part, ok := s.parts[partKey{policy: policy, location: location}]
	return part, ok
}

// Len is the number of stored parts.
func (s *Shard) Len() int {
	return len(s.parts)
}
