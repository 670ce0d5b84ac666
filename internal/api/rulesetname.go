package api

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import "strings"

// RulesetName identifies a ruleset in a job request. Version and LicenseKey
// are optional qualifiers; the serialized form is "name[:version[:license]]".
// An empty version slot is kept when a license key follows ("name::license").
type RulesetName struct {
	Name       string
	Version    string
	LicenseKey string
}

// ParseRulesetName splits a serialized ruleset reference.
func ParseRulesetName(s string) RulesetName {
	parts := strings.SplitN(s, ":", 3)
	rn := RulesetName{Name: parts[0]}
	if len(parts) > 1 {
		rn.Version = parts[1]
	}
	if len(parts) > 2 {
		rn.LicenseKey = parts[2]
	}
	return rn
}

func (rn RulesetName) String() string {
	if rn.LicenseKey != "" {
		return rn.Name + ":" + rn.Version + ":" + rn.LicenseKey
	}
	if rn.Version != "" {
		return rn.Name + ":" + rn.Version
	}
	return rn.Name
}
