package rules

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Name is the parsed form of a rule id such as "ecc-aws-042-human-name".
// Up to four hyphen-separated tokens: vendor, cloud, number, human name.
// Cloud is recognized only when the second token is one of the known
// cloud domains; later parts are optional but must appear in order.
type Name struct {
	Vendor    string
	Cloud     string
	Number    string
	HumanName string
}

var cloudTokens = map[string]struct{}{
	"aws":   {},
	"azure": {},
	"gcp":   {},
	"k8s":   {},
}

// ParseName splits a rule id into its structured parts. Missing parts
// stay empty; parsing never fails.
func ParseName(ruleName string) Name {
	tokens := strings.Split(ruleName, "-")
	parsed := Name{Vendor: tokens[0]}
	rest := tokens[1:]

	if len(rest) > 0 {
		if _, ok := cloudTokens[rest[0]]; ok {
			parsed.Cloud = rest[0]
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		parsed.Number = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 {
		parsed.HumanName = strings.Join(rest, "-")
	}
	return parsed
}

// ResolveOptions control how fuzzy matching treats multiple hits.
type ResolveOptions struct {
	// AllowMultiple yields every matching rule name per input.
	AllowMultiple bool
	// AllowAmbiguous yields the first match even when several rules
	// match. Ignored when AllowMultiple is set.
	AllowAmbiguous bool
}

// Resolution is the outcome of resolving one input fragment.
type Resolution struct {
	Input    string
	Resolved []string
	// Suggestion is the closest rule name by edit distance when the
	// input resolved to nothing, for error messages.
	Suggestion string
}

// Unresolved reports whether the input matched no usable rule.
func (r Resolution) Unresolved() bool {
	return len(r.Resolved) == 0
}

// Resolve matches each input fragment against the rule name corpus by
// substring containment. An input matching several rules is reported
// unresolved unless an option relaxes that: multiple matches never
// collapse silently.
func Resolve(ruleNames []string, inputs []string, opts ResolveOptions) []Resolution {
	sorted := make([]string, len(ruleNames))
	copy(sorted, ruleNames)
	sort.Strings(sorted)

	resolutions := make([]Resolution, 0, len(inputs))
	for _, input := range inputs {
		var matches []string
		for _, name := range sorted {
			if strings.Contains(name, input) {
				matches = append(matches, name)
			}
		}

		resolution := Resolution{Input: input}
		switch {
		case len(matches) == 1 || (len(matches) > 1 && opts.AllowAmbiguous && !opts.AllowMultiple):
			resolution.Resolved = matches[:1]
		case len(matches) > 1 && opts.AllowMultiple:
			resolution.Resolved = matches
		case len(matches) == 0:
			resolution.Suggestion = closest(sorted, input)
		default:
			// Multiple matches, no relaxation: unresolved.
		}
		resolutions = append(resolutions, resolution)
	}
	return resolutions
}

// ResolveStrict resolves each input to exactly one rule name and
// returns the unresolved leftovers separately.
func ResolveStrict(ruleNames []string, inputs []string) (resolved []string, unresolved []Resolution) {
	for _, resolution := range Resolve(ruleNames, inputs, ResolveOptions{}) {
		if resolution.Unresolved() {
			unresolved = append(unresolved, resolution)
			continue
		}
		resolved = append(resolved, resolution.Resolved[0])
	}
	return resolved, unresolved
}

func closest(sorted []string, input string) string {
	best := ""
	bestDistance := -1
	for _, name := range sorted {
		d := levenshtein.DistanceForStrings([]rune(input), []rune(name), levenshtein.DefaultOptions)
		if bestDistance == -1 || d < bestDistance {
			best, bestDistance = name, d
		}
	}
	return best
}
