package rules

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"strconv"
	"strings"
)

// CommentIndex is the decoded form of a rule's comment field: four
// dot-separated 1-based indexes into the mapping enumerations
// (platform, category, service section, source). Index 0 means the
// dimension is unset.
type CommentIndex struct {
	Platform       int
	Category       int
	ServiceSection int
	Source         int
}

// ParseCommentIndex decodes "P.C.S.R". Short comments leave trailing
// dimensions unset; non-numeric tokens make the whole comment unusable
// and every dimension stays unset.
func ParseCommentIndex(comment string) CommentIndex {
	var index CommentIndex
	if comment == "" {
		return index
	}
	tokens := strings.Split(comment, ".")
	values := make([]int, 0, 4)
	for _, token := range tokens {
		v, err := strconv.Atoi(token)
		if err != nil || v < 0 {
			return CommentIndex{}
		}
		values = append(values, v)
	}
	dims := []*int{&index.Platform, &index.Category, &index.ServiceSection, &index.Source}
	for i, v := range values {
		if i >= len(dims) {
			break
		}
		*dims[i] = v
	}
	return index
}

// MappingMeta holds the ordered enumerations the comment indexes point
// into. The lists are append-only: an index written into a rule comment
// must keep resolving to the same value.
type MappingMeta struct {
	Platforms       []string `json:"platforms"`
	Categories      []string `json:"categories"`
	ServiceSections []string `json:"service_sections"`
	Sources         []string `json:"sources"`
}

func lookup(values []string, index int) string {
	if index <= 0 || index > len(values) {
		return ""
	}
	return values[index-1]
}

// Platform resolves the platform name a comment index points at.
func (m MappingMeta) Platform(i CommentIndex) string { return lookup(m.Platforms, i.Platform) }

// Category resolves the category name.
func (m MappingMeta) Category(i CommentIndex) string { return lookup(m.Categories, i.Category) }

// ServiceSection resolves the service section name.
func (m MappingMeta) ServiceSection(i CommentIndex) string {
	return lookup(m.ServiceSections, i.ServiceSection)
}

// Source resolves the source name.
func (m MappingMeta) Source(i CommentIndex) string { return lookup(m.Sources, i.Source) }

// MappingFilter restricts a rule list by the comment-index dimensions.
// Every non-empty dimension must match (conjunction); an empty
// dimension constrains nothing.
type MappingFilter struct {
	Platforms       []string
	Categories      []string
	ServiceSections []string
	Sources         []string
}

// Empty reports whether the filter constrains nothing.
func (f MappingFilter) Empty() bool {
	return len(f.Platforms) == 0 && len(f.Categories) == 0 &&
		len(f.ServiceSections) == 0 && len(f.Sources) == 0
}

// Matches applies the filter to one rule comment.
func (f MappingFilter) Matches(meta MappingMeta, comment string) bool {
	if f.Empty() {
		return true
	}
	index := ParseCommentIndex(comment)
	return containsOrEmpty(f.Platforms, meta.Platform(index)) &&
		containsOrEmpty(f.Categories, meta.Category(index)) &&
		containsOrEmpty(f.ServiceSections, meta.ServiceSection(index)) &&
		containsOrEmpty(f.Sources, meta.Source(index))
}

func containsOrEmpty(wanted []string, value string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if strings.EqualFold(w, value) {
			return true
		}
	}
	return false
}
