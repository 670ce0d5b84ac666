package exceptions

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"fmt"
	"sort"
	"time"

	"github.com/cloudcustos/ruleengine/internal/database"
)

// tagLeaf marks a complete tag path in the prefix tree.
const tagLeaf = "$$"

// Resource is the identifying slice of one cloud resource a policy
// reported.
type Resource struct {
	ARN      string
	ID       string
	Type     string
	Location string
	Tags     map[string]string
}

type tagNode struct {
	children    map[string]*tagNode
	exceptionID string
}

func newTagNode() *tagNode {
	return &tagNode{children: make(map[string]*tagNode)}
}

// Collection indexes a tenant's non-expired exceptions for matching:
// by ARN, by (id, type, location) and by tag sets.
type Collection struct {
	byARN    map[string]string
	byTriple map[string]string
	tags     *tagNode
}

// NewCollection indexes the given exceptions, skipping expired ones.
func NewCollection(docs []*database.ExceptionDocument, now time.Time) *Collection {
	c := &Collection{
		byARN:    make(map[string]string),
		byTriple: make(map[string]string),
		tags:     newTagNode(),
	}
	for _, doc := range docs {
		if doc.Expired(now) {
			continue
		}
		switch {
		case doc.ARN != "":
			c.byARN[doc.ARN] = doc.ID
		case len(doc.TagsFilters) > 0:
			c.insertTags(doc.TagsFilters, doc.ID)
		case doc.ResourceID != "":
			c.byTriple[tripleKey(doc.ResourceID, doc.ResourceType, doc.Location)] = doc.ID
		}
	}
	return c
}

func tripleKey(id, resourceType, location string) string {
	return fmt.Sprintf("%s|%s|%s", id, resourceType, location)
}

// insertTags stores one exception's tag filter as a sorted path ending
// in the leaf marker.
func (c *Collection) insertTags(filters []string, exceptionID string) {
	tokens := make([]string, len(filters))
	copy(tokens, filters)
	sort.Strings(tokens)

	node := c.tags
	for _, token := range tokens {
		child, ok := node.children[token]
		if !ok {
			child = newTagNode()
			node.children[token] = child
		}
		node = child
	}
	leaf, ok := node.children[tagLeaf]
	if !ok {
		leaf = newTagNode()
		node.children[tagLeaf] = leaf
	}
	leaf.exceptionID = exceptionID
}

// Match returns the id of the first exception covering the resource.
// Identification modes are tried in order: ARN, the (id, type, location)
// triple, then tag filters.
func (c *Collection) Match(resource Resource) (string, bool) {
	if resource.ARN != "" {
		if id, ok := c.byARN[resource.ARN]; ok {
			return id, true
		}
	}
	if resource.ID != "" {
		if id, ok := c.byTriple[tripleKey(resource.ID, resource.Type, resource.Location)]; ok {
			return id, true
		}
	}
	return c.matchTags(resource.Tags)
}

// matchTags reports the exception whose full tag path is contained in
// the resource's tag set.
func (c *Collection) matchTags(tags map[string]string) (string, bool) {
	if len(tags) == 0 {
		return "", false
	}
	tokens := make([]string, 0, len(tags))
	for key, value := range tags {
		tokens = append(tokens, key+"="+value)
	}
	sort.Strings(tokens)
	return walkTags(c.tags, tokens)
}

// walkTags descends the tree consuming tokens in order. The tree stores
// sorted paths, so each edge only needs tokens at or past the current
// position.
func walkTags(node *tagNode, tokens []string) (string, bool) {
	if leaf, ok := node.children[tagLeaf]; ok {
		return leaf.exceptionID, true
	}
	for i, token := range tokens {
		child, ok := node.children[token]
		if !ok {
			continue
		}
		if id, ok := walkTags(child, tokens[i+1:]); ok {
			return id, true
		}
	}
	return "", false
}

// Empty reports whether no exception is indexed.
func (c *Collection) Empty() bool {
	return len(c.byARN) == 0 && len(c.byTriple) == 0 && len(c.tags.children) == 0
}
