package sharding

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"fmt"

	"github.com/mitchellh/hashstructure/v2"
)

// PolicyMeta describes one policy for reporting purposes. Stored next to
// the shard files at <prefix>/meta.json.
type PolicyMeta struct {
	Description string `json:"description"`
	Resource    string `json:"resource"`
	Comment     string `json:"comment,omitempty"`
}

// Collection is the canonical findings store for one (tenant, job) or
// (tenant, latest) scope. Parts are routed across N shards by the
// distributor so readers interested in a region subset only fetch the
// shards those regions hash into.
type Collection struct {
	distributor Distributor
	shards      map[int]*Shard
	Meta        map[string]PolicyMeta
}

func NewCollection(distributor Distributor) *Collection {
	return &Collection{
		distributor: distributor,
		shards:      make(map[int]*Shard),
		Meta:        make(map[string]PolicyMeta),
	}
}

func (c *Collection) Distributor() Distributor {
	return c.distributor
}

func (c *Collection) shard(n int) *Shard {
	s, ok := c.shards[n]
	if !ok {
		s = NewShard()
		c.shards[n] = s
	}
	return s
}

// PutPart routes the part through the distributor and merges it.
func (c *Collection) PutPart(part Part) bool {
	return c.shard(c.distributor.Distribute(part.Location)).Put(part)
}

// Update re-distributes all parts of other into c, including error
// parts. Each part goes through the merge rules, so a stale other
// cannot regress c.
func (c *Collection) Update(other *Collection) {
	for _, shard := range other.shards {
		for _, part := range shard.parts {
			c.PutPart(part)
		}
	}
	for policy, meta := range other.Meta {
		c.Meta[policy] = meta
	}
}

// Get returns the part for (policy, location), routed through the
// distributor.
func (c *Collection) Get(policy, location string) (Part, bool) {
	return c.shard(c.distributor.Distribute(location)).Get(policy, location)
}

// Parts returns every part that ever succeeded, so Resources is
// meaningful for all of them.
func (c *Collection) Parts() []Part {
	var parts []Part
	for _, shard := range c.shards {
		for _, part := range shard.parts {
			if part.EverSucceeded() {
				parts = append(parts, part)
			}
		}
	}
	return parts
}

// AllParts returns every stored part regardless of state.
func (c *Collection) AllParts() []Part {
	var parts []Part
	for _, shard := range c.shards {
		for _, part := range shard.parts {
			parts = append(parts, part)
		}
	}
	return parts
}

// ErrorParts returns every part currently in error.
func (c *Collection) ErrorParts() []Part {
	var parts []Part
	for _, shard := range c.shards {
		for _, part := range shard.parts {
			if part.HasError() {
				parts = append(parts, part)
			}
		}
	}
	return parts
}

// Len is the total number of parts across all shards.
func (c *Collection) Len() int {
	total := 0
	for _, shard := range c.shards {
		total += shard.Len()
	}
	return total
}

// Difference computes the parts of c that are new relative to old. Per
// (policy, location):
//
//   - No matching part in old, or c's part is in error, or old's part
//     never succeeded: the part is kept as is.
//   - Otherwise the result carries only the resources present in c but
//     absent from old, compared by full-record hash.
//
// Comparing by full-record hash means a resource whose non-identifying
// fields changed counts as new. The result always uses a single
// distributor: diffs are small and read whole.
func (c *Collection) Difference(old *Collection) (*Collection, error) {
	result := NewCollection(SingleDistributor{})
	for policy, meta := range c.Meta {
		result.Meta[policy] = meta
	}

	for _, shard := range c.shards {
		for _, part := range shard.parts {
			previous, ok := old.Get(part.Policy, part.Location)
			if !ok || part.HasError() || !previous.EverSucceeded() {
				result.PutPart(part)
				continue
			}

			seen := make(map[uint64]struct{}, len(previous.Resources))
			for _, resource := range previous.Resources {
				digest, err := hashResource(resource)
				if err != nil {
					return nil, err
				}
				seen[digest] = struct{}{}
			}

			fresh := make([]map[string]any, 0, len(part.Resources))
			for _, resource := range part.Resources {
				digest, err := hashResource(resource)
				if err != nil {
					return nil, err
				}
				if _, ok := seen[digest]; !ok {
					fresh = append(fresh, resource)
				}
			}

			result.PutPart(Part{
				Policy:    part.Policy,
				Location:  part.Location,
				Timestamp: part.Timestamp,
				Resources: fresh,
			})
		}
	}
	return result, nil
}

func hashResource(resource map[string]any) (uint64, error) {
	digest, err := hashstructure.Hash(resource, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("hashing resource: %w", err)
	}
	return digest, nil
}
