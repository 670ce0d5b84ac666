package sharding

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

// Distributor routes a part's location to one of N shards. Routing must
// be stable across releases: historical shard files are read back with
// the same distributor that wrote them.
type Distributor interface {
	// Distribute maps a location key to a shard index in [0, N).
	Distribute(key string) int
	// N is the shard count.
	N() int
}

// SingleDistributor routes everything to shard 0. Used for Azure, GCP
// and Kubernetes: those clouds are scanned in global scope per project,
// so sharding by region buys nothing.
type SingleDistributor struct{}

func (SingleDistributor) Distribute(string) int { return 0 }

func (SingleDistributor) N() int { return 1 }

// awsRegions is ordered: "global" first, then the public AWS regions.
// The order is append-only. Never reorder or remove entries: the index
// of a region determines which historical shard file its parts live in.
var awsRegions = []string{
	"global",
	"us-east-1",
	"us-east-2",
	"us-west-1",
	"us-west-2",
	"af-south-1",
	"ap-east-1",
	"ap-south-1",
	"ap-northeast-3",
	"ap-northeast-2",
	"ap-southeast-1",
	"ap-southeast-2",
	"ap-northeast-1",
	"ca-central-1",
	"eu-central-1",
	"eu-west-1",
	"eu-west-2",
	"eu-south-1",
	"eu-west-3",
	"eu-north-1",
	"me-south-1",
	"sa-east-1",
	"ap-south-2",
	"ap-southeast-3",
	"ap-southeast-4",
	"eu-central-2",
	"eu-south-2",
	"me-central-1",
	"il-central-1",
	"ca-west-1",
}

var awsRegionIndex = func() map[string]int {
	m := make(map[string]int, len(awsRegions))
	for i, region := range awsRegions {
		m[region] = i
	}
	return m
}()

// AWSRegionDistributor shards AWS findings by region index so that the
// "update latest for tenant" path only touches the shards a job's
// regions hash into instead of the whole corpus.
type AWSRegionDistributor struct {
	n int
}

// NewAWSRegionDistributor panics on a non-positive shard count.
func NewAWSRegionDistributor(n int) AWSRegionDistributor {
	if n <= 0 {
		panic("shard count must be positive")
	}
	return AWSRegionDistributor{n: n}
}

func (d AWSRegionDistributor) Distribute(key string) int {
	idx, ok := awsRegionIndex[key]
	if !ok {
		// Unknown regions all land in one bucket.
		idx = len(awsRegions)
	}
	return idx % d.n
}

func (d AWSRegionDistributor) N() int { return d.n }

// DistributorFor picks the distributor a cloud's collections use.
// AWS shards two ways; everything else is single-sharded.
func DistributorFor(cloud string) Distributor {
	if cloud == "AWS" {
		return NewAWSRegionDistributor(2)
	}
	return SingleDistributor{}
}
