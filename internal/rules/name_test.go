package rules

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		input string
		want  Name
	}{
		{
			input: "ecc-aws-042-s3-public-access",
			want:  Name{Vendor: "ecc", Cloud: "aws", Number: "042", HumanName: "s3-public-access"},
		},
		{
			input: "ecc-gcp-001-iam",
			want:  Name{Vendor: "ecc", Cloud: "gcp", Number: "001", HumanName: "iam"},
		},
		{
			input: "ecc-k8s-007",
			want:  Name{Vendor: "ecc", Cloud: "k8s", Number: "007"},
		},
		{
			// Second token is not a cloud, so it becomes the number.
			input: "ecc-042-human-name",
			want:  Name{Vendor: "ecc", Number: "042", HumanName: "human-name"},
		},
		{
			input: "ecc-azure",
			want:  Name{Vendor: "ecc", Cloud: "azure"},
		},
		{
			input: "ecc",
			want:  Name{Vendor: "ecc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseName(tt.input))
		})
	}
}

func TestResolve(t *testing.T) {
	corpus := []string{
		"ecc-aws-001-s3-encryption",
		"ecc-aws-002-s3-versioning",
		"ecc-aws-010-iam-mfa",
	}

	tests := []struct {
		name string
		input string
		opts ResolveOptions
		want Resolution
	}{
		{
			name:  "unique substring resolves",
			input: "010",
			want:  Resolution{Input: "010", Resolved: []string{"ecc-aws-010-iam-mfa"}},
		},
		{
			name:  "multiple matches stay unresolved by default",
			input: "s3",
			want:  Resolution{Input: "s3"},
		},
		{
			name:  "allow multiple yields every match",
			input: "s3",
			opts:  ResolveOptions{AllowMultiple: true},
			want: Resolution{Input: "s3", Resolved: []string{
				"ecc-aws-001-s3-encryption",
				"ecc-aws-002-s3-versioning",
			}},
		},
		{
			name:  "allow ambiguous yields the first match",
			input: "s3",
			opts:  ResolveOptions{AllowAmbiguous: true},
			want:  Resolution{Input: "s3", Resolved: []string{"ecc-aws-001-s3-encryption"}},
		},
		{
			name:  "no match carries a suggestion",
			input: "ecc-aws-001-s3-encriptyon",
			want:  Resolution{Input: "ecc-aws-001-s3-encriptyon", Suggestion: "ecc-aws-001-s3-encryption"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(corpus, []string{tt.input}, tt.opts)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0])
		})
	}
}

func TestResolveStrict(t *testing.T) {
	corpus := []string{"ecc-aws-001-x", "ecc-aws-002-y"}

	resolved, unresolved := ResolveStrict(corpus, []string{"001", "002", "zzz"})
	assert.Equal(t, []string{"ecc-aws-001-x", "ecc-aws-002-y"}, resolved)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "zzz", unresolved[0].Input)
	assert.NotEmpty(t, unresolved[0].Suggestion)
}
