package blob

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/gzip"
)

var _ Client = &S3Client{}

// S3Client implements Client against S3.
type S3Client struct {
	client    *s3.Client
	presigner *s3.PresignClient
}

// NewS3Client wraps an S3 API client.
func NewS3Client(client *s3.Client) *S3Client {
	return &S3Client{
		client:    client,
		presigner: s3.NewPresignClient(client),
	}
}

func (c *S3Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
		}
		return nil, err
	}
	return resp.Body, nil
}

func (c *S3Client) PutObject(ctx context.Context, bucket, key string, body io.Reader) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	return err
}

func (c *S3Client) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}

func (c *S3Client) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (c *S3Client) GetGzipJSON(ctx context.Context, bucket, key string, out any) error {
	body, err := c.GetObject(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer body.Close()
	return ReadGzipJSON(body, out)
}

// PutGzipJSON spools the gzipped payload to a temp file before upload so
// arbitrarily large shard writes do not hold the whole compressed body
// in memory, and so S3 receives a seekable body with a known length.
func (c *S3Client) PutGzipJSON(ctx context.Context, bucket, key string, v any) error {
	tmp, err := os.CreateTemp("", "blob-*.json.gz")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := WriteGzipJSON(tmp, v); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return c.PutObject(ctx, bucket, key, tmp)
}

func (c *S3Client) PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// CreateBucket provisions a bucket with lifecycle rules: 7 days for the
// on-demand/ and meta/ prefixes, snapshotExpireDays for objects tagged
// Type=DataSnapshot.
func (c *S3Client) CreateBucket(ctx context.Context, bucket string, snapshotExpireDays int) error {
	_, err := c.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		if !errors.As(err, &owned) {
			return err
		}
	}

	rules := []s3types.LifecycleRule{
		{
			ID:         aws.String("expire-on-demand"),
			Status:     s3types.ExpirationStatusEnabled,
			Filter:     &s3types.LifecycleRuleFilter{Prefix: aws.String("on-demand/")},
			Expiration: &s3types.LifecycleExpiration{Days: aws.Int32(7)},
		},
		{
			ID:         aws.String("expire-meta"),
			Status:     s3types.ExpirationStatusEnabled,
			Filter:     &s3types.LifecycleRuleFilter{Prefix: aws.String("meta/")},
			Expiration: &s3types.LifecycleExpiration{Days: aws.Int32(7)},
		},
	}
	if snapshotExpireDays > 0 {
		rules = append(rules, s3types.LifecycleRule{
			ID:     aws.String("expire-data-snapshots"),
			Status: s3types.ExpirationStatusEnabled,
			Filter: &s3types.LifecycleRuleFilter{
				Tag: &s3types.Tag{Key: aws.String("Type"), Value: aws.String("DataSnapshot")},
			},
			Expiration: &s3types.LifecycleExpiration{Days: aws.Int32(int32(snapshotExpireDays))},
		})
	}

	_, err = c.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(bucket),
		LifecycleConfiguration: &s3types.BucketLifecycleConfiguration{
			Rules: rules,
		},
	})
	return err
}

// ReadGzipJSON decodes a gzipped JSON stream into out.
func ReadGzipJSON(r io.Reader, out any) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()
	return json.NewDecoder(gz).Decode(out)
}

// WriteGzipJSON encodes v as gzipped JSON onto w.
func WriteGzipJSON(w io.Writer, v any) error {
	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(v); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}
