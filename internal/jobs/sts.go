package jobs

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AWSAccountResolver resolves the AWS account id the submitted
// credentials belong to.
type AWSAccountResolver func(ctx context.Context, creds map[string]string) (string, error)

// ResolveAWSAccount calls STS GetCallerIdentity with the submitted
// static credentials.
func ResolveAWSAccount(ctx context.Context, creds map[string]string) (string, error) {
	accessKey := creds["AWS_ACCESS_KEY_ID"]
	secretKey := creds["AWS_SECRET_ACCESS_KEY"]
	sessionToken := creds["AWS_SESSION_TOKEN"]
	if accessKey == "" || secretKey == "" {
		return "", errors.New("credentials must carry AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, sessionToken)))
	if err != nil {
		return "", fmt.Errorf("building sts config: %w", err)
	}

	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("sts caller identity: %w", err)
	}
	return aws.ToString(identity.Account), nil
}
