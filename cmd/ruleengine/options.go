package main

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	vault "github.com/hashicorp/vault/api"
	"github.com/spf13/cobra"

	"github.com/cloudcustos/ruleengine/internal/blob"
	"github.com/cloudcustos/ruleengine/internal/database"
	"github.com/cloudcustos/ruleengine/internal/secrets"
)

// DeploymentOpts carries the flags shared by the serving and
// administrative commands.
type DeploymentOpts struct {
	useCache bool

	awsRegion      string
	tablePrefix    string
	rulesetsBucket string
	reportsBucket  string
	vaultMount     string
}

func (opts *DeploymentOpts) bindCommonFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&opts.useCache, "use-cache", false, "run against in-memory stores instead of AWS")
	cmd.Flags().StringVar(&opts.awsRegion, "aws-region", os.Getenv("AWS_REGION"), "AWS region of the deployment")
	cmd.Flags().StringVar(&opts.tablePrefix, "table-prefix", os.Getenv("TABLE_PREFIX"), "prefix prepended to every DynamoDB table name")
	cmd.Flags().StringVar(&opts.rulesetsBucket, "rulesets-bucket", os.Getenv("RULESETS_BUCKET"), "S3 bucket holding ruleset bundles and event mappings")
	cmd.Flags().StringVar(&opts.reportsBucket, "reports-bucket", os.Getenv("REPORTS_BUCKET"), "S3 bucket holding scan reports")
	cmd.Flags().StringVar(&opts.vaultMount, "vault-mount", "custos", "Vault KV v2 mount for job credentials and keys")
}

func (opts *DeploymentOpts) awsConfig(ctx context.Context) (awsconfig.LoadOptionsFunc, error) {
	if opts.awsRegion == "" {
		return nil, fmt.Errorf("an AWS region is required, set --aws-region or AWS_REGION")
	}
	return awsconfig.WithRegion(opts.awsRegion), nil
}

func (opts *DeploymentOpts) dynamoClient(ctx context.Context) (*database.DynamoDBClient, error) {
	withRegion, err := opts.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, withRegion)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return database.NewDynamoDBClient(dynamodb.NewFromConfig(cfg), &database.DynamoDBConfig{
		TablePrefix: opts.tablePrefix,
	}), nil
}

func (opts *DeploymentOpts) dbClient(ctx context.Context) (database.DBClient, error) {
	if opts.useCache {
		return database.NewCache(), nil
	}
	return opts.dynamoClient(ctx)
}

func (opts *DeploymentOpts) blobClient(ctx context.Context) (blob.Client, error) {
	if opts.useCache {
		return blob.NewMemory(), nil
	}
	withRegion, err := opts.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, withRegion)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return blob.NewS3Client(s3.NewFromConfig(cfg)), nil
}

func (opts *DeploymentOpts) batchClient(ctx context.Context) (*batch.Client, error) {
	withRegion, err := opts.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, withRegion)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return batch.NewFromConfig(cfg), nil
}

// secretStore connects to Vault using the standard VAULT_ADDR and
// VAULT_TOKEN environment.
func (opts *DeploymentOpts) secretStore(ctx context.Context) (secrets.Store, error) {
	if opts.useCache {
		return secrets.NewMemory(), nil
	}
	client, err := vault.NewClient(vault.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	return secrets.NewVaultStore(client, opts.vaultMount), nil
}

func (opts *DeploymentOpts) vaultStore(ctx context.Context) (*secrets.VaultStore, error) {
	client, err := vault.NewClient(vault.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	return secrets.NewVaultStore(client, opts.vaultMount), nil
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{}))
}
