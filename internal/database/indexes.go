package database

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type tableSpec struct {
	name       string
	hashKey    string
	hashType   types.ScalarAttributeType
	rangeKey   string
	rangeType  types.ScalarAttributeType
	ttl        string
	globalIdxs []indexSpec
}

type indexSpec struct {
	name     string
	hashKey  string
	hashType types.ScalarAttributeType
}

func tableSpecs() []tableSpec {
	return []tableSpec{
		{name: tableTenants, hashKey: "n", hashType: types.ScalarAttributeTypeS,
			globalIdxs: []indexSpec{{name: projectIndex, hashKey: "acc", hashType: types.ScalarAttributeTypeS}}},
		{name: tableCustomers, hashKey: "n", hashType: types.ScalarAttributeTypeS},
		{name: tableUsers, hashKey: "u", hashType: types.ScalarAttributeTypeS},
		{name: tableJobs, hashKey: "id", hashType: types.ScalarAttributeTypeS, ttl: "ttl"},
		{name: tableScheduledJobs, hashKey: "cust", hashType: types.ScalarAttributeTypeS,
			rangeKey: "n", rangeType: types.ScalarAttributeTypeS},
		{name: tableRulesets, hashKey: "cust", hashType: types.ScalarAttributeTypeS,
			rangeKey: "sk", rangeType: types.ScalarAttributeTypeS,
			globalIdxs: []indexSpec{{name: rulesetIDIndex, hashKey: "id", hashType: types.ScalarAttributeTypeS}}},
		{name: tableRules, hashKey: "cust", hashType: types.ScalarAttributeTypeS,
			rangeKey: "sk", rangeType: types.ScalarAttributeTypeS},
		{name: tableRuleSources, hashKey: "cust", hashType: types.ScalarAttributeTypeS,
			rangeKey: "id", rangeType: types.ScalarAttributeTypeS},
		{name: tableLicenses, hashKey: "lk", hashType: types.ScalarAttributeTypeS},
		{name: tableBatchResults, hashKey: "id", hashType: types.ScalarAttributeTypeS, ttl: "ttl"},
		{name: tableEvents, hashKey: "p", hashType: types.ScalarAttributeTypeN,
			rangeKey: "ts", rangeType: types.ScalarAttributeTypeN, ttl: "ttl"},
		{name: tableExceptions, hashKey: "cust", hashType: types.ScalarAttributeTypeS,
			rangeKey: "id", rangeType: types.ScalarAttributeTypeS},
		{name: tableSettings, hashKey: "n", hashType: types.ScalarAttributeTypeS},
		{name: tableTenantSettings, hashKey: "tn", hashType: types.ScalarAttributeTypeS,
			rangeKey: "k", rangeType: types.ScalarAttributeTypeS},
	}
}

// CreateIndexes provisions every table the client expects. Existing tables
// are left untouched.
func (d *DynamoDBClient) CreateIndexes(ctx context.Context, logger *slog.Logger) error {
	for _, spec := range tableSpecs() {
		if err := d.createTable(ctx, spec); err != nil {
			var inUse *types.ResourceInUseException
			if errors.As(err, &inUse) {
				logger.Info(fmt.Sprintf("table %s already exists", spec.name))
				continue
			}
			return fmt.Errorf("failed to create table %s: %w", spec.name, err)
		}
		logger.Info(fmt.Sprintf("created table %s", spec.name))
	}
	return nil
}

func (d *DynamoDBClient) createTable(ctx context.Context, spec tableSpec) error {
	attrs := []types.AttributeDefinition{
		{AttributeName: aws.String(spec.hashKey), AttributeType: spec.hashType},
	}
	schema := []types.KeySchemaElement{
		{AttributeName: aws.String(spec.hashKey), KeyType: types.KeyTypeHash},
	}
	if spec.rangeKey != "" {
		attrs = append(attrs, types.AttributeDefinition{
			AttributeName: aws.String(spec.rangeKey), AttributeType: spec.rangeType})
		schema = append(schema, types.KeySchemaElement{
			AttributeName: aws.String(spec.rangeKey), KeyType: types.KeyTypeRange})
	}

	input := &dynamodb.CreateTableInput{
		TableName:            d.table(spec.name),
		AttributeDefinitions: attrs,
		KeySchema:            schema,
		BillingMode:          types.BillingModePayPerRequest,
	}
	for _, idx := range spec.globalIdxs {
		input.AttributeDefinitions = append(input.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(idx.hashKey), AttributeType: idx.hashType})
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName: aws.String(idx.name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(idx.hashKey), KeyType: types.KeyTypeHash},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}

	if _, err := d.client.CreateTable(ctx, input); err != nil {
		return err
	}

	if spec.ttl != "" {
		_, err := d.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
			TableName: d.table(spec.name),
			TimeToLiveSpecification: &types.TimeToLiveSpecification{
				AttributeName: aws.String(spec.ttl),
				Enabled:       aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to enable TTL on %s: %w", spec.name, err)
		}
	}
	return nil
}
