package database

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/cloudcustos/ruleengine/internal/api"
)

// Table basenames. A deployment-specific prefix is prepended to each.
const (
	tableTenants        = "Tenants"
	tableCustomers      = "Customers"
	tableUsers          = "Users"
	tableJobs           = "Jobs"
	tableScheduledJobs  = "ScheduledJobs"
	tableRulesets       = "Rulesets"
	tableRules          = "Rules"
	tableRuleSources    = "RuleSources"
	tableLicenses       = "Licenses"
	tableBatchResults   = "BatchResults"
	tableEvents         = "Events"
	tableExceptions     = "Exceptions"
	tableSettings       = "Settings"
	tableTenantSettings = "TenantSettings"
)

const projectIndex = "project-index"
const rulesetIDIndex = "id-index"

var _ DBClient = &DynamoDBClient{}

// DynamoDBConfig stores client configuration data.
type DynamoDBConfig struct {
	TablePrefix string
}

// DynamoDBClient implements DBClient on top of DynamoDB tables.
type DynamoDBClient struct {
	client *dynamodb.Client
	config *DynamoDBConfig
}

// NewDynamoDBClient instantiates a DBClient targeting DynamoDB.
func NewDynamoDBClient(client *dynamodb.Client, config *DynamoDBConfig) *DynamoDBClient {
	return &DynamoDBClient{client: client, config: config}
}

func (d *DynamoDBClient) table(base string) *string {
	return aws.String(d.config.TablePrefix + base)
}

// wrapErr maps provider errors onto the package sentinels.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var throughput *types.ProvisionedThroughputExceededException
	if errors.As(err, &throughput) {
		return fmt.Errorf("%w: %s", ErrThrottled, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException" {
		return fmt.Errorf("%w: %s", ErrThrottled, err)
	}
	return err
}

func (d *DynamoDBClient) DBConnectionTest(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: d.table(tableSettings),
	})
	if err != nil {
		return fmt.Errorf("failed to describe settings table during healthcheck: %w", err)
	}
	return nil
}

// getItem fetches one item by key and unmarshals it into out.
func (d *DynamoDBClient) getItem(ctx context.Context, table string, key map[string]types.AttributeValue, out any) error {
	resp, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: d.table(table),
		Key:       key,
	})
	if err != nil {
		return wrapErr(err)
	}
	if len(resp.Item) == 0 {
		return ErrNotFound
	}
	return attributevalue.UnmarshalMap(resp.Item, out)
}

// putItem marshals doc and writes it, with optional extra key attributes
// the document structs do not carry (composite sort keys).
func (d *DynamoDBClient) putItem(ctx context.Context, table string, doc any, extra map[string]types.AttributeValue) error {
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return err
	}
	for k, v := range extra {
		item[k] = v
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: d.table(table),
		Item:      item,
	})
	return wrapErr(err)
}

func s(v string) types.AttributeValue  { return &types.AttributeValueMemberS{Value: v} }
func n(v float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'f', -1, 64)}
}
func ni(v int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(v)}
}

func (d *DynamoDBClient) GetTenant(ctx context.Context, name string) (*TenantDocument, error) {
	doc := &TenantDocument{}
	if err := d.getItem(ctx, tableTenants, map[string]types.AttributeValue{"n": s(name)}, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *DynamoDBClient) GetTenantByProject(ctx context.Context, cloud api.Cloud, project string) (*TenantDocument, error) {
	resp, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              d.table(tableTenants),
		IndexName:              aws.String(projectIndex),
		KeyConditionExpression: aws.String("acc = :acc"),
		FilterExpression:       aws.String("#c = :c AND act = :act"),
		ExpressionAttributeNames: map[string]string{
			"#c": "c",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":acc": s(project),
			":c":   s(string(cloud)),
			":act": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(resp.Items) == 0 {
		return nil, ErrNotFound
	}
	doc := &TenantDocument{}
	if err := attributevalue.UnmarshalMap(resp.Items[0], doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *DynamoDBClient) SetTenant(ctx context.Context, doc *TenantDocument) error {
	return d.putItem(ctx, tableTenants, doc, nil)
}

func (d *DynamoDBClient) GetCustomer(ctx context.Context, name string) (*CustomerDocument, error) {
	doc := &CustomerDocument{}
	if err := d.getItem(ctx, tableCustomers, map[string]types.AttributeValue{"n": s(name)}, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *DynamoDBClient) SetCustomer(ctx context.Context, doc *CustomerDocument) error {
	return d.putItem(ctx, tableCustomers, doc, nil)
}

func (d *DynamoDBClient) SetUser(ctx context.Context, doc *UserDocument) error {
	return d.putItem(ctx, tableUsers, doc, nil)
}

func (d *DynamoDBClient) GetJob(ctx context.Context, id string) (*JobDocument, error) {
	doc := &JobDocument{}
	if err := d.getItem(ctx, tableJobs, map[string]types.AttributeValue{"id": s(id)}, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *DynamoDBClient) SetJob(ctx context.Context, doc *JobDocument) error {
	return d.putItem(ctx, tableJobs, doc, nil)
}

func (d *DynamoDBClient) ListNonTerminalJobs(ctx context.Context) ([]*JobDocument, error) {
	// A scan is acceptable here: the reconciler runs on a slow tick and
	// the non-terminal population is small relative to the table.
	var docs []*JobDocument
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:        d.table(tableJobs),
		FilterExpression: aws.String("NOT (st IN (:f, :su))"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":f":  s(string(api.JobStatusFailed)),
			":su": s(string(api.JobStatusSucceeded)),
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapErr(err)
		}
		var pageDocs []*JobDocument
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageDocs); err != nil {
			return nil, err
		}
		docs = append(docs, pageDocs...)
	}
	return docs, nil
}

func (d *DynamoDBClient) GetScheduledJob(ctx context.Context, customer, name string) (*ScheduledJobDocument, error) {
	doc := &ScheduledJobDocument{}
	key := map[string]types.AttributeValue{"cust": s(customer), "n": s(name)}
	if err := d.getItem(ctx, tableScheduledJobs, key, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *DynamoDBClient) SetScheduledJob(ctx context.Context, doc *ScheduledJobDocument) error {
	return d.putItem(ctx, tableScheduledJobs, doc, nil)
}

func (d *DynamoDBClient) DeleteScheduledJob(ctx context.Context, customer, name string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: d.table(tableScheduledJobs),
		Key:       map[string]types.AttributeValue{"cust": s(customer), "n": s(name)},
	})
	return wrapErr(err)
}

func (d *DynamoDBClient) ListScheduledJobs(ctx context.Context, customer, tenant string) ([]*ScheduledJobDocument, error) {
	// An empty customer scans every definition; the scheduler bootstrap
	// needs the full set.
	if customer == "" {
		resp, err := d.client.Scan(ctx, &dynamodb.ScanInput{TableName: d.table(tableScheduledJobs)})
		if err != nil {
			return nil, wrapErr(err)
		}
		var docs []*ScheduledJobDocument
		if err := attributevalue.UnmarshalListOfMaps(resp.Items, &docs); err != nil {
			return nil, err
		}
		return docs, nil
	}

	input := &dynamodb.QueryInput{
		TableName:              d.table(tableScheduledJobs),
		KeyConditionExpression: aws.String("cust = :cust"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cust": s(customer),
		},
	}
	if tenant != "" {
		input.FilterExpression = aws.String("tn = :tn")
		input.ExpressionAttributeValues[":tn"] = s(tenant)
	}
	resp, err := d.client.Query(ctx, input)
	if err != nil {
		return nil, wrapErr(err)
	}
	var docs []*ScheduledJobDocument
	if err := attributevalue.UnmarshalListOfMaps(resp.Items, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Ruleset rows are keyed (customer, name#version); the LM-issued id is
// reachable through a sparse GSI.
func rulesetSortKey(name, version string) string {
	return name + "#" + version
}

func (d *DynamoDBClient) GetRuleset(ctx context.Context, customer, name, version string) (*RulesetDocument, error) {
	doc := &RulesetDocument{}
	key := map[string]types.AttributeValue{"cust": s(customer), "sk": s(rulesetSortKey(name, version))}
	if err := d.getItem(ctx, tableRulesets, key, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *DynamoDBClient) GetLatestRuleset(ctx context.Context, customer, name string) (*RulesetDocument, error) {
	versions, err := d.ListRulesetVersions(ctx, customer, name)
	if err != nil {
		return nil, err
	}
	if latest := LatestRuleset(versions); latest != nil {
		return latest, nil
	}
	return nil, ErrNotFound
}

func (d *DynamoDBClient) GetRulesetByID(ctx context.Context, id string) (*RulesetDocument, error) {
	resp, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              d.table(tableRulesets),
		IndexName:              aws.String(rulesetIDIndex),
		KeyConditionExpression: aws.String("id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": s(id),
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(resp.Items) == 0 {
		return nil, ErrNotFound
	}
	doc := &RulesetDocument{}
	if err := attributevalue.UnmarshalMap(resp.Items[0], doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *DynamoDBClient) ListRulesetVersions(ctx context.Context, customer, name string) ([]*RulesetDocument, error) {
	resp, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              d.table(tableRulesets),
		KeyConditionExpression: aws.String("cust = :cust AND begins_with(sk, :pfx)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cust": s(customer),
			":pfx":  s(name + "#"),
		},
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	var docs []*RulesetDocument
	if err := attributevalue.UnmarshalListOfMaps(resp.Items, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (d *DynamoDBClient) ListEventDrivenRulesets(ctx context.Context, cloud api.Cloud) ([]*RulesetDocument, error) {
	input := &dynamodb.QueryInput{
		TableName:              d.table(tableRulesets),
		KeyConditionExpression: aws.String("cust = :cust"),
		FilterExpression:       aws.String("ed = :ed"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cust": s(api.SystemCustomer),
			":ed":   &types.AttributeValueMemberBOOL{Value: true},
		},
	}
	if cloud != "" {
		input.FilterExpression = aws.String("ed = :ed AND #c = :c")
		input.ExpressionAttributeNames = map[string]string{"#c": "c"}
		input.ExpressionAttributeValues[":c"] = s(string(cloud))
	}
	resp, err := d.client.Query(ctx, input)
	if err != nil {
		return nil, wrapErr(err)
	}
	var docs []*RulesetDocument
	if err := attributevalue.UnmarshalListOfMaps(resp.Items, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (d *DynamoDBClient) SetRuleset(ctx context.Context, doc *RulesetDocument) error {
	extra := map[string]types.AttributeValue{"sk": s(rulesetSortKey(doc.Name, doc.Version))}
	return d.putItem(ctx, tableRulesets, doc, extra)
}

func (d *DynamoDBClient) DeleteRuleset(ctx context.Context, customer, name, version string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: d.table(tableRulesets),
		Key:       map[string]types.AttributeValue{"cust": s(customer), "sk": s(rulesetSortKey(name, version))},
	})
	return wrapErr(err)
}

func (d *DynamoDBClient) DeleteRulesetVersions(ctx context.Context, customer, name string) error {
	versions, err := d.ListRulesetVersions(ctx, customer, name)
	if err != nil {
		return err
	}
	for _, doc := range versions {
		if err := d.DeleteRuleset(ctx, customer, doc.Name, doc.Version); err != nil {
			return err
		}
	}
	return nil
}

// Rule rows are keyed (customer, name#version).
func (d *DynamoDBClient) GetRule(ctx context.Context, customer, name string) (*RuleDocument, error) {
	resp, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              d.table(tableRules),
		KeyConditionExpression: aws.String("cust = :cust AND begins_with(sk, :pfx)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cust": s(customer),
			":pfx":  s(name + "#"),
		},
		// Versions sort lexicographically within one rule name; the last
		// row is the latest.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(resp.Items) == 0 {
		return nil, ErrNotFound
	}
	doc := &RuleDocument{}
	if err := attributevalue.UnmarshalMap(resp.Items[0], doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *DynamoDBClient) queryRules(ctx context.Context, customer string, filter string, names map[string]string, values map[string]types.AttributeValue) ([]*RuleDocument, error) {
	values[":cust"] = s(customer)
	input := &dynamodb.QueryInput{
		TableName:                 d.table(tableRules),
		KeyConditionExpression:    aws.String("cust = :cust"),
		ExpressionAttributeValues: values,
	}
	if filter != "" {
		input.FilterExpression = aws.String(filter)
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}
	var docs []*RuleDocument
	paginator := dynamodb.NewQueryPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapErr(err)
		}
		var pageDocs []*RuleDocument
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageDocs); err != nil {
			return nil, err
		}
		docs = append(docs, pageDocs...)
	}
	return docs, nil
}

func (d *DynamoDBClient) ListRules(ctx context.Context, customer string, cloud api.Cloud) ([]*RuleDocument, error) {
	if cloud == "" {
		return d.queryRules(ctx, customer, "", nil, map[string]types.AttributeValue{})
	}
	return d.queryRules(ctx, customer, "#c = :c",
		map[string]string{"#c": "c"},
		map[string]types.AttributeValue{":c": s(string(cloud))})
}

func (d *DynamoDBClient) ListRulesBySource(ctx context.Context, customer, sourceID string) ([]*RuleDocument, error) {
	return d.queryRules(ctx, customer, "src = :src", nil,
		map[string]types.AttributeValue{":src": s(sourceID)})
}

func (d *DynamoDBClient) ListRulesByGitProject(ctx context.Context, customer, project, ref string) ([]*RuleDocument, error) {
	prefix := project + "#"
	if ref != "" {
		prefix += ref + "#"
	}
	return d.queryRules(ctx, customer, "begins_with(loc, :loc)", nil,
		map[string]types.AttributeValue{":loc": s(prefix)})
}

func (d *DynamoDBClient) SetRule(ctx context.Context, doc *RuleDocument) error {
	extra := map[string]types.AttributeValue{"sk": s(doc.Name + "#" + doc.Version)}
	return d.putItem(ctx, tableRules, doc, extra)
}

func (d *DynamoDBClient) GetRuleSource(ctx context.Context, customer, id string) (*RuleSourceDocument, error) {
	doc := &RuleSourceDocument{}
	key := map[string]types.AttributeValue{"cust": s(customer), "id": s(id)}
	if err := d.getItem(ctx, tableRuleSources, key, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *DynamoDBClient) SetRuleSource(ctx context.Context, doc *RuleSourceDocument) error {
	return d.putItem(ctx, tableRuleSources, doc, nil)
}

func (d *DynamoDBClient) GetLicense(ctx context.Context, key string) (*LicenseDocument, error) {
	doc := &LicenseDocument{}
	if err := d.getItem(ctx, tableLicenses, map[string]types.AttributeValue{"lk": s(key)}, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *DynamoDBClient) SetLicense(ctx context.Context, doc *LicenseDocument) error {
	return d.putItem(ctx, tableLicenses, doc, nil)
}

func (d *DynamoDBClient) GetBatchResults(ctx context.Context, id string) (*BatchResultsDocument, error) {
	doc := &BatchResultsDocument{}
	if err := d.getItem(ctx, tableBatchResults, map[string]types.AttributeValue{"id": s(id)}, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *DynamoDBClient) SetBatchResults(ctx context.Context, doc *BatchResultsDocument) error {
	return d.putItem(ctx, tableBatchResults, doc, nil)
}

func (d *DynamoDBClient) PutEvents(ctx context.Context, doc *EventDocument) error {
	return d.putItem(ctx, tableEvents, doc, nil)
}

func (d *DynamoDBClient) ListEventsSince(ctx context.Context, partition int, since float64, limit int) ([]*EventDocument, error) {
	input := &dynamodb.QueryInput{
		TableName:              d.table(tableEvents),
		KeyConditionExpression: aws.String("p = :p AND ts > :ts"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p":  ni(partition),
			":ts": n(since),
		},
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	resp, err := d.client.Query(ctx, input)
	if err != nil {
		return nil, wrapErr(err)
	}
	var docs []*EventDocument
	if err := attributevalue.UnmarshalListOfMaps(resp.Items, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (d *DynamoDBClient) DeleteEventsUpTo(ctx context.Context, partition int, upTo float64) error {
	resp, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              d.table(tableEvents),
		KeyConditionExpression: aws.String("p = :p AND ts <= :ts"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p":  ni(partition),
			":ts": n(upTo),
		},
		ProjectionExpression: aws.String("p, ts"),
	})
	if err != nil {
		return wrapErr(err)
	}
	for _, item := range resp.Items {
		_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: d.table(tableEvents),
			Key:       map[string]types.AttributeValue{"p": item["p"], "ts": item["ts"]},
		})
		if err != nil {
			return wrapErr(err)
		}
	}
	return nil
}

func (d *DynamoDBClient) ListExceptions(ctx context.Context, customer, tenant string) ([]*ExceptionDocument, error) {
	resp, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              d.table(tableExceptions),
		KeyConditionExpression: aws.String("cust = :cust"),
		FilterExpression:       aws.String("attribute_not_exists(tn) OR tn = :tn"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cust": s(customer),
			":tn":   s(tenant),
		},
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	var docs []*ExceptionDocument
	if err := attributevalue.UnmarshalListOfMaps(resp.Items, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (d *DynamoDBClient) SetException(ctx context.Context, doc *ExceptionDocument) error {
	return d.putItem(ctx, tableExceptions, doc, nil)
}

func (d *DynamoDBClient) GetSetting(ctx context.Context, name string) (*SettingDocument, error) {
	doc := &SettingDocument{}
	if err := d.getItem(ctx, tableSettings, map[string]types.AttributeValue{"n": s(name)}, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *DynamoDBClient) SetSetting(ctx context.Context, doc *SettingDocument) error {
	return d.putItem(ctx, tableSettings, doc, nil)
}

func (d *DynamoDBClient) GetTenantSetting(ctx context.Context, tenant, key string) (*TenantSettingDocument, error) {
	doc := &TenantSettingDocument{}
	k := map[string]types.AttributeValue{"tn": s(tenant), "k": s(key)}
	if err := d.getItem(ctx, tableTenantSettings, k, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *DynamoDBClient) SetTenantSetting(ctx context.Context, doc *TenantSettingDocument) error {
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return err
	}
	input := &dynamodb.PutItemInput{
		TableName: d.table(tableTenantSettings),
		Item:      item,
	}
	if doc.Revision == 1 {
		input.ConditionExpression = aws.String("attribute_not_exists(tn) OR rev = :prev")
	} else {
		input.ConditionExpression = aws.String("rev = :prev")
	}
	input.ExpressionAttributeValues = map[string]types.AttributeValue{
		":prev": &types.AttributeValueMemberN{Value: strconv.FormatInt(doc.Revision-1, 10)},
	}
	_, err = d.client.PutItem(ctx, input)
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrPreconditionFailed
		}
		return wrapErr(err)
	}
	return nil
}

func (d *DynamoDBClient) DeleteTenantSetting(ctx context.Context, tenant, key string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: d.table(tableTenantSettings),
		Key:       map[string]types.AttributeValue{"tn": s(tenant), "k": s(key)},
	})
	return wrapErr(err)
}
