package main

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/database"
	"github.com/cloudcustos/ruleengine/internal/licenses"
	"github.com/cloudcustos/ruleengine/internal/rules"
)

func newCreateIndexesCmd() *cobra.Command {
	opts := &DeploymentOpts{}
	cmd := &cobra.Command{
		Use:   "create-indexes",
		Args:  cobra.NoArgs,
		Short: "Provision the DynamoDB tables and secondary indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.dynamoClient(cmd.Context())
			if err != nil {
				return err
			}
			return client.CreateIndexes(cmd.Context(), defaultLogger())
		},
	}
	opts.bindCommonFlags(cmd)
	return cmd
}

func newCreateBucketsCmd() *cobra.Command {
	opts := &DeploymentOpts{}
	var snapshotExpireDays int
	cmd := &cobra.Command{
		Use:   "create-buckets",
		Args:  cobra.NoArgs,
		Short: "Provision the rulesets and reports buckets with lifecycle rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := opts.blobClient(ctx)
			if err != nil {
				return err
			}
			logger := defaultLogger()
			for _, bucket := range []string{opts.rulesetsBucket, opts.reportsBucket} {
				if bucket == "" {
					continue
				}
				if err := client.CreateBucket(ctx, bucket, snapshotExpireDays); err != nil {
					return fmt.Errorf("creating bucket %s: %w", bucket, err)
				}
				logger.Info(fmt.Sprintf("created bucket %s", bucket))
			}
			return nil
		},
	}
	opts.bindCommonFlags(cmd)
	cmd.Flags().IntVar(&snapshotExpireDays, "snapshot-expire-days", 90, "lifetime of data snapshot objects")
	return cmd
}

func newInitVaultCmd() *cobra.Command {
	opts := &DeploymentOpts{}
	var kid string
	cmd := &cobra.Command{
		Use:   "init-vault",
		Args:  cobra.NoArgs,
		Short: "Mount the KV engine and generate the LM signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := opts.vaultStore(ctx)
			if err != nil {
				return err
			}
			if err := store.EnableEngine(ctx); err != nil {
				return err
			}

			key, err := licenses.GenerateSigningKey(kid)
			if err != nil {
				return err
			}
			if err := key.Store(ctx, store); err != nil {
				return err
			}

			publicKey, err := key.PublicKeyPEM()
			if err != nil {
				return err
			}
			// The public half must be registered with LM by hand.
			fmt.Fprintln(cmd.OutOrStdout(), publicKey)
			return nil
		},
	}
	opts.bindCommonFlags(cmd)
	cmd.Flags().StringVar(&kid, "kid", "custos-lm", "key id of the generated signing key")
	return cmd
}

func newSetMetaReposCmd() *cobra.Command {
	opts := &DeploymentOpts{}
	var file string
	cmd := &cobra.Command{
		Use:   "set-meta-repos",
		Args:  cobra.NoArgs,
		Short: "Store the rule-metadata repository descriptors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			if !json.Valid(raw) {
				return fmt.Errorf("%s does not contain valid JSON", file)
			}

			dbClient, err := opts.dbClient(ctx)
			if err != nil {
				return err
			}
			return dbClient.SetSetting(ctx, &database.SettingDocument{
				Name:  api.MetaReposSettingName,
				Value: raw,
			})
		},
	}
	opts.bindCommonFlags(cmd)
	cmd.Flags().StringVar(&file, "file", "", "path of the JSON descriptor file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newInitCmd() *cobra.Command {
	opts := &DeploymentOpts{}
	cmd := &cobra.Command{
		Use:   "init",
		Args:  cobra.NoArgs,
		Short: "Bootstrap the SYSTEM customer and its admin user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dbClient, err := opts.dbClient(ctx)
			if err != nil {
				return err
			}

			password, hash, err := generatePassword()
			if err != nil {
				return err
			}
			if err := bootstrapSystem(ctx, dbClient, hash); err != nil {
				return err
			}

			// Printed exactly once; only the hash is stored.
			fmt.Fprintf(cmd.OutOrStdout(), "SYSTEM user password: %s\n", password)
			return nil
		},
	}
	opts.bindCommonFlags(cmd)
	return cmd
}

func generatePassword() (password, hash string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	password = base64.RawURLEncoding.EncodeToString(raw)

	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return password, string(digest), nil
}

func bootstrapSystem(ctx context.Context, dbClient database.DBClient, passwordHash string) error {
	if err := dbClient.SetCustomer(ctx, &database.CustomerDocument{
		Name:        api.SystemCustomer,
		DisplayName: "Cloud Custos",
		Admins:      []string{api.SystemCustomer},
	}); err != nil {
		return err
	}
	return dbClient.SetUser(ctx, &database.UserDocument{
		Username:     api.SystemCustomer,
		Customer:     api.SystemCustomer,
		Role:         "admin",
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	})
}

// routePermission names the permission an authenticated principal needs
// per route.
type routePermission struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	Permission string `json:"permission"`
}

func permissionTable() []routePermission {
	return []routePermission{
		{"POST", "/jobs", "jobs:submit"},
		{"GET", "/jobs/{id}", "jobs:read"},
		{"DELETE", "/jobs/{id}", "jobs:terminate"},
		{"POST", "/jobs/scheduled", "scheduled-jobs:write"},
		{"GET", "/jobs/scheduled", "scheduled-jobs:read"},
		{"GET", "/jobs/scheduled/{customer}/{name}", "scheduled-jobs:read"},
		{"PATCH", "/jobs/scheduled/{customer}/{name}", "scheduled-jobs:write"},
		{"DELETE", "/jobs/scheduled/{customer}/{name}", "scheduled-jobs:write"},
		{"POST", "/rulesets", "rulesets:write"},
		{"PATCH", "/rulesets", "rulesets:write"},
		{"GET", "/rulesets", "rulesets:read"},
		{"DELETE", "/rulesets", "rulesets:write"},
		{"POST", "/rulesets/release", "rulesets:release"},
		{"POST", "/rulesets/event-driven", "rulesets:write"},
		{"GET", "/rulesets/event-driven", "rulesets:read"},
		{"POST", "/events", "events:submit"},
		{"POST", "/exceptions", "exceptions:write"},
		{"GET", "/exceptions", "exceptions:read"},
	}
}

func newShowPermissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show-permissions",
		Args:  cobra.NoArgs,
		Short: "Print the permission required per API route",
		RunE: func(cmd *cobra.Command, args []string) error {
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "    ")
			return encoder.Encode(permissionTable())
		},
	}
	return cmd
}

func newUpdateAPIModelsCmd() *cobra.Command {
	opts := &DeploymentOpts{}
	var licenseKey, version string
	cmd := &cobra.Command{
		Use:   "update-api-models",
		Args:  cobra.NoArgs,
		Short: "Rebuild and publish the event mapping models for a license",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dbClient, err := opts.dbClient(ctx)
			if err != nil {
				return err
			}
			blobClient, err := opts.blobClient(ctx)
			if err != nil {
				return err
			}

			var collected []*database.RuleDocument
			for _, cloud := range api.Clouds() {
				ruleDocs, err := dbClient.ListRules(ctx, api.SystemCustomer, cloud)
				if err != nil {
					return err
				}
				collected = append(collected, ruleDocs...)
			}

			mappings := rules.CollectEventMappings(collected)
			return rules.PublishEventMappings(ctx, blobClient, opts.rulesetsBucket, licenseKey, version, mappings)
		},
	}
	opts.bindCommonFlags(cmd)
	cmd.Flags().StringVar(&licenseKey, "license-key", "", "license the mappings are published for")
	cmd.Flags().StringVar(&version, "version", "", "event-driven ruleset version the mappings belong to")
	_ = cmd.MarkFlagRequired("license-key")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}
