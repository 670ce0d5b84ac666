package main

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cloudcustos/ruleengine/internal/api/rest"
	"github.com/cloudcustos/ruleengine/internal/events"
	"github.com/cloudcustos/ruleengine/internal/executor"
	"github.com/cloudcustos/ruleengine/internal/frontend"
	"github.com/cloudcustos/ruleengine/internal/jobs"
	"github.com/cloudcustos/ruleengine/internal/licenses"
	"github.com/cloudcustos/ruleengine/internal/metrics"
	"github.com/cloudcustos/ruleengine/internal/rules"
	"github.com/cloudcustos/ruleengine/internal/rulesets"
	"github.com/cloudcustos/ruleengine/internal/scheduler"
)

type RunOpts struct {
	DeploymentOpts

	host string
	port int

	lmURL              string
	batchQueue         string
	batchDefinition    string
	deploymentAccount  string
	eventPartitions    int
	jobLifetimeMinutes int
	minCoreVersion     string
	currentCoreVersion string
	logLevel           string
}

// allowAllLM replaces the License Manager in local cache mode.
type allowAllLM struct{}

func (allowAllLM) CheckPermission(context.Context, string, string, string) (bool, error) {
	return true, nil
}

func (allowAllLM) PostRuleset(context.Context, licenses.RulesetRelease) error {
	return nil
}

func newRunCmd() *cobra.Command {
	opts := &RunOpts{}
	cmd := &cobra.Command{
		Use:   "run",
		Args:  cobra.NoArgs,
		Short: "Serve the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.Run(cmd.Context())
		},
	}

	opts.bindCommonFlags(cmd)
	cmd.Flags().StringVar(&opts.host, "host", "", "address to bind")
	cmd.Flags().IntVar(&opts.port, "port", 8080, "port to listen on")
	cmd.Flags().StringVar(&opts.lmURL, "lm-url", os.Getenv("LM_URL"), "License Manager base URL")
	cmd.Flags().StringVar(&opts.batchQueue, "batch-queue", os.Getenv("BATCH_QUEUE"), "AWS Batch job queue for scan jobs")
	cmd.Flags().StringVar(&opts.batchDefinition, "batch-definition", os.Getenv("BATCH_DEFINITION"), "AWS Batch job definition for scan jobs")
	cmd.Flags().StringVar(&opts.deploymentAccount, "deployment-account", os.Getenv("DEPLOYMENT_ACCOUNT"), "AWS account id this deployment runs in")
	cmd.Flags().IntVar(&opts.eventPartitions, "event-partitions", 10, "number of event table partitions")
	cmd.Flags().IntVar(&opts.jobLifetimeMinutes, "job-lifetime-minutes", 55, "default scan job lifetime")
	cmd.Flags().StringVar(&opts.minCoreVersion, "min-core-version", "5.5.0", "lowest executor core version accepted")
	cmd.Flags().StringVar(&opts.currentCoreVersion, "current-core-version", "5.7.1", "executor core version submitted jobs run with")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "INFO", "log level propagated into scan jobs")

	return cmd
}

func (opts *RunOpts) Run(ctx context.Context) error {
	logger := defaultLogger()
	logger.Info(fmt.Sprintf("%s started", ProgramName))

	emitter := metrics.NewPrometheusEmitter(prometheus.DefaultRegisterer)

	dbClient, err := opts.dbClient(ctx)
	if err != nil {
		return err
	}
	blobClient, err := opts.blobClient(ctx)
	if err != nil {
		return err
	}
	secretStore, err := opts.secretStore(ctx)
	if err != nil {
		return err
	}

	var exec executor.Executor
	if opts.useCache {
		exec = executor.NewLocal()
	} else {
		client, err := opts.batchClient(ctx)
		if err != nil {
			return err
		}
		exec = executor.NewBatchExecutor(client, opts.batchQueue, opts.batchDefinition)
	}

	var lm interface {
		jobs.PermissionClient
		rulesets.ReleaseClient
	}
	if opts.useCache {
		lm = allowAllLM{}
	} else {
		key, err := licenses.LoadSigningKey(ctx, secretStore)
		if err != nil {
			return fmt.Errorf("loading the LM signing key (run init-vault first): %w", err)
		}
		client, err := licenses.NewLMClient(opts.lmURL, key, 10*time.Second, logger)
		if err != nil {
			return err
		}
		lm = client
	}

	jobConfig := jobs.Config{
		RulesetsBucket:     opts.rulesetsBucket,
		ReportsBucket:      opts.reportsBucket,
		AWSRegion:          opts.awsRegion,
		JobLifetimeMinutes: opts.jobLifetimeMinutes,
		LogLevel:           opts.logLevel,
		MinCoreVersion:     opts.minCoreVersion,
		CurrentCoreVersion: opts.currentCoreVersion,
		DeploymentAccount:  opts.deploymentAccount,
		JobTTL:             14 * 24 * time.Hour,
	}

	jobService := jobs.NewService(dbClient, secretStore, exec, lm, emitter, logger, jobConfig)
	registry := scheduler.NewRegistry(logger)
	scheduledService := jobs.NewScheduledService(jobService, registry, logger)
	rulesetService := rulesets.NewService(dbClient, blobClient, opts.rulesetsBucket, lm, logger)
	ingestor := events.NewIngestor(dbClient, opts.eventPartitions, 24*time.Hour)

	mappings := rules.NewS3EventMappingProvider(blobClient, opts.rulesetsBucket, 15*time.Minute)
	assembler := events.NewAssembler(dbClient, mappings, exec, emitter, logger, events.Config{
		Partitions:         opts.eventPartitions,
		PageSize:           1000,
		DeploymentAccount:  opts.deploymentAccount,
		RulesetsBucket:     opts.rulesetsBucket,
		ReportsBucket:      opts.reportsBucket,
		AWSRegion:          opts.awsRegion,
		LogLevel:           opts.logLevel,
		JobLifetimeMinutes: opts.jobLifetimeMinutes,
		MinCoreVersion:     opts.minCoreVersion,
		CurrentCoreVersion: opts.currentCoreVersion,
		BatchResultsTTL:    7 * 24 * time.Hour,
	})
	remover := events.NewRemover(dbClient, opts.eventPartitions, logger)
	reconciler := jobs.NewReconciler(dbClient, exec, emitter, logger)

	if err := registerWorkers(registry, logger, assembler, remover, reconciler); err != nil {
		return err
	}
	if err := scheduledService.Bootstrap(ctx); err != nil {
		return err
	}
	registry.Start()
	defer registry.Stop()

	listener, err := net.Listen("tcp4", fmt.Sprintf("%s:%d", opts.host, opts.port))
	if err != nil {
		return err
	}

	f := frontend.NewFrontend(logger, listener, emitter, dbClient,
		jobService, scheduledService, rulesetService, ingestor)

	stop := make(chan struct{})
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	go f.Run(ctx, stop)

	sig := <-signalChannel
	logger.Info(fmt.Sprintf("caught %s signal", sig))
	close(stop)

	f.Join()
	logger.Info(fmt.Sprintf("%s stopped", ProgramName))

	return nil
}

func registerWorkers(
	registry *scheduler.Registry,
	logger *slog.Logger,
	assembler *events.Assembler,
	remover *events.Remover,
	reconciler *jobs.Reconciler,
) error {
	tasks := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"events/assemble", "* * * * *", func(ctx context.Context) error {
			_, err := assembler.Assemble(ctx)
			return err
		}},
		{"events/remove", "*/10 * * * *", remover.Run},
		{"jobs/reconcile", "* * * * *", reconciler.Run},
	}

	for _, task := range tasks {
		err := registry.Register(task.name, task.schedule, func(ctx context.Context) {
			if err := task.run(ctx); err != nil {
				var restErr *rest.Error
				if errors.As(err, &restErr) && restErr.StatusCode == http.StatusNotFound {
					// No events past the cursor is the idle case.
					return
				}
				logger.ErrorContext(ctx, "worker run failed", "worker", task.name, "error", err)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}
