package main

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/spf13/cobra"
)

func newGenerateOpenAPICmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "generate-openapi",
		Args:  cobra.NoArgs,
		Short: "Emit the OpenAPI document of the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := buildOpenAPIDocument()
			if err := doc.Validate(cmd.Context()); err != nil {
				return fmt.Errorf("generated document is invalid: %w", err)
			}

			raw, err := json.MarshalIndent(doc, "", "    ")
			if err != nil {
				return err
			}
			raw = append(raw, '\n')

			if output == "" {
				_, err = cmd.OutOrStdout().Write(raw)
				return err
			}
			return os.WriteFile(output, raw, 0o644)
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "file to write the document to, stdout when empty")
	return cmd
}

func buildOpenAPIDocument() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Cloud Custos Rule Engine",
			Description: "Control plane for rule-based cloud security scans.",
			Version:     "1.0.0",
		},
		Paths: openapi3.NewPaths(),
	}

	doc.Paths.Set("/jobs", &openapi3.PathItem{
		Post: operation("SubmitJob", "Admit and submit a scan job"),
	})
	doc.Paths.Set("/jobs/{id}", &openapi3.PathItem{
		Get:        operation("GetJob", "Read one job"),
		Delete:     operation("TerminateJob", "Terminate a non-terminal job"),
		Parameters: pathParameters("id"),
	})
	doc.Paths.Set("/jobs/scheduled", &openapi3.PathItem{
		Post: operation("CreateScheduledJob", "Create a scheduled job definition"),
		Get:  operation("ListScheduledJobs", "List scheduled job definitions"),
	})
	doc.Paths.Set("/jobs/scheduled/{customer}/{name}", &openapi3.PathItem{
		Get:        operation("GetScheduledJob", "Read one scheduled job definition"),
		Patch:      operation("PatchScheduledJob", "Toggle or reshape a scheduled job definition"),
		Delete:     operation("DeleteScheduledJob", "Delete a scheduled job definition"),
		Parameters: pathParameters("customer", "name"),
	})
	doc.Paths.Set("/rulesets", &openapi3.PathItem{
		Post:   operation("CreateRuleset", "Create a ruleset version"),
		Patch:  operation("UpdateRuleset", "Attach or detach rules on a ruleset"),
		Get:    operation("GetRulesets", "Read one or all versions of a ruleset"),
		Delete: operation("DeleteRuleset", "Delete ruleset versions"),
	})
	doc.Paths.Set("/rulesets/release", &openapi3.PathItem{
		Post: operation("ReleaseRulesets", "Publish rulesets to the License Manager"),
	})
	doc.Paths.Set("/rulesets/event-driven", &openapi3.PathItem{
		Post: operation("CreateEventDrivenRuleset", "Publish an event-driven ruleset version"),
		Get:  operation("GetEventDrivenRuleset", "Read an event-driven ruleset"),
	})
	doc.Paths.Set("/events", &openapi3.PathItem{
		Post: operation("SubmitEvents", "Ingest a raw audit event batch"),
	})
	doc.Paths.Set("/exceptions", &openapi3.PathItem{
		Post: operation("CreateException", "Register a resource exception"),
		Get:  operation("ListExceptions", "List resource exceptions"),
	})
	doc.Paths.Set("/healthz/ready", &openapi3.PathItem{
		Get: operation("HealthzReady", "Readiness probe"),
	})

	return doc
}

func operation(id, summary string) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = id
	op.Summary = summary
	op.Responses = openapi3.NewResponses()
	return op
}

func pathParameters(names ...string) openapi3.Parameters {
	params := make(openapi3.Parameters, 0, len(names))
	for _, name := range names {
		param := openapi3.NewPathParameter(name)
		param.Schema = openapi3.NewStringSchema().NewRef()
		params = append(params, &openapi3.ParameterRef{Value: param})
	}
	return params
}
