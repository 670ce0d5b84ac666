package main

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

const ProgramName = "Cloud Custos Rule Engine"

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		log.Println(fmt.Errorf("%s error: %v", ProgramName, err))
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ruleengine",
		Args:  cobra.NoArgs,
		Short: "Cloud Custos rule engine control plane",
		Long: `Cloud Custos rule engine control plane

	The run command serves the HTTP API and the background workers
	(event assembler, event remover, job status reconciler, scheduled
	jobs). The remaining commands provision and administer a deployment.
`,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newCreateIndexesCmd(),
		newCreateBucketsCmd(),
		newInitVaultCmd(),
		newSetMetaReposCmd(),
		newInitCmd(),
		newGenerateOpenAPICmd(),
		newShowPermissionsCmd(),
		newUpdateAPIModelsCmd(),
	)

	return rootCmd
}
