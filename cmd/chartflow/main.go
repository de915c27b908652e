// Package main is the chartflow CLI: it serves the HTTP API, validates
// workflow documents, and runs experiments from the command line.
//
// Basic usage:
//
//	chartflow serve --config chartflow.yaml
//	chartflow validate workflow.json
//	chartflow experiment run --name exp1 --project proj --workflow screen --dataset cohort
//	chartflow user create --username alice
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "chartflow",
		Short:         "Clinical chart review workflows over LLM agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CHARTFLOW_CONFIG"), "path to config file")

	root.AddCommand(newServeCommand())
	root.AddCommand(newValidateCommand())
	root.AddCommand(newExperimentCommand())
	root.AddCommand(newUserCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chartflow %s (%s)\n", version, commit)
		},
	}
}
