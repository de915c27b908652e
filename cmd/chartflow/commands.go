package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chartflow/chartflow/internal/auth"
	"github.com/chartflow/chartflow/internal/experiments"
	"github.com/chartflow/chartflow/internal/server"
	"github.com/chartflow/chartflow/internal/workflow"
	"github.com/chartflow/chartflow/pkg/models"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(true, true)
			if err != nil {
				return err
			}
			srv := server.New(a.cfg, a.registry, a.auth, a.orch, a.scheduler,
				server.WithLogger(a.logger), server.WithMetrics(a.metrics))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Start(ctx)
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.json>",
		Short: "Validate a workflow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var w models.Workflow
			if err := json.Unmarshal(data, &w); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			result := workflow.Validate(&w)
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if !result.Valid {
				return fmt.Errorf("workflow is invalid at step %q: %s", result.BrokenStepID, result.BrokenReason)
			}
			return nil
		},
	}
}

func newExperimentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Manage experiments",
	}
	cmd.AddCommand(newExperimentRunCommand())
	cmd.AddCommand(newExperimentStatusCommand())
	return cmd
}

func newExperimentRunCommand() *cobra.Command {
	var req experiments.SubmitRequest
	run := &cobra.Command{
		Use:   "run",
		Short: "Run a saved workflow across a dataset and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(true, false)
			if err != nil {
				return err
			}
			exp, err := a.scheduler.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Printf("experiment %s submitted (%d patients)\n", exp.Name, exp.TotalPatients)
			a.scheduler.Wait()

			st, err := a.registry.Experiments().Status(exp.Name)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	run.Flags().StringVar(&req.Name, "name", "", "experiment name")
	run.Flags().StringVar(&req.ProjectName, "project", "", "project name")
	run.Flags().StringVar(&req.WorkflowName, "workflow", "", "saved workflow name")
	run.Flags().StringVar(&req.DatasetName, "dataset", "", "dataset name")
	run.Flags().StringSliceVar(&req.MRNs, "mrns", nil, "restrict the cohort to these MRNs")
	for _, flag := range []string{"name", "project", "workflow", "dataset"} {
		_ = run.MarkFlagRequired(flag)
	}
	return run
}

func newExperimentStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Print an experiment's status record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(false, false)
			if err != nil {
				return err
			}
			st, err := a.registry.Experiments().Status(args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func newUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserCreateCommand())
	return cmd
}

func newUserCreateCommand() *cobra.Command {
	var (
		username string
		password string
		admin    bool
		datasets []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user record",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(false, false)
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("CHARTFLOW_PASSWORD")
			}
			if password == "" {
				return fmt.Errorf("password required (flag --password or CHARTFLOW_PASSWORD)")
			}
			salt, err := auth.NewSalt()
			if err != nil {
				return err
			}
			user := &models.User{
				Username:        username,
				Salt:            salt,
				PasswordHash:    auth.HashPassword(password, salt),
				Admin:           admin,
				AllowedDatasets: datasets,
			}
			if err := a.registry.Users().Save(user); err != nil {
				return err
			}
			fmt.Printf("user %s created\n", username)
			return nil
		},
	}
	create.Flags().StringVar(&username, "username", "", "username")
	create.Flags().StringVar(&password, "password", "", "password (or CHARTFLOW_PASSWORD)")
	create.Flags().BoolVar(&admin, "admin", false, "grant admin")
	create.Flags().StringSliceVar(&datasets, "datasets", nil, "allowed datasets")
	_ = create.MarkFlagRequired("username")
	return create
}
