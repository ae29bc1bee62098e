package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quietloop/agentd/internal/config"
	"github.com/quietloop/agentd/internal/doctor"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and workspace health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agentd.yaml", "Path to YAML configuration file")
	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, check := range doctor.Run(cfg) {
		status := "ok"
		if !check.OK {
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(out, "[%s] %-28s %s\n", status, check.Name, check.Detail)
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
