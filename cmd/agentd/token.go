package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quietloop/agentd/internal/authtoken"
	"github.com/quietloop/agentd/internal/config"
)

func buildTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the control-plane bearer token",
	}
	cmd.AddCommand(buildTokenIssueCmd())
	return cmd
}

func buildTokenIssueCmd() *cobra.Command {
	var configPath string
	var scopes []string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for a local UI client",
		Long: `Issue mints a bearer token signed with the daemon's secret
(created at first run under auth.secret_path with file mode 0600) and
prints it once. There is no server-side session: possession of the token
is sufficient to authenticate, scoped to whatever --scope flags were
given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenIssue(cmd, configPath, scopes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agentd.yaml", "Path to YAML configuration file")
	cmd.Flags().StringArrayVar(&scopes, "scope", []string{"read", "write", "approvals"}, "Scope to grant (repeatable)")
	return cmd
}

func runTokenIssue(cmd *cobra.Command, configPath string, scopes []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	svc, err := authtoken.NewService(cfg.Auth.SecretPath, cfg.Auth.Expiry)
	if err != nil {
		return fmt.Errorf("auth token service: %w", err)
	}

	token, err := svc.Issue(scopes...)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
