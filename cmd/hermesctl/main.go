package main

import (
	"fmt"
	"os"
	"time"

	"go-hermes/internal/config"
	"go-hermes/internal/features/fieldmap"
	"go-hermes/pkg/utils"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "hermesctl",
		Short:         "Operator tools for the Hermes sync service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTokenCommand(), newFieldMapCommand())
	return root
}

func newTokenCommand() *cobra.Command {
	var (
		operator string
		scopes   []string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for the /api routes",
		Long: `Mint an operator token, signed with JWT_SECRET. The /api routes need the
admin scope; the operator name is written to the audit log.

Example:
  hermesctl token --operator jane --ttl 12h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			utils.SetSecret(cfg.JWTSecret)
			token, err := utils.IssueOperatorToken(operator, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "ops", "operator named in the token and written to the audit log")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{utils.ScopeAdmin}, "scopes granted by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newFieldMapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fieldmap",
		Short: "Print the effective field map as YAML",
		Long: `Print the effective field map, defaults merged with FIELD_MAP_FILE, in the
format FIELD_MAP_FILE accepts. Fails when a required field is unmapped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			table, err := fieldmap.Load(cfg)
			if err != nil {
				return err
			}
			raw, err := table.Export()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	}
}
