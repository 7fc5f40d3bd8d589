package cmd

import (
	"fmt"
	"strings"

	"appfuel/bootstrap"
	"appfuel/config"
	"appfuel/server"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(opts *options) *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration",
	}
	c.AddCommand(newConfigInitCmd(), newConfigShowCmd(opts))
	return c
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a sample configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			successColor.Fprintf(out, "Wrote %s\n", path)

			secret, err := bootstrap.GenerateSecret(48)
			if err != nil {
				return err
			}
			warningColor.Fprintln(out, "To enable bearer token auth set auth.enabled and a secret, e.g.:")
			fmt.Fprintf(out, "  export APPFUEL_JWT_SECRET=%s\n", secret)
			return nil
		},
	}
}

func newConfigShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configFile)
			if err != nil {
				return err
			}
			data, err := renderConfig(cfg.Masked())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func renderConfig(cfg *config.Config) ([]byte, error) {
	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

func newTokenCmd(opts *options) *cobra.Command {
	var subject string
	var roles string
	c := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for the configured auth secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configFile)
			if err != nil {
				return err
			}
			var codes []string
			for _, r := range strings.Split(roles, ",") {
				if r = strings.TrimSpace(r); r != "" {
					codes = append(codes, r)
				}
			}
			token, err := server.IssueToken(cfg, subject, codes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	c.Flags().StringVar(&subject, "subject", "admin", "token subject")
	c.Flags().StringVar(&roles, "roles", "", "comma separated acl codes")
	return c
}
