package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/entrhq/authstate/internal/usererr"
	"github.com/entrhq/authstate/pkg/auth"
)

func newSetupCmd(v *viper.Viper) *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "setup --profile <name>",
		Short: "Log in as one profile and write fresh auth state",
		Long: `Log in as one profile and write fresh auth state, whether or not the
cached state is still valid.

Credentials are read from AUTH_<PROFILE>_EMAIL and AUTH_<PROFILE>_PASSWORD
unless the config names other variables.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if profile == "" {
				return usererr.New("Missing required flag --profile.")
			}
			return withSession(cmd, readOptions(v), func(ctx context.Context, r *auth.Runner) error {
				path, err := r.Setup(ctx, profile)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "auth setup: wrote %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "profile to set up")
	return cmd
}

func newEnsureCmd(v *viper.Viper) *cobra.Command {
	var (
		profiles []string
		failFast bool
	)

	cmd := &cobra.Command{
		Use:   "ensure [--profile <name> ...]",
		Short: "Validate cached auth state and refresh the profiles that need it",
		Long: `Validate the cached auth state of each profile and log in again for the
ones that are missing, unreadable or no longer authenticated.

With no --profile every configured profile is ensured. Failures are
collected and reported together unless --fail-fast is set.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, readOptions(v), func(ctx context.Context, r *auth.Runner) error {
				return r.Ensure(ctx, profiles, auth.EnsureOptions{FailFast: failFast})
			})
		},
	}
	cmd.Flags().StringArrayVarP(&profiles, "profile", "p", nil, "profile to ensure (repeatable; default all)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first failing profile")
	return cmd
}
