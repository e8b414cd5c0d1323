package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/entrhq/authstate/internal/usererr"
	"github.com/entrhq/authstate/pkg/logging"
)

const envPrefix = "AUTHSTATE"

// options are the flags shared by every subcommand. Each can also be set
// through AUTHSTATE_<FLAG>, e.g. AUTHSTATE_HEADED=1.
type options struct {
	ConfigPath string
	Headed     bool
	Browser    string
	Engine     string
	Install    bool

	Dotenv     bool
	DotenvPath string

	WebServer webServerFlags
	Logging   logging.Config
}

type webServerFlags struct {
	Command       string
	Args          []string
	URL           string
	Timeout       time.Duration
	ReuseExisting bool
}

func (w webServerFlags) set() bool {
	return w.Command != "" || w.URL != "" || len(w.Args) > 0
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "authstate",
		Short:         "Create and refresh cached browser auth state per profile",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          usageArgs(cobra.NoArgs),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usererr.Newf("%w", err)
	})

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default: authstate.yaml found from the working directory upwards)")
	flags.Bool("headed", false, "show the browser window")
	flags.String("browser", "", "browser to use: chromium, firefox or webkit (overrides the config)")
	flags.String("engine", "", "automation engine: playwright or chromedp (overrides the config)")
	flags.Bool("install", false, "install the playwright driver and browsers before running")
	flags.Bool("dotenv", false, "load .env from the working directory")
	flags.String("dotenv-path", "", "load environment from this file (implies --dotenv)")

	flags.String("web-server-command", "", "command that starts the app under test")
	flags.StringArray("web-server-arg", nil, "argument for --web-server-command (repeatable)")
	flags.String("web-server-url", "", "URL to wait for before running auth flows")
	flags.Duration("web-server-timeout", 0, "how long to wait for --web-server-url (default 60s)")
	flags.Bool("web-server-reuse-existing", true, "skip starting the server when the URL already answers")

	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: console or json")
	flags.String("log-file", "", "also write JSON logs to this file")

	root.AddCommand(newSetupCmd(v), newEnsureCmd(v))
	return root
}

// bindFlags exposes every flag of cmd through v, backed by the environment.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil {
			bindErr = fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

func readOptions(v *viper.Viper) options {
	return options{
		ConfigPath: v.GetString("config"),
		Headed:     v.GetBool("headed"),
		Browser:    v.GetString("browser"),
		Engine:     v.GetString("engine"),
		Install:    v.GetBool("install"),
		Dotenv:     v.GetBool("dotenv") || v.GetString("dotenv-path") != "",
		DotenvPath: v.GetString("dotenv-path"),
		WebServer: webServerFlags{
			Command:       v.GetString("web-server-command"),
			Args:          v.GetStringSlice("web-server-arg"),
			URL:           v.GetString("web-server-url"),
			Timeout:       v.GetDuration("web-server-timeout"),
			ReuseExisting: v.GetBool("web-server-reuse-existing"),
		},
		Logging: logging.Config{
			Level:  v.GetString("log-level"),
			Format: v.GetString("log-format"),
			File:   v.GetString("log-file"),
		},
	}
}

// usageArgs marks positional argument errors as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usererr.Newf("%w", err)
		}
		return nil
	}
}
