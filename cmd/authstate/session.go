package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/entrhq/authstate/internal/usererr"
	"github.com/entrhq/authstate/pkg/auth"
	"github.com/entrhq/authstate/pkg/browser"
	"github.com/entrhq/authstate/pkg/config"
	"github.com/entrhq/authstate/pkg/logging"
	"github.com/entrhq/authstate/pkg/webserver"
)

// withSession loads the environment and config, starts the web server if
// one is configured, and runs fn with a Runner for the config's profiles.
// The browser launcher is closed before withSession returns.
func withSession(cmd *cobra.Command, opts options, fn func(ctx context.Context, r *auth.Runner) error) error {
	ctx := cmd.Context()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	if err := loadDotenv(cwd, opts); err != nil {
		return err
	}

	path, err := config.Resolve(cwd, opts.ConfigPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := applyOverrides(cfg, opts); err != nil {
		return err
	}

	logger := logging.Initialize(mergeLogging(cfg.Logging, opts.Logging), cmd.ErrOrStderr())
	logger.Debug("config loaded", zap.String("path", cfg.Path), zap.String("invocation", logging.InvocationID()))
	fmt.Fprintf(cmd.OutOrStdout(), "auth: config %s\n", cfg.Path)

	authCfg, err := auth.FromConfig(cfg, cfg.Root)
	if err != nil {
		return usererr.Newf("%s: %w", cfg.Path, err)
	}

	launcher := newLauncher(cfg.Engine, opts.Install, logger.Named("browser"))
	defer func() {
		if err := launcher.Close(); err != nil {
			logger.Warn("failed to close browser launcher", zap.Error(err))
		}
	}()

	runner, err := auth.NewRunner(authCfg, launcher, auth.Options{
		Headed: opts.Headed,
		Env:    os.LookupEnv,
		Logger: logger.Named("auth"),
	})
	if err != nil {
		return err
	}

	action := func(ctx context.Context) error { return fn(ctx, runner) }

	spec, err := webServerSpec(cfg, opts.WebServer)
	if err != nil {
		return err
	}
	return webserver.NewSupervisor(logger.Named("webserver")).Run(ctx, spec, action)
}

// loadDotenv loads .env from cwd, or the file named by --dotenv-path
// resolved against cwd. Variables already set are kept.
func loadDotenv(cwd string, opts options) error {
	if !opts.Dotenv {
		return nil
	}
	path := opts.DotenvPath
	if path == "" {
		path = ".env"
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}
	if err := gotenv.Load(path); err != nil {
		return usererr.Newf("Failed to load .env: %w", err)
	}
	return nil
}

// applyOverrides layers command-line choices over the file and revalidates.
func applyOverrides(cfg *config.Config, opts options) error {
	if opts.Browser != "" {
		cfg.Browser = opts.Browser
	}
	if opts.Engine != "" {
		cfg.Engine = config.Engine(opts.Engine)
	}
	if err := cfg.Validate(); err != nil {
		return usererr.Newf("%w", err)
	}
	return nil
}

func mergeLogging(file, flags logging.Config) logging.Config {
	out := file
	if flags.Level != "" {
		out.Level = flags.Level
	}
	if flags.Format != "" {
		out.Format = flags.Format
	}
	if flags.File != "" {
		out.File = flags.File
	}
	return out
}

func newLauncher(engine config.Engine, install bool, logger *zap.Logger) browser.Launcher {
	if engine == config.EngineChromedp {
		return browser.NewChromedpLauncher(logger)
	}
	return browser.NewPlaywrightLauncher(install, logger)
}

// webServerSpec returns the server to supervise, or nil when there is none.
// Command-line flags replace the config file's webServer entirely.
func webServerSpec(cfg *config.Config, flags webServerFlags) (*webserver.Spec, error) {
	if flags.set() {
		if flags.Command == "" || flags.URL == "" {
			return nil, usererr.New("--web-server-command and --web-server-url must be given together.")
		}
		return &webserver.Spec{
			Command:       flags.Command,
			Args:          flags.Args,
			URL:           flags.URL,
			Timeout:       flags.Timeout,
			ReuseExisting: flags.ReuseExisting,
		}, nil
	}

	ws := cfg.WebServer
	if ws == nil {
		return nil, nil
	}
	dir := ws.Dir
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(cfg.Root, dir)
	}
	return &webserver.Spec{
		Command:       ws.Command,
		Args:          ws.Args,
		URL:           ws.URL,
		Timeout:       ws.Timeout,
		ReuseExisting: ws.Reuse(),
		Env:           ws.Env,
		Dir:           dir,
	}, nil
}
