// Package cli wires the supervisor binary's single entrypoint: a root
// Cobra command with one flag, --config, and no subcommands (spec §6:
// "A single supervisor binary taking one flag --config <path>; no
// subcommands").
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/radonc/mqsupervisor/internal/config"
	"github.com/radonc/mqsupervisor/internal/obslog"
)

// App is the CLI application, mirroring the teacher's single rootCmd +
// lazily-loaded config wiring (RevCBH-choo/internal/cli/cli.go), trimmed to
// the one-flag surface this spec allows.
type App struct {
	rootCmd    *cobra.Command
	configPath string

	version string
	commit  string
	date    string
}

// New creates the CLI application.
func New() *App {
	app := &App{}
	app.setupRootCmd()
	return app
}

// SetVersion records build-time version info, printed only in startup logs
// (there is no `version` subcommand to expose it through — spec's CLI
// surface is single-flag, no-subcommand).
func (a *App) SetVersion(version, commit, date string) {
	a.version = version
	a.commit = commit
	a.date = date
}

// Execute runs the CLI application.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:           "mqsupervisor",
		Short:         "Radiotherapy case orchestration supervisor",
		Long:          `mqsupervisor watches a case directory and drives each case through preprocessing, remote TPS dose calculation, and postprocessing on a shared GPU cluster.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          a.run,
	}
	a.rootCmd.Flags().StringVar(&a.configPath, "config", "", "path to the supervisor YAML config file")
}

// run loads config, builds the logger, wires every component, and blocks
// until an orderly shutdown. Config or store failures are fatal startup
// errors (spec §6, exit code 1); everything after that runs until signalled.
func (a *App) run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := obslog.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("starting mqsupervisor",
		zap.String("version", a.version), zap.String("commit", a.commit), zap.String("date", a.date))

	sup, err := Wire(cfg, log)
	if err != nil {
		return fmt.Errorf("wire supervisor: %w", err)
	}
	defer sup.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := NewSignalHandler(cancel, log)
	sig.Start()
	defer sig.Stop()

	err = sup.Start(ctx)
	if err != nil {
		log.Error("mqsupervisor exited with error", zap.Error(err))
	} else {
		log.Info("mqsupervisor exited")
	}
	return err
}
