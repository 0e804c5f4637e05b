package main

import (
	"encoding/json"
	"fmt"
	"io"

	"farmcore/internal/config"
	"farmcore/internal/logger"

	"github.com/spf13/cobra"
)

// cliState carries the wired app from the pre-run hook to subcommands.
type cliState struct {
	configPath string
	storeFlag  string
	logLevel   string
	logJSON    bool
	trace      bool
	metrics    bool

	app *app
}

func (s *cliState) close() {
	if s.app != nil {
		s.app.close()
		s.app = nil
	}
}

func newRootCmd(state *cliState) *cobra.Command {
	root := &cobra.Command{
		Use:           "farmcore",
		Short:         "Farm animal identity and access management",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(state.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("store") {
				cfg.Store.Driver = state.storeFlag
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = state.logLevel
			}
			if flags.Changed("log-json") {
				cfg.Log.JSON = state.logJSON
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			cfg.Log.Output = cmd.ErrOrStderr()
			log := logger.New(cfg.Log)

			var trace io.Writer
			if state.trace {
				trace = cmd.ErrOrStderr()
			}
			a, err := newApp(cmd.Context(), cfg, log, trace)
			if err != nil {
				return err
			}
			state.app = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if state.metrics && state.app != nil {
				return state.app.writeMetrics(cmd.ErrOrStderr())
			}
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&state.configPath, "config", "farmcore.yaml", "Path to the YAML config file")
	pf.StringVar(&state.storeFlag, "store", "", "Store driver override (memory, sqlite, postgres)")
	pf.StringVar(&state.logLevel, "log-level", logger.LevelInfo, "Log level (debug, info, warn, error)")
	pf.BoolVar(&state.logJSON, "log-json", false, "Emit logs as JSON")
	pf.BoolVar(&state.trace, "trace", false, "Write operation spans as JSON lines to stderr")
	pf.BoolVar(&state.metrics, "dump-metrics", false, "Print collected metrics to stderr on exit")

	root.AddCommand(
		newAnimalsCmd(state),
		newUsersCmd(state),
		newGroupsCmd(state),
		newCanCmd(state),
		newPolicyCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
