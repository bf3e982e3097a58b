package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ryandielhenn/zephyrrotor/internal/config"
	"github.com/ryandielhenn/zephyrrotor/internal/logger"
	"github.com/ryandielhenn/zephyrrotor/pkg/node"
	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

var version = "dev"

// app is the state shared by every subcommand once the root pre-run has loaded it.
type app struct {
	cfgPath  string
	logLevel string

	cfg  *config.Config
	reg  *node.Registry
	node *node.Node
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 1 for configuration defects and rejected advances, 2 for anything else.
func exitCode(err error) int {
	switch {
	case errors.Is(err, rotation.ErrConfiguration),
		errors.Is(err, rotation.ErrMultiStepRotation),
		errors.Is(err, rotation.ErrOffsetRegression):
		return 1
	default:
		return 2
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "rotor",
		Short:         "Plan and drive generation rotation of a Raft cluster",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			_ = logger.Sync()
			if a.reg != nil {
				return a.reg.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", os.Getenv("ROTOR_CONFIG"), "path to rotor.yaml (env ROTOR_CONFIG)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newPlanCmd(a),
		newRenderCmd(a),
		newApplyCmd(a),
		newDiffCmd(a),
		newAdvanceCmd(a),
		newEnvCmd(a),
		newRegisterCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	config.LoadDotEnv()
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "rotor", Version: version})

	reg, err := node.OpenRegistry(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	a.cfg, a.reg, a.node = cfg, reg, node.NewNode(cfg, reg)
	return nil
}

// offsetFor returns --offset when given, else the registry's stored offset.
func (a *app) offsetFor(cmd *cobra.Command, flagValue uint64) (uint64, error) {
	if cmd.Flags().Changed("offset") {
		return flagValue, nil
	}
	return a.node.Offset(cmd.Context())
}
