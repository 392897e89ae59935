package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/danpasecinic/rewire"
	"github.com/danpasecinic/rewire/config"
	"github.com/danpasecinic/rewire/internal/demo"
	"github.com/danpasecinic/rewire/internal/telemetry"
	"github.com/danpasecinic/rewire/promobserve"
)

type rootFlags struct {
	configFile string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "rewire",
		Short:         "Run and inspect the demo application graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "configuration file (default $CONFIG_FILE or ./config.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newRunCmd(flags),
		newGraphCmd(flags),
		newConfigCmd(flags),
	)
	return root
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Solve the graph and serve until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func newGraphCmd(flags *rootFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency graph without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			c := demo.Build(a.src, a.logger, a.opts...)
			switch format {
			case "ascii":
				return c.FprintGraph(cmd.OutOrStdout())
			case "dot":
				return c.FprintGraphDOT(cmd.OutOrStdout())
			default:
				return fmt.Errorf("unknown graph format %q", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "ascii", "output format: ascii or dot")
	return cmd
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			out, err := a.src.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// app is the state shared by the commands once configuration is loaded.
type app struct {
	src    *config.Source
	engine config.Engine
	logger *slog.Logger
	opts   []rewire.Option
}

func setup(flags *rootFlags, logOut io.Writer) (*app, error) {
	var (
		src *config.Source
		err error
	)
	if flags.configFile != "" {
		src, err = config.Load(flags.configFile)
	} else {
		src, err = config.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	engine, err := config.LoadEngine(src)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		engine.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		engine.Log.Format = flags.logFormat
	}

	logger, err := engine.Logger(logOut)
	if err != nil {
		return nil, err
	}

	opts, err := engine.Options(logger)
	if err != nil {
		return nil, err
	}

	return &app{src: src, engine: engine, logger: logger, opts: opts}, nil
}

func (a *app) run(ctx context.Context, out io.Writer) error {
	reg := prometheus.NewRegistry()

	providers, err := telemetry.Setup(a.engine.Telemetry, out, reg)
	if err != nil {
		return err
	}
	metrics := promobserve.New(reg)

	c := demo.Build(a.src, a.logger, slices.Concat(a.opts, providers.Options(), metrics.Options())...)
	lc := rewire.NewLifecycle(slices.Concat(
		a.engine.LifecycleOptions(a.logger),
		providers.LifecycleOptions(),
		metrics.LifecycleOptions(),
	)...)
	if err := lc.Use(providers.Scope()); err != nil {
		return err
	}

	if addr := a.engine.Telemetry.MetricsAddr; addr != "" {
		srv, err := telemetry.Listen(addr, reg)
		if err != nil {
			return err
		}
		if err := srv.RegisterLifecycle(lc); err != nil {
			return err
		}
		a.logger.Info("serving metrics", "addr", srv.Addr())
	}

	return rewire.LaunchUntilSignal(ctx, c, lc)
}
