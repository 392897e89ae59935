package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/danpasecinic/rewire"
)

// EngineSection is the path of the engine settings in the tree.
const EngineSection = "rewire"

// Engine holds the settings of the container and lifecycle themselves.
type Engine struct {
	Env             string        `yaml:"env" validate:"omitempty,oneof=production dev"`
	Policy          string        `yaml:"policy" validate:"omitempty,oneof=drain fail-fast"`
	MaxConcurrency  int           `yaml:"max_concurrency" validate:"gte=0"`
	Reuse           bool          `yaml:"reuse"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	StopOnError     *bool         `yaml:"stop_on_error"`
	CancelOnStop    *bool         `yaml:"cancel_on_stop"`
	Log             Log           `yaml:"log"`
	Telemetry       Telemetry     `yaml:"telemetry"`
}

type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

type Telemetry struct {
	Service string `yaml:"service"`
	Traces  string `yaml:"traces" validate:"omitempty,oneof=none stdout"`
	Metrics string `yaml:"metrics" validate:"omitempty,oneof=none stdout prometheus"`

	// MetricsAddr serves /metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// DefaultEngine returns the settings used when the section is missing.
func DefaultEngine() Engine {
	return Engine{
		Env:    "production",
		Policy: rewire.PolicyDrain.String(),
		Log:    Log{Level: "info", Format: "text"},
		Telemetry: Telemetry{
			Service: "rewire",
			Traces:  "none",
			Metrics: "none",
		},
	}
}

// LoadEngine decodes the rewire section over the defaults.
func LoadEngine(s *Source) (Engine, error) {
	e := DefaultEngine()
	if err := s.Decode(EngineSection, &e); err != nil {
		return Engine{}, err
	}
	return e, nil
}

func (e Engine) IsDev() bool {
	return e.Env == "dev"
}

// Options maps the settings onto container options.
func (e Engine) Options(logger *slog.Logger) ([]rewire.Option, error) {
	policy, err := rewire.ParseFailurePolicy(e.Policy)
	if err != nil {
		return nil, err
	}

	opts := []rewire.Option{
		rewire.WithFailurePolicy(policy),
		rewire.WithMaxConcurrency(e.MaxConcurrency),
		rewire.WithReuseResults(e.Reuse),
	}
	if logger != nil {
		opts = append(opts, rewire.WithLogger(logger))
	}
	return opts, nil
}

// LifecycleOptions maps the settings onto lifecycle options. Unset booleans
// keep the lifecycle defaults.
func (e Engine) LifecycleOptions(logger *slog.Logger) []rewire.LifecycleOption {
	var opts []rewire.LifecycleOption
	if logger != nil {
		opts = append(opts, rewire.WithLifecycleLogger(logger))
	}
	if e.ShutdownTimeout > 0 {
		opts = append(opts, rewire.WithShutdownTimeout(e.ShutdownTimeout))
	}
	if e.StopOnError != nil {
		opts = append(opts, rewire.WithStopOnError(*e.StopOnError))
	}
	if e.CancelOnStop != nil {
		opts = append(opts, rewire.WithCancelOnStop(*e.CancelOnStop))
	}
	return opts
}

// Logger builds a slog logger writing to w. In dev, the level defaults to
// debug.
func (e Engine) Logger(w io.Writer) (*slog.Logger, error) {
	level := e.Log.Level
	if level == "" && e.IsDev() {
		level = "debug"
	}

	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(e.Log.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", e.Log.Format)
	}
}
