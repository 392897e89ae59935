// Package telemetry builds the OpenTelemetry providers and the Prometheus
// endpoint selected by the engine configuration.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/danpasecinic/rewire"
	"github.com/danpasecinic/rewire/config"
)

var ErrUnknownExporter = errors.New("unknown exporter")

// Providers holds the configured providers. Unconfigured signals get no-op
// providers, so the result can always be passed to the rewire options.
type Providers struct {
	Tracer trace.TracerProvider
	Meter  metric.MeterProvider

	shutdown []func(context.Context) error
}

// Setup builds the providers for cfg. Stdout exporters write to w; the
// Prometheus exporter registers with reg.
func Setup(cfg config.Telemetry, w io.Writer, reg prometheus.Registerer) (*Providers, error) {
	p := &Providers{
		Tracer: tracenoop.NewTracerProvider(),
		Meter:  metricnoop.NewMeterProvider(),
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.Service),
	)

	switch cfg.Traces {
	case "", "none":
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		p.Tracer = tp
		p.shutdown = append(p.shutdown, tp.Shutdown)
	default:
		return nil, fmt.Errorf("%w: traces %q", ErrUnknownExporter, cfg.Traces)
	}

	switch cfg.Metrics {
	case "", "none":
	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		)
		p.Meter = mp
		p.shutdown = append(p.shutdown, mp.Shutdown)
	case "prometheus":
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		p.Meter = mp
		p.shutdown = append(p.shutdown, mp.Shutdown)
	default:
		return nil, fmt.Errorf("%w: metrics %q", ErrUnknownExporter, cfg.Metrics)
	}

	return p, nil
}

func (p *Providers) Options() []rewire.Option {
	return []rewire.Option{
		rewire.WithTracerProvider(p.Tracer),
		rewire.WithMeterProvider(p.Meter),
	}
}

func (p *Providers) LifecycleOptions() []rewire.LifecycleOption {
	return []rewire.LifecycleOption{
		rewire.WithLifecycleTracerProvider(p.Tracer),
		rewire.WithLifecycleMeterProvider(p.Meter),
	}
}

// Shutdown flushes and stops every provider, in reverse creation order.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		if err := p.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Scope ties the providers to a lifecycle: they are shut down once every
// task has exited.
func (p *Providers) Scope() rewire.Scope {
	return rewire.NewScope("telemetry", func(context.Context) (func(context.Context) error, error) {
		return p.Shutdown, nil
	})
}

// MetricsServer serves g on /metrics.
type MetricsServer struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr right away so a port conflict fails before the
// lifecycle starts.
func Listen(addr string, g prometheus.Gatherer) (*MetricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	return &MetricsServer{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}, nil
}

func (m *MetricsServer) Addr() string {
	return m.ln.Addr().String()
}

// RegisterLifecycle serves until shutdown.
func (m *MetricsServer) RegisterLifecycle(lc *rewire.Lifecycle) error {
	return lc.Run(func(ctx context.Context) error {
		if err := lc.OnStop(ctx, rewire.NewHook("metrics-server", m.srv.Shutdown)); err != nil {
			return err
		}
		if err := m.srv.Serve(m.ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, rewire.WithTaskName("metrics"))
}
