package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/fx"

	"github.com/danpasecinic/rewire"
)

func BenchmarkLifecycle_10_Rewire(b *testing.B) {
	benchmarkLifecycleRewire(b, 10, 0)
}

func BenchmarkLifecycle_10_Fx(b *testing.B) {
	benchmarkLifecycleFx(b, 10, 0)
}

func BenchmarkLifecycle_50_Rewire(b *testing.B) {
	benchmarkLifecycleRewire(b, 50, 0)
}

func BenchmarkLifecycle_50_Fx(b *testing.B) {
	benchmarkLifecycleFx(b, 50, 0)
}

func BenchmarkLifecycleWithWork_10_Rewire(b *testing.B) {
	benchmarkLifecycleRewire(b, 10, time.Millisecond)
}

func BenchmarkLifecycleWithWork_10_Fx(b *testing.B) {
	benchmarkLifecycleFx(b, 10, time.Millisecond)
}

func BenchmarkLifecycleWithWork_50_Rewire(b *testing.B) {
	benchmarkLifecycleRewire(b, 50, time.Millisecond)
}

func BenchmarkLifecycleWithWork_50_Fx(b *testing.B) {
	benchmarkLifecycleFx(b, 50, time.Millisecond)
}

func sleepFor(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// benchmarkLifecycleRewire starts count tasks that each do work, register a
// stop hook doing the same work and then block until shutdown.
func benchmarkLifecycleRewire(b *testing.B, count int, work time.Duration) {
	ctx := context.Background()
	b.ReportAllocs()
	for range b.N {
		b.StopTimer()
		lc := rewire.NewLifecycle(rewire.WithLifecycleLogger(quiet))
		for j := range count {
			_ = lc.Run(func(ctx context.Context) error {
				sleepFor(work)
				_, err := lc.OnStopFunc(ctx, func(context.Context) error {
					sleepFor(work)
					return nil
				})
				if err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			}, rewire.WithTaskName(fmt.Sprintf("svc_%d", j)))
		}

		b.StartTimer()
		_ = lc.Start(ctx, false)
		_ = lc.Stop(ctx)
	}
}

func benchmarkLifecycleFx(b *testing.B, count int, work time.Duration) {
	ctx := context.Background()
	b.ReportAllocs()
	for range b.N {
		b.StopTimer()
		opts := []fx.Option{fx.NopLogger}
		for j := range count {
			name := fmt.Sprintf(`name:"svc_%d"`, j)
			opts = append(opts,
				fx.Provide(fx.Annotate(
					func(lc fx.Lifecycle) *Config {
						lc.Append(fx.Hook{
							OnStart: func(context.Context) error {
								sleepFor(work)
								return nil
							},
							OnStop: func(context.Context) error {
								sleepFor(work)
								return nil
							},
						})
						return &Config{Port: j}
					},
					fx.ResultTags(name),
				)),
				fx.Invoke(fx.Annotate(func(*Config) {}, fx.ParamTags(name))),
			)
		}
		app := fx.New(opts...)

		b.StartTimer()
		_ = app.Start(ctx)
		_ = app.Stop(ctx)
	}
}
