package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/samber/do/v2"
	"go.uber.org/dig"
	"go.uber.org/fx"

	"github.com/danpasecinic/rewire"
)

func doChain() do.Injector {
	injector := do.New()
	do.ProvideValue(injector, newConfig())
	do.ProvideValue(injector, newLogger())
	do.Provide(injector, func(i do.Injector) (*Database, error) {
		return newDatabase(do.MustInvoke[*Config](i), do.MustInvoke[*Logger](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*Cache, error) {
		return newCache(do.MustInvoke[*Logger](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*Repository, error) {
		return newRepository(do.MustInvoke[*Database](i), do.MustInvoke[*Cache](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*Service, error) {
		return newService(do.MustInvoke[*Repository](i), do.MustInvoke[*Logger](i)), nil
	})
	return injector
}

func digChain() *dig.Container {
	c := dig.New()
	for _, fn := range chain {
		_ = c.Provide(fn)
	}
	return c
}

// Build_Chain: register the graph and check it is complete.

func BenchmarkBuild_Chain_Rewire(b *testing.B) {
	b.ReportAllocs()
	for range b.N {
		_ = rewireChain().Validate()
	}
}

func BenchmarkBuild_Chain_Dig(b *testing.B) {
	b.ReportAllocs()
	for range b.N {
		_ = digChain()
	}
}

func BenchmarkBuild_Chain_Do(b *testing.B) {
	b.ReportAllocs()
	for range b.N {
		_ = doChain()
	}
}

// Solve_Chain: build the graph and produce every value once.

func BenchmarkSolve_Chain_Rewire(b *testing.B) {
	ctx := context.Background()
	b.ReportAllocs()
	for range b.N {
		_, _ = rewireChain().Solve(ctx)
	}
}

func BenchmarkSolve_Chain_RewireSerial(b *testing.B) {
	ctx := context.Background()
	b.ReportAllocs()
	for range b.N {
		_, _ = rewireChain(rewire.WithMaxConcurrency(1)).Solve(ctx)
	}
}

func BenchmarkSolve_Chain_Dig(b *testing.B) {
	b.ReportAllocs()
	for range b.N {
		_ = digChain().Invoke(func(*Service) {})
	}
}

func BenchmarkSolve_Chain_Do(b *testing.B) {
	b.ReportAllocs()
	for range b.N {
		_ = do.MustInvoke[*Service](doChain())
	}
}

func BenchmarkSolve_Chain_Fx(b *testing.B) {
	b.ReportAllocs()
	for range b.N {
		var svc *Service
		_ = fx.New(fx.NopLogger, fx.Provide(chain...), fx.Populate(&svc))
	}
}

// Resolve_Chain: read the top of an already built graph.

func BenchmarkResolve_Chain_Rewire(b *testing.B) {
	c := rewireChain()
	_, _ = c.Solve(context.Background())

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		_, _ = rewire.Resolve[*Service](c)
	}
}

func BenchmarkResolve_Chain_Dig(b *testing.B) {
	c := digChain()
	_ = c.Invoke(func(*Service) {})

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		_ = c.Invoke(func(*Service) {})
	}
}

func BenchmarkResolve_Chain_Do(b *testing.B) {
	injector := doChain()
	_ = do.MustInvoke[*Service](injector)

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		_ = do.MustInvoke[*Service](injector)
	}
}

// Named_10: ten values of one type told apart by name.

func BenchmarkNamed_10_Rewire(b *testing.B) {
	ctx := context.Background()
	b.ReportAllocs()
	for range b.N {
		c := rewire.New(rewire.WithLogger(quiet))
		for j := range 10 {
			name := fmt.Sprintf("svc_%d", j)
			c.Bind(rewire.Value(&Config{Port: j}, rewire.Produces(rewire.NamedTagOf[*Config](name))))
		}
		_, _ = c.Solve(ctx)
		_, _ = rewire.ResolveNamed[*Config](c, "svc_9")
	}
}

func BenchmarkNamed_10_Dig(b *testing.B) {
	b.ReportAllocs()
	for range b.N {
		c := dig.New()
		for j := range 10 {
			_ = c.Provide(func() *Config { return &Config{Port: j} }, dig.Name(fmt.Sprintf("svc_%d", j)))
		}
		_ = c.Invoke(func(p struct {
			dig.In
			Last *Config `name:"svc_9"`
		}) {
		})
	}
}

func BenchmarkNamed_10_Do(b *testing.B) {
	b.ReportAllocs()
	for range b.N {
		injector := do.New()
		for j := range 10 {
			do.ProvideNamed(injector, fmt.Sprintf("svc_%d", j), func(do.Injector) (*Config, error) {
				return &Config{Port: j}, nil
			})
		}
		_ = do.MustInvokeNamed[*Config](injector, "svc_9")
	}
}

// Wide_50: fifty independent 1ms constructors.

const wideCount = 50

func BenchmarkWide_50_Rewire(b *testing.B) {
	benchmarkWideRewire(b, 0)
}

func BenchmarkWide_50_RewireSerial(b *testing.B) {
	benchmarkWideRewire(b, 1)
}

func BenchmarkWide_50_Do(b *testing.B) {
	b.ReportAllocs()
	for range b.N {
		injector := do.New()
		for j := range wideCount {
			do.ProvideNamed(injector, fmt.Sprintf("svc_%d", j), func(do.Injector) (*Config, error) {
				time.Sleep(time.Millisecond)
				return &Config{Port: j}, nil
			})
		}
		for j := range wideCount {
			_ = do.MustInvokeNamed[*Config](injector, fmt.Sprintf("svc_%d", j))
		}
	}
}

func benchmarkWideRewire(b *testing.B, maxConcurrency int) {
	ctx := context.Background()
	b.ReportAllocs()
	for range b.N {
		c := rewire.New(rewire.WithLogger(quiet), rewire.WithMaxConcurrency(maxConcurrency))
		for j := range wideCount {
			c.Bind(rewire.NewNode(func(context.Context) (any, error) {
				time.Sleep(time.Millisecond)
				return &Config{Port: j}, nil
			}))
		}
		_, _ = c.Solve(ctx)
	}
}
