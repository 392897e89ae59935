// Package rewire resolves a graph of units of work and supervises the
// long-running part of an application.
//
// # Nodes
//
// A Node is a callback with declared inputs and an optional produced type.
// Inputs are either other nodes or type references resolved at build time:
//
//	cfg := rewire.Value(&Config{Port: 8080})
//
//	db := rewire.MustInject(func(ctx context.Context, cfg *Config) (*DB, error) {
//	    return Open(ctx, cfg.DSN)
//	}, rewire.Params(rewire.From(cfg)))
//
//	srv := rewire.MustInjectAll(NewServer) // every parameter injected by type
//
// Inject is selective: every parameter other than context.Context needs an
// annotation. From binds a node or a TypeRef, Auto binds by the parameter's
// type and Default passes a value through. InjectAll injects every parameter
// by type, defaulted ones included.
//
// # Containers
//
// A Container holds nodes and child containers. Children organize
// declarations only; the tree is flattened into one graph:
//
//	c := rewire.New(rewire.WithMaxConcurrency(8))
//	c.Bind(cfg, db, srv)
//	c.Add(metricsModule)
//
//	results, err := c.Solve(ctx)
//
// Solve resolves every type reference to exactly one producer, rejects cycles
// with the full path, then runs independent nodes concurrently. Each callback
// runs at most once per pass. A failure skips the node's dependents; with
// PolicyDrain, the default, unrelated nodes still run, while PolicyFailFast
// stops scheduling and cancels running nodes. Every failure of the pass is
// reported in one *SolveError.
//
// # Wrappers
//
// A node that produces T and consumes T by type wraps the producer of T:
//
//	c.Bind(rewire.Decorate(func(ctx context.Context, db *DB) (*DB, error) {
//	    return db.WithTracing(), nil
//	}))
//
// # Lifecycle
//
// A Lifecycle runs long-lived tasks inside scopes and collects stop hooks
// registered while the tasks run:
//
//	lc := rewire.NewLifecycle(rewire.WithShutdownTimeout(10 * time.Second))
//	lc.Use(rewire.NewScope("tracer", startTracer))
//	lc.Run(func(ctx context.Context) error {
//	    lc.OnStopFunc(ctx, srv.Shutdown)
//	    return srv.Serve(ctx)
//	})
//
//	err := lc.Start(ctx, true)
//
// Shutdown runs every task's hooks, cancels the tasks, waits for them and
// exits the scopes in reverse order. Launch chains Solve and Start.
package rewire
