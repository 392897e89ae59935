package rewiretest_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/danpasecinic/rewire"
	"github.com/danpasecinic/rewire/rewiretest"
)

type Config struct {
	Port int
	Host string
}

type Database struct {
	Config *Config
}

type UserRepository interface {
	FindByID(id int) string
}

type MockUserRepository struct {
	FindByIDFn func(id int) string
}

func (m *MockUserRepository) FindByID(id int) string {
	if m.FindByIDFn != nil {
		return m.FindByIDFn(id)
	}
	return ""
}

type UserService struct {
	repo UserRepository
}

// fakeTB records failures instead of stopping the goroutine.
type fakeTB struct {
	failed   bool
	msg      string
	cleanups []func()
}

func (f *fakeTB) Helper() {}

func (f *fakeTB) Fatal(args ...any) {
	f.failed, f.msg = true, fmt.Sprint(args...)
}

func (f *fakeTB) Fatalf(format string, args ...any) {
	f.failed, f.msg = true, fmt.Sprintf(format, args...)
}

func (f *fakeTB) Cleanup(fn func()) {
	f.cleanups = append(f.cleanups, fn)
}

func newDatabase(cfg *Config) *Database {
	return &Database{Config: cfg}
}

func TestNew(t *testing.T) {
	t.Parallel()

	tc := rewiretest.New(t)
	if tc == nil {
		t.Fatal("New() returned nil")
	}
	if tc.Size() != 0 {
		t.Errorf("expected empty container, got %d nodes", tc.Size())
	}
}

func TestReplace(t *testing.T) {
	t.Parallel()

	tc := rewiretest.New(t)
	tc.Bind(
		rewire.Value(&Config{Port: 8080, Host: "localhost"}),
		rewire.MustInjectAll(newDatabase),
	)

	rewiretest.Replace(tc, &Config{Port: 9090, Host: "testhost"})
	tc.MustSolve(context.Background())

	db := rewiretest.MustResolve[*Database](tc)
	if db.Config.Port != 9090 {
		t.Errorf("expected port 9090, got %d", db.Config.Port)
	}
	if db.Config.Host != "testhost" {
		t.Errorf("expected host testhost, got %s", db.Config.Host)
	}
}

func TestReplaceNamed(t *testing.T) {
	t.Parallel()

	tc := rewiretest.New(t)
	tc.Bind(
		rewire.Value(&Config{Port: 5432}, rewire.Produces(rewire.NamedTagOf[*Config]("primary"))),
		rewire.Value(&Config{Port: 5433}, rewire.Produces(rewire.NamedTagOf[*Config]("replica"))),
	)

	rewiretest.ReplaceNamed(tc, "primary", &Config{Port: 9999})
	tc.MustSolve(context.Background())

	primary := rewiretest.MustResolveNamed[*Config](tc, "primary")
	if primary.Port != 9999 {
		t.Errorf("expected port 9999, got %d", primary.Port)
	}

	replica := rewiretest.MustResolveNamed[*Config](tc, "replica")
	if replica.Port != 5433 {
		t.Errorf("expected port 5433, got %d", replica.Port)
	}
}

func TestReplaceFunc(t *testing.T) {
	t.Parallel()

	tc := rewiretest.New(t)
	original := rewire.Value(&Config{Port: 8080})
	tc.Bind(original)

	var calls atomic.Int32
	replacement := rewiretest.ReplaceFunc(tc, func(context.Context) (*Config, error) {
		calls.Add(1)
		return &Config{Port: 3000}, nil
	})

	tc.MustSolve(context.Background())
	tc.RequireDone(replacement)

	cfg := rewiretest.MustResolve[*Config](tc)
	if cfg.Port != 3000 {
		t.Errorf("expected port 3000, got %d", cfg.Port)
	}
	if calls.Load() != 1 {
		t.Errorf("expected replacement to be called once, got %d", calls.Load())
	}
	if original.State() == rewire.StateDone {
		t.Error("replaced node should not run")
	}
}

func TestAssertHas(t *testing.T) {
	t.Parallel()

	tc := rewiretest.New(t)
	tc.Bind(rewire.Value(&Config{Port: 8080}))

	rewiretest.AssertHas[*Config](tc)
	rewiretest.AssertNotHas[*Database](tc)
}

func TestAssertHasNamed(t *testing.T) {
	t.Parallel()

	tc := rewiretest.New(t)
	tc.Bind(rewire.Value(&Config{}, rewire.Produces(rewire.NamedTagOf[*Config]("myconfig"))))

	rewiretest.AssertHasNamed[*Config](tc, "myconfig")
}

func TestAssertHas_Fails(t *testing.T) {
	t.Parallel()

	tb := &fakeTB{}
	tc := rewiretest.New(tb)
	rewiretest.AssertHas[*Config](tc)

	if !tb.failed {
		t.Fatal("expected AssertHas to fail on an empty container")
	}
}

func TestRequireValidate(t *testing.T) {
	t.Parallel()

	tc := rewiretest.New(t)
	tc.Bind(rewire.Value(&Config{Port: 8080}), rewire.MustInjectAll(newDatabase))

	tc.RequireValidate()

	tb := &fakeTB{}
	broken := rewiretest.New(tb)
	broken.Bind(rewire.MustInjectAll(newDatabase))
	broken.RequireValidate()
	if !tb.failed {
		t.Fatal("expected validation of a missing dependency to fail")
	}
}

func TestRequireSolveError(t *testing.T) {
	t.Parallel()

	tc := rewiretest.New(t)
	failing := rewire.NewNode(func(context.Context) (any, error) {
		return nil, errors.New("connection refused")
	}, rewire.WithLabel("database"))
	tc.Bind(failing)

	solveErr := tc.RequireSolveError(context.Background())
	if got := solveErr.FailedNodes(); len(got) != 1 || got[0] != "database" {
		t.Errorf("expected [database], got %v", got)
	}
	tc.RequireState(rewire.StateFailed, failing)

	tb := &fakeTB{}
	ok := rewiretest.New(tb)
	ok.Bind(rewire.Value(1))
	ok.RequireSolveError(context.Background())
	if !tb.failed {
		t.Fatal("expected RequireSolveError to fail on a successful solve")
	}
}

func TestMockInjection(t *testing.T) {
	t.Parallel()

	tc := rewiretest.New(t)
	tc.Bind(
		rewire.Value[UserRepository](&MockUserRepository{}),
		rewire.MustInjectAll(func(repo UserRepository) *UserService {
			return &UserService{repo: repo}
		}),
	)

	rewiretest.Replace[UserRepository](tc, &MockUserRepository{
		FindByIDFn: func(id int) string {
			return fmt.Sprintf("mock user %d", id)
		},
	})
	tc.MustSolve(context.Background())

	svc := rewiretest.MustResolve[*UserService](tc)
	if got := svc.repo.FindByID(7); got != "mock user 7" {
		t.Errorf("expected mock user 7, got %q", got)
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	var stopped atomic.Bool
	lc := rewiretest.NewLifecycle(t)
	lc.RequireRun(func(ctx context.Context) error {
		_, err := lc.OnStopFunc(ctx, func(context.Context) error {
			stopped.Store(true)
			return nil
		})
		if err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}, rewire.WithTaskName("server"))

	ctx := context.Background()
	lc.RequireStart(ctx)
	if stopped.Load() {
		t.Error("stop hook should not run before stop")
	}

	lc.RequireStop(ctx)
	if !stopped.Load() {
		t.Error("expected stop hook to run")
	}
}

func TestLifecycle_StoppedOnCleanup(t *testing.T) {
	t.Parallel()

	tb := &fakeTB{}
	lc := rewiretest.NewLifecycle(tb)
	lc.RequireStart(context.Background())

	for i := len(tb.cleanups) - 1; i >= 0; i-- {
		tb.cleanups[i]()
	}

	if lc.State() != rewire.LifecycleStopped {
		t.Errorf("expected lifecycle to be stopped, got %s", lc.State())
	}
	if tb.failed {
		t.Errorf("unexpected failure: %s", tb.msg)
	}
}
