package rewire_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpasecinic/rewire"
)

func TestInject_From(t *testing.T) {
	t.Parallel()

	cfg := rewire.Value(&Config{Port: 9000}, rewire.WithLabel("config"))
	db := rewire.MustInject(func(ctx context.Context, cfg *Config) (*Database, error) {
		require.NotNil(t, ctx)
		return &Database{Config: cfg, Name: "orders"}, nil
	}, rewire.Params(rewire.From(cfg)))

	c := rewire.New(quiet())
	c.Bind(cfg, db)

	_, err := c.Solve(context.Background())
	require.NoError(t, err)

	got, err := rewire.ResultOf[*Database](db)
	require.NoError(t, err)
	assert.Equal(t, 9000, got.Config.Port)
	assert.Equal(t, rewire.TagOf[*Database](), db.Produces())
}

func TestInject_FromType(t *testing.T) {
	t.Parallel()

	n := rewire.MustInject(func(port int) string {
		return "listening"
	}, rewire.Params(rewire.From(rewire.NamedType[int]("port"))))

	c := rewire.New(quiet())
	c.Bind(
		rewire.Value(8080, rewire.Produces(rewire.NamedTagOf[int]("port"))),
		rewire.Value(9090, rewire.Produces(rewire.NamedTagOf[int]("admin"))),
		n,
	)

	_, err := c.Solve(context.Background())
	require.NoError(t, err)

	got, err := rewire.ResultOf[string](n)
	require.NoError(t, err)
	assert.Equal(t, "listening", got)
}

func TestInject_AutoAndDefault(t *testing.T) {
	t.Parallel()

	n := rewire.MustInject(func(cfg *Config, name string, retries int) *Database {
		return &Database{Config: cfg, Name: name}
	}, rewire.Params(
		rewire.Auto(),
		rewire.Default("replica"),
		rewire.Default(3),
	))

	c := rewire.New(quiet())
	c.Bind(rewire.Value(&Config{Port: 1}), n)

	_, err := c.Solve(context.Background())
	require.NoError(t, err)

	db, err := rewire.ResultOf[*Database](n)
	require.NoError(t, err)
	assert.Equal(t, "replica", db.Name)
	assert.Equal(t, 1, db.Config.Port)
	assert.Len(t, n.Inputs(), 1)
}

func TestInject_DefaultInjectedInTotalMode(t *testing.T) {
	t.Parallel()

	n := rewire.MustInjectAll(func(cfg *Config, name string) *Database {
		return &Database{Config: cfg, Name: name}
	}, rewire.Params(rewire.Auto(), rewire.Default("ignored")))

	c := rewire.New(quiet())
	c.Bind(rewire.Value(&Config{}), rewire.Value("primary"), n)

	_, err := c.Solve(context.Background())
	require.NoError(t, err)

	db, err := rewire.ResultOf[*Database](n)
	require.NoError(t, err)
	assert.Equal(t, "primary", db.Name)
}

func TestInject_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   any
		opts []rewire.NodeOption
		msg  string
	}{
		{
			name: "not a function",
			fn:   42,
			msg:  "cannot inject",
		},
		{
			name: "unannotated parameter",
			fn:   func(cfg *Config, port int) string { return "" },
			opts: []rewire.NodeOption{rewire.Params(rewire.Auto())},
			msg:  "has no injection annotation",
		},
		{
			name: "too many annotations",
			fn:   func(ctx context.Context, cfg *Config) string { return "" },
			opts: []rewire.NodeOption{rewire.Params(rewire.Auto(), rewire.Auto())},
			msg:  "2 annotations for 1 injectable parameters",
		},
		{
			name: "invalid default",
			fn:   func(port int) string { return "" },
			opts: []rewire.NodeOption{rewire.Params(rewire.Default("eighty"))},
			msg:  "invalid default",
		},
		{
			name: "From without target",
			fn:   func(port int) string { return "" },
			opts: []rewire.NodeOption{rewire.Params(rewire.From(nil))},
			msg:  "From needs a node or a type",
		},
		{
			name: "too many results",
			fn:   func() (int, string, error) { return 0, "", nil },
			msg:  "cannot inject",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n, err := rewire.Inject(tt.fn, tt.opts...)
			require.Error(t, err)
			assert.Nil(t, n)
			assert.True(t, rewire.IsInvalidCallback(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestInject_MustPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		rewire.MustInject(func(cfg *Config) int { return 0 })
	})
	assert.NotPanics(t, func() {
		rewire.MustInjectAll(func(cfg *Config) int { return 0 })
	})
}

func TestInject_ProducesOverride(t *testing.T) {
	t.Parallel()

	primary := rewire.NamedTagOf[*Config]("primary")
	n := rewire.MustInjectAll(func() *Config { return &Config{Port: 1} }, rewire.Produces(primary))
	assert.Equal(t, primary, n.Produces())

	consumer := rewire.MustInjectAll(func(cfg *Config) int { return cfg.Port }, rewire.Optional())

	c := rewire.New(quiet())
	c.Bind(n, consumer)
	_, err := c.Solve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, rewire.StateSkipped, consumer.State())

	cfg, err := rewire.ResolveNamed[*Config](c, "primary")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Port)
}

func TestInject_NoResult(t *testing.T) {
	t.Parallel()

	var ran bool
	n := rewire.MustInjectAll(func(ctx context.Context) error {
		ran = true
		return nil
	}, rewire.WithLabel("migrate"))
	assert.True(t, n.Produces().IsZero())
	assert.Equal(t, "migrate", n.Label())

	c := rewire.New(quiet())
	c.Bind(n)
	_, err := c.Solve(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestInject_ErrorResult(t *testing.T) {
	t.Parallel()

	boom := errors.New("dial failed")
	n := rewire.MustInjectAll(func() (*Database, error) { return nil, boom })

	c := rewire.New(quiet())
	c.Bind(n)
	_, err := c.Solve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, rewire.StateFailed, n.State())
	assert.ErrorIs(t, n.Err(), boom)
}

func TestInject_DefaultLabel(t *testing.T) {
	t.Parallel()

	n := rewire.MustInjectAll(newDatabase)
	assert.Equal(t, "rewire_test.newDatabase", n.Label())
}

func newDatabase(cfg *Config) *Database {
	return &Database{Config: cfg}
}

func TestInputs(t *testing.T) {
	t.Parallel()

	a := rewire.Value("a")
	b := rewire.Value(2)

	var got []any
	var typed int
	var typedErr, rangeErr error
	n := rewire.NewNode(func(ctx context.Context) (any, error) {
		got = rewire.Inputs(ctx)
		typed, typedErr = rewire.Input[int](ctx, 1)
		_, rangeErr = rewire.Input[int](ctx, 5)
		return nil, nil
	}, rewire.DependsOn(a, rewire.Type[int]()))

	c := rewire.New(quiet())
	c.Bind(a, b, n)
	_, err := c.Solve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []any{"a", 2}, got)
	require.NoError(t, typedErr)
	assert.Equal(t, 2, typed)
	assert.Error(t, rangeErr)
	assert.Nil(t, rewire.Inputs(context.Background()))
}
