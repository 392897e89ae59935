package rewire_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpasecinic/rewire"
)

func graphContainer() (*rewire.Container, *rewire.Node) {
	cfg := rewire.Value(&Config{Port: 8080}, rewire.WithLabel("config"))
	c := rewire.New(quiet())
	c.Bind(
		cfg,
		rewire.MustInjectAll(func(cfg *Config) *Database {
			return &Database{Config: cfg}
		}, rewire.WithLabel("database")),
		rewire.MustInjectAll(func(db *Database, cfg *Config) *Server {
			return &Server{DB: db, Config: cfg}
		}, rewire.WithLabel("server")),
		rewire.MustInjectAll(func(*TestLogger) string { return "" },
			rewire.WithLabel("audit"), rewire.Optional()),
	)
	return c, cfg
}

func TestPrintGraphEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, rewire.New(quiet()).FprintGraph(&buf))
	assert.Contains(t, buf.String(), "empty container")
}

func TestPrintGraph(t *testing.T) {
	t.Parallel()

	c, _ := graphContainer()

	out, err := c.SprintGraph()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "○ config (*rewire_test.Config)", lines[0])
	assert.Equal(t, "○ database (*rewire_test.Database) ← config", lines[1])
	assert.Equal(t, "○ server (*rewire_test.Server) ← database, config", lines[2])
	assert.Equal(t, "⊘ audit (string)", lines[3])
}

func TestPrintGraphAfterSolve(t *testing.T) {
	t.Parallel()

	c, _ := graphContainer()
	_, err := c.Solve(context.Background())
	require.NoError(t, err)

	out, err := c.SprintGraph()
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "●"))
}

func TestPrintGraphFailed(t *testing.T) {
	t.Parallel()

	c := rewire.New(quiet())
	c.Bind(rewire.NewNode(func(context.Context) (any, error) {
		return nil, errors.New("boom")
	}, rewire.WithLabel("broken")))
	_, err := c.Solve(context.Background())
	require.Error(t, err)

	out, err := c.SprintGraph()
	require.NoError(t, err)
	assert.Contains(t, out, "✗ broken")
}

func TestPrintGraphCycle(t *testing.T) {
	t.Parallel()

	a := rewire.NewNode(func(context.Context) (any, error) { return nil, nil }, rewire.WithLabel("a"))
	b := rewire.NewNode(func(context.Context) (any, error) { return nil, nil }, rewire.WithLabel("b"), rewire.DependsOn(a))
	c := rewire.New(quiet())
	c.Bind(a, b)
	c.Replace(a, rewire.NewNode(func(context.Context) (any, error) { return nil, nil },
		rewire.WithLabel("a2"), rewire.DependsOn(b)))

	_, err := c.SprintGraph()
	require.Error(t, err)
	assert.True(t, rewire.IsCircularDependency(err))
}

func TestPrintGraphDOT(t *testing.T) {
	t.Parallel()

	c, _ := graphContainer()

	out, err := c.SprintGraphDOT()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "digraph dependencies {"))
	assert.Contains(t, out, "rankdir=LR")
	assert.Contains(t, out, `"database" -> "config";`)
	assert.Contains(t, out, `"server" -> "database";`)
	assert.Contains(t, out, `"audit" [label="audit", style=dashed];`)
	assert.True(t, strings.HasSuffix(out, "}\n"))
}

func TestGraphInfo(t *testing.T) {
	t.Parallel()

	c, cfg := graphContainer()

	info, err := c.Graph()
	require.NoError(t, err)
	require.Len(t, info.Nodes, 4)

	byLabel := make(map[string]rewire.NodeInfo)
	for _, n := range info.Nodes {
		byLabel[n.Label] = n
	}

	assert.Equal(t, cfg.ID().String(), byLabel["config"].ID)
	assert.Equal(t, 0, byLabel["config"].Level)
	assert.ElementsMatch(t, []string{"database", "server"}, byLabel["config"].Dependents)
	assert.Equal(t, 1, byLabel["database"].Level)
	assert.Equal(t, 2, byLabel["server"].Level)
	assert.Equal(t, []string{"database", "config"}, byLabel["server"].Dependencies)
	assert.True(t, byLabel["audit"].Dropped)
	assert.Equal(t, 3, byLabel["audit"].Level)
}
