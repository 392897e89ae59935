package rewire

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

type GraphInfo struct {
	Nodes []NodeInfo
}

type NodeInfo struct {
	ID           string
	Label        string
	Produces     string
	Level        int
	Dependencies []string
	Dependents   []string
	State        State
	Optional     bool
	// Dropped is set for optional nodes whose inputs cannot be found.
	Dropped bool
}

// Graph builds the graph and describes it, ordered by dependency level and
// then by label. It does not run anything.
func (c *Container) Graph() (GraphInfo, error) {
	p, err := c.build()
	if err != nil {
		return GraphInfo{}, err
	}

	levels, top, err := p.graph.Levels()
	if err != nil {
		return GraphInfo{}, err
	}

	labels := func(nodes []*Node) []string {
		out := make([]string, len(nodes))
		for i, n := range nodes {
			out[i] = n.label
		}
		return out
	}

	info := GraphInfo{Nodes: make([]NodeInfo, 0, len(p.nodes)+len(p.dropped))}
	for _, n := range p.nodes {
		info.Nodes = append(info.Nodes, NodeInfo{
			ID:           nodeKey(n),
			Label:        n.label,
			Produces:     tagString(n.produces),
			Level:        levels[n],
			Dependencies: labels(p.graph.Dependencies(n)),
			Dependents:   labels(p.graph.Dependents(n)),
			State:        n.State(),
			Optional:     n.optional,
		})
	}
	for _, n := range p.dropped {
		info.Nodes = append(info.Nodes, NodeInfo{
			ID:       nodeKey(n),
			Label:    n.label,
			Produces: tagString(n.produces),
			Level:    top,
			State:    n.State(),
			Optional: true,
			Dropped:  true,
		})
	}

	slices.SortStableFunc(info.Nodes, func(a, b NodeInfo) int {
		if a.Level != b.Level {
			return a.Level - b.Level
		}
		return strings.Compare(a.Label, b.Label)
	})

	return info, nil
}

func tagString(t TypeTag) string {
	if t.IsZero() {
		return ""
	}
	return t.String()
}

func (c *Container) PrintGraph() error {
	return c.FprintGraph(os.Stdout)
}

func (c *Container) FprintGraph(w io.Writer) error {
	info, err := c.Graph()
	if err != nil {
		return err
	}

	if len(info.Nodes) == 0 {
		_, err = fmt.Fprintln(w, "(empty container)")
		return err
	}

	for _, n := range info.Nodes {
		status := "○"
		switch {
		case n.Dropped:
			status = "⊘"
		case n.State == StateDone:
			status = "●"
		case n.State == StateFailed:
			status = "✗"
		}

		name := n.Label
		if n.Produces != "" {
			name += " (" + n.Produces + ")"
		}

		if len(n.Dependencies) == 0 {
			_, _ = fmt.Fprintf(w, "%s %s\n", status, name)
		} else {
			_, _ = fmt.Fprintf(w, "%s %s ← %s\n", status, name, strings.Join(n.Dependencies, ", "))
		}
	}
	return nil
}

func (c *Container) SprintGraph() (string, error) {
	var sb strings.Builder
	err := c.FprintGraph(&sb)
	return sb.String(), err
}

func (c *Container) FprintGraphDOT(w io.Writer) error {
	info, err := c.Graph()
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(w, "digraph dependencies {")
	_, _ = fmt.Fprintln(w, "  rankdir=LR;")
	_, _ = fmt.Fprintln(w, "  node [shape=box];")

	for _, n := range info.Nodes {
		style := ""
		switch {
		case n.Dropped:
			style = ", style=dashed"
		case n.State == StateDone:
			style = ", style=filled, fillcolor=lightblue"
		case n.State == StateFailed:
			style = ", style=filled, fillcolor=salmon"
		}
		_, _ = fmt.Fprintf(w, "  %q [label=%q%s];\n", n.Label, escapeLabel(n.Label), style)
	}

	_, _ = fmt.Fprintln(w)

	for _, n := range info.Nodes {
		for _, dep := range n.Dependencies {
			_, _ = fmt.Fprintf(w, "  %q -> %q;\n", n.Label, dep)
		}
	}

	_, err = fmt.Fprintln(w, "}")
	return err
}

func (c *Container) SprintGraphDOT() (string, error) {
	var sb strings.Builder
	err := c.FprintGraphDOT(&sb)
	return sb.String(), err
}

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, "*", "")
	if idx := strings.LastIndex(s, "/"); idx != -1 {
		s = s[idx+1:]
	}
	return s
}
