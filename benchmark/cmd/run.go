// Command run executes the comparison benchmarks and prints one table per
// scenario. With --json the averaged results are also written to
// benchmark_results.json.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type BenchmarkResult struct {
	Name       string  `json:"name"`
	Framework  string  `json:"framework"`
	Category   string  `json:"category"`
	Scenario   string  `json:"scenario"`
	Iterations int64   `json:"iterations"`
	NsPerOp    float64 `json:"ns_per_op"`
	BytesPerOp int64   `json:"bytes_per_op"`
	AllocsOp   int64   `json:"allocs_per_op"`
}

type CategoryResults struct {
	Category string
	Results  []BenchmarkResult
}

var frameworkColors = map[string]text.Colors{
	"Rewire":       {text.FgGreen, text.Bold},
	"RewireSerial": {text.FgCyan},
	"Do":           {text.FgYellow},
	"Dig":          {text.FgMagenta},
	"Fx":           {text.FgBlue},
}

var categoryOrder = []string{
	"Build_Chain",
	"Solve_Chain",
	"Resolve_Chain",
	"Named_10",
	"Wide_50",
	"Lifecycle_10", "Lifecycle_50",
	"LifecycleWithWork_10", "LifecycleWithWork_50",
}

var titles = map[string]string{
	"Build_Chain":          "Registration (dependency chain)",
	"Solve_Chain":          "Build and construct (dependency chain)",
	"Resolve_Chain":        "Lookup after construction",
	"Named_10":             "Named values (10)",
	"Wide_50":              "Independent constructors (50, 1ms each)",
	"Lifecycle_10":         "Start/stop (10 services)",
	"Lifecycle_50":         "Start/stop (50 services)",
	"LifecycleWithWork_10": "Start/stop with work (10 services, 1ms each)",
	"LifecycleWithWork_50": "Start/stop with work (50 services, 1ms each)",
}

func main() {
	jsonOut := slices.Contains(os.Args[1:], "--json")
	benchDir := ".."
	for _, arg := range os.Args[1:] {
		if arg != "--json" {
			benchDir = arg
		}
	}

	fmt.Println(text.Colors{text.FgHiBlack}.Sprint("Running benchmarks..."))

	cmd := exec.Command("go", "test", "-bench=.", "-benchmem", "-count=3", "-benchtime=100ms")
	cmd.Dir = benchDir
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "Benchmark failed: %s\n", exitErr.Stderr)
		} else {
			fmt.Fprintf(os.Stderr, "Benchmark failed: %v\n", err)
		}
		os.Exit(1)
	}

	results := parseResults(output)
	grouped := groupByCategory(results)
	for _, cat := range grouped {
		printCategory(cat)
	}
	printSummary(grouped)

	if jsonOut {
		if err := exportJSON(results); err != nil {
			fmt.Fprintf(os.Stderr, "export: %v\n", err)
			os.Exit(1)
		}
	}
}

var (
	benchPattern = regexp.MustCompile(`^Benchmark(\w+)-\d+\s+(\d+)\s+([\d.]+) ns/op\s+(\d+) B/op\s+(\d+) allocs/op`)
	namePattern  = regexp.MustCompile(`^([^_]+)_([^_]+)_(\w+)$`)
)

// parseResults averages the -count runs of each benchmark. Names follow
// Benchmark<Category>_<Scenario>_<Framework>.
func parseResults(output []byte) []BenchmarkResult {
	seen := make(map[string][]BenchmarkResult)
	var names []string

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		m := benchPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		parts := namePattern.FindStringSubmatch(m[1])
		if parts == nil {
			continue
		}

		r := BenchmarkResult{
			Name:      m[1],
			Category:  parts[1],
			Scenario:  parts[2],
			Framework: parts[3],
		}
		r.Iterations, _ = strconv.ParseInt(m[2], 10, 64)
		r.NsPerOp, _ = strconv.ParseFloat(m[3], 64)
		r.BytesPerOp, _ = strconv.ParseInt(m[4], 10, 64)
		r.AllocsOp, _ = strconv.ParseInt(m[5], 10, 64)

		if _, ok := seen[r.Name]; !ok {
			names = append(names, r.Name)
		}
		seen[r.Name] = append(seen[r.Name], r)
	}

	results := make([]BenchmarkResult, 0, len(names))
	for _, name := range names {
		runs := seen[name]
		var ns float64
		var bytesOp, allocs int64
		for _, r := range runs {
			ns += r.NsPerOp
			bytesOp += r.BytesPerOp
			allocs += r.AllocsOp
		}
		n := int64(len(runs))

		avg := runs[0]
		avg.NsPerOp = ns / float64(n)
		avg.BytesPerOp = bytesOp / n
		avg.AllocsOp = allocs / n
		results = append(results, avg)
	}
	return results
}

// groupByCategory orders known scenarios first, then the rest by name.
// Results within a scenario are sorted fastest first.
func groupByCategory(results []BenchmarkResult) []CategoryResults {
	groups := make(map[string][]BenchmarkResult)
	for _, r := range results {
		key := r.Category + "_" + r.Scenario
		groups[key] = append(groups[key], r)
	}

	var extra []string
	for key := range groups {
		if !slices.Contains(categoryOrder, key) {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)

	var ordered []CategoryResults
	for _, key := range slices.Concat(categoryOrder, extra) {
		rs, ok := groups[key]
		if !ok {
			continue
		}
		sort.Slice(rs, func(i, j int) bool { return rs[i].NsPerOp < rs[j].NsPerOp })
		ordered = append(ordered, CategoryResults{Category: key, Results: rs})
	}
	return ordered
}

func printCategory(cat CategoryResults) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(formatCategoryTitle(cat.Category))
	t.AppendHeader(table.Row{"Framework", "Time/op", "Relative", "B/op", "Allocs/op"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})

	fastest := cat.Results[0].NsPerOp
	for i, r := range cat.Results {
		relative := "fastest"
		if i > 0 && fastest > 0 {
			relative = fmt.Sprintf("%.1fx", r.NsPerOp/fastest)
		}
		t.AppendRow(table.Row{
			colorize(r.Framework),
			formatNs(r.NsPerOp),
			relative,
			r.BytesPerOp,
			r.AllocsOp,
		})
	}
	t.Render()
	fmt.Println()
}

func formatCategoryTitle(cat string) string {
	if title, ok := titles[cat]; ok {
		return title
	}
	return strings.ReplaceAll(cat, "_", " ")
}

func colorize(framework string) string {
	if c, ok := frameworkColors[framework]; ok {
		return c.Sprint(framework)
	}
	return framework
}

func formatNs(ns float64) string {
	switch {
	case ns >= 1_000_000:
		return fmt.Sprintf("%.2f ms", ns/1_000_000)
	case ns >= 1_000:
		return fmt.Sprintf("%.2f µs", ns/1_000)
	default:
		return fmt.Sprintf("%.0f ns", ns)
	}
}

func printSummary(groups []CategoryResults) {
	wins := make(map[string]int)
	for _, cat := range groups {
		wins[cat.Results[0].Framework]++
	}

	frameworks := make([]string, 0, len(wins))
	for name := range wins {
		frameworks = append(frameworks, name)
	}
	sort.Slice(frameworks, func(i, j int) bool {
		if wins[frameworks[i]] != wins[frameworks[j]] {
			return wins[frameworks[i]] > wins[frameworks[j]]
		}
		return frameworks[i] < frameworks[j]
	})

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Summary")
	t.AppendHeader(table.Row{"Framework", "Fastest in"})
	for _, name := range frameworks {
		t.AppendRow(table.Row{colorize(name), fmt.Sprintf("%d/%d", wins[name], len(groups))})
	}
	t.AppendFooter(table.Row{"Compared", "rewire, samber/do, uber/dig, uber/fx"})
	t.Render()
}

func exportJSON(results []BenchmarkResult) error {
	data, err := json.MarshalIndent(struct {
		Benchmarks []BenchmarkResult `json:"benchmarks"`
	}{results}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile("benchmark_results.json", data, 0o644)
}
