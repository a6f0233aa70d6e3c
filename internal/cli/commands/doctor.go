package commands

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/leapmetrics/pkg/model"
	"github.com/leapstack-labs/leapmetrics/pkg/validate"
)

// DoctorOutput is the JSON output of the doctor command.
type DoctorOutput struct {
	Summary     ProjectSummary    `json:"summary"`
	Diagnostics map[string]int    `json:"diagnostics"`
	Connections []ConnectionCheck `json:"connections"`
	Healthy     bool              `json:"healthy"`
}

// ProjectSummary counts the objects of a project.
type ProjectSummary struct {
	Models     int `json:"models"`
	Views      int `json:"views"`
	Metrics    int `json:"metrics"`
	Dimensions int `json:"dimensions"`
	Topics     int `json:"topics"`
	Dashboards int `json:"dashboards"`
	JoinGraphs int `json:"join_graphs"`
}

// ConnectionCheck is the result of probing one warehouse connection.
type ConnectionCheck struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	OK      bool   `json:"ok"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	var (
		format  string
		offline bool
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the project and its warehouse connections",
		Long: `Summarize the project, count validation errors and warnings by object kind,
and connect to every warehouse the models use with a trivial query.`,
		Example: `  leapmetrics doctor
  leapmetrics doctor --offline --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, format, offline)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip connection checks")
	return cmd
}

func runDoctor(cmd *cobra.Command, format string, offline bool) error {
	cc := NewCommandContext(cmd)
	ctx := cmd.Context()
	p, err := cc.LoadProject(ctx)
	if err != nil {
		return err
	}
	vcfg, err := cc.Cfg.ValidationConfig()
	if err != nil {
		return err
	}

	doc := DoctorOutput{Summary: summarize(p), Diagnostics: map[string]int{}, Healthy: true}
	for _, d := range validate.NewAnalyzer(vcfg, cc.Logger).Analyze(p) {
		doc.Diagnostics[d.Severity.String()]++
		if d.Severity == validate.SeverityError {
			doc.Healthy = false
		}
	}
	if !offline {
		doc.Connections = checkConnections(ctx, cc, p)
		for _, c := range doc.Connections {
			doc.Healthy = doc.Healthy && c.OK
		}
	}

	if format == formatJSON {
		return writeJSON(cc.Out, doc)
	}
	printDoctor(cc, doc)
	return nil
}

func summarize(p *model.Project) ProjectSummary {
	s := ProjectSummary{
		Models:     len(p.ListModels()),
		Views:      len(p.ListViews()),
		Topics:     len(p.ListTopics()),
		Dashboards: len(p.ListDashboards()),
	}
	if metrics, err := p.ListMetrics("", true); err == nil {
		s.Metrics = len(metrics)
	}
	if dims, err := p.ListDimensions("", true); err == nil {
		s.Dimensions = len(dims)
	}
	if graphs, err := p.ListJoinGraphs(); err == nil {
		s.JoinGraphs = len(graphs)
	}
	return s
}

// checkConnections runs SELECT 1 on each connection a model uses.
func checkConnections(ctx context.Context, cc *CommandContext, p *model.Project) []ConnectionCheck {
	var names []string
	for _, m := range p.ListModels() {
		if m.Connection != "" && !slices.Contains(names, m.Connection) {
			names = append(names, m.Connection)
		}
	}
	sort.Strings(names)

	pool := cc.Pool()
	defer func() { _ = pool.Close() }()

	checks := make([]ConnectionCheck, 0, len(names))
	for _, name := range names {
		check := ConnectionCheck{Name: name}
		if conn, err := cc.Cfg.Connection(name); err == nil {
			check.Type = conn.Type
		}
		start := time.Now()
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, err := pool.Query(ctx, name, "SELECT 1")
		cancel()
		if err != nil {
			check.Error = err.Error()
		} else {
			check.OK = true
			check.Latency = time.Since(start).Round(time.Millisecond).String()
		}
		checks = append(checks, check)
	}
	return checks
}

func printDoctor(cc *CommandContext, doc DoctorOutput) {
	w := cc.Out
	title := cases.Title(language.English)
	s := doc.Summary

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Object", "Count"})
	for _, row := range []struct {
		kind string
		n    int
	}{
		{"models", s.Models}, {"views", s.Views}, {"metrics", s.Metrics}, {"dimensions", s.Dimensions},
		{"topics", s.Topics}, {"dashboards", s.Dashboards}, {"join graphs", s.JoinGraphs},
	} {
		t.AppendRow(table.Row{title.String(row.kind), row.n})
	}
	_, _ = fmt.Fprintln(w, t.Render())

	_, _ = fmt.Fprintf(w, "\nValidation: %d error(s), %d warning(s)\n",
		doc.Diagnostics[validate.SeverityError.String()], doc.Diagnostics[validate.SeverityWarning.String()])

	if len(doc.Connections) > 0 {
		_, _ = fmt.Fprintln(w, "\nConnections:")
		for _, c := range doc.Connections {
			if c.OK {
				_, _ = fmt.Fprintf(w, "  ok    %s (%s) %s\n", c.Name, c.Type, c.Latency)
			} else {
				_, _ = fmt.Fprintf(w, "  fail  %s (%s): %s\n", c.Name, c.Type, c.Error)
			}
		}
	}

	if doc.Healthy {
		_, _ = fmt.Fprintln(w, "\nProject is healthy")
	} else {
		_, _ = fmt.Fprintln(w, "\nProject has problems")
	}
}
