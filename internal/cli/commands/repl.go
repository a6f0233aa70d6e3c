package commands

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/internal/state"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
	"github.com/leapstack-labs/leapmetrics/pkg/query"
)

const (
	replPrompt     = "leapmetrics> "
	replContPrompt = "        ...> "
)

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive metric query shell",
		Long: `Start an interactive shell for metric queries.

Each statement ends with a semicolon. A statement is either SQL holding
MQL(...) calls, or the inside of one call:

  total_revenue BY channel WHERE ${channel} != 'Email';

Use .run to execute statements instead of printing their SQL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runREPL(cmd, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format for results: table, json, csv, md")
	return cmd
}

type replSession struct {
	cc     *CommandContext
	cmd    *cobra.Command
	p      *model.Project
	format string
	run    bool
}

func runREPL(cmd *cobra.Command, format string) error {
	cc := NewCommandContext(cmd)
	if err := checkFormat(format); err != nil {
		return err
	}
	p, err := cc.LoadProject(cmd.Context())
	if err != nil {
		return err
	}
	s := &replSession{cc: cc, cmd: cmd, p: p, format: format}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     filepath.Join(filepath.Dir(cc.Cfg.State.Path), "repl_history"),
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
		Stdout:          cc.Out,
		Stderr:          cc.Err,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintf(cc.Out, "leapmetrics REPL (project: %s)\n", cc.Cfg.ProjectDir)
	_, _ = fmt.Fprintln(cc.Out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(cc.Out)

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if buf.Len() == 0 && strings.HasPrefix(line, ".") {
			if s.dotCommand(line) {
				return nil
			}
			continue
		}

		buf.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buf.WriteString(" ")
			rl.SetPrompt(replContPrompt)
			continue
		}
		rl.SetPrompt(replPrompt)
		stmt := strings.TrimSuffix(buf.String(), ";")
		buf.Reset()

		if err := s.execute(stmt); err != nil {
			_, _ = fmt.Fprintf(s.cc.Err, "Error: %v\n", err)
		}
		_, _ = fmt.Fprintln(s.cc.Out)
	}
}

// execute compiles one statement. A statement without MQL( is treated as
// the body of a single call.
func (s *replSession) execute(stmt string) error {
	if !strings.Contains(strings.ToUpper(stmt), "MQL(") {
		stmt = "SELECT * FROM MQL(" + stmt + ")"
	}
	sql, err := convertMQL(s.cc, s.p, stmt)
	if err != nil {
		return err
	}
	if !s.run {
		_, err = fmt.Fprintln(s.cc.Out, sql)
		return err
	}
	conn, err := s.connection()
	if err != nil {
		return err
	}
	return runCompiled(s.cmd.Context(), s.cc, &query.Result{SQL: sql, Connection: conn}, &state.QueryRecord{}, s.format)
}

// connection picks the connection statements run on: the only one
// configured, or the one shared by every model.
func (s *replSession) connection() (string, error) {
	if len(s.cc.Cfg.Connections) == 1 {
		return s.cc.Cfg.Connections[0].Name, nil
	}
	var name string
	for _, m := range s.p.ListModels() {
		if name != "" && m.Connection != name {
			return "", fmt.Errorf("models use more than one connection, run the query with leapmetrics query --run instead")
		}
		name = m.Connection
	}
	if name == "" {
		return "", fmt.Errorf("no connection configured")
	}
	return name, nil
}

// dotCommand handles a REPL command and reports whether to exit.
func (s *replSession) dotCommand(line string) bool {
	parts := strings.Fields(line)
	out, errOut := s.cc.Out, s.cc.Err
	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		return true
	case ".help":
		printREPLHelp(out)
	case ".metrics", ".dimensions":
		list := s.p.ListDimensions
		if parts[0] == ".metrics" {
			list = s.p.ListMetrics
		}
		view := ""
		if len(parts) > 1 {
			view = parts[1]
		}
		fields, err := list(view, false)
		if err == nil {
			err = renderFields(out, fields, s.format)
		}
		if err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	case ".define":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(errOut, "Usage: .define <metric>")
			break
		}
		sql, err := s.p.Define(parts[1])
		if err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
			break
		}
		_, _ = fmt.Fprintln(out, sql)
	case ".run":
		s.run = len(parts) < 2 || strings.EqualFold(parts[1], "on")
		_, _ = fmt.Fprintf(out, "run: %t\n", s.run)
	case ".reload":
		if err := s.cc.Loader().Reload(s.cmd.Context(), s.p, s.cc.Cfg.ProjectDir); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
			break
		}
		_, _ = fmt.Fprintln(out, "project reloaded")
	default:
		_, _ = fmt.Fprintf(errOut, "Unknown command: %s (type .help for commands)\n", parts[0])
	}
	return false
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help                Show this help message
  .metrics [view]      List metrics
  .dimensions [view]   List dimensions
  .define <metric>     Show the SQL of a metric
  .run [on|off]        Execute statements instead of printing SQL
  .reload              Re-read the project files
  .quit / .exit        Exit the REPL

Tips:
  - Statements must end with a semicolon (;)
  - Tab completion works for metric and dimension names
`
	_, _ = fmt.Fprintln(w, help)
}

// completer offers field names and dot commands.
func (s *replSession) completer() *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	if fields, err := s.p.ListFields("", false); err == nil {
		seen := make(map[string]bool)
		for _, f := range fields {
			if !seen[f.Name] {
				seen[f.Name] = true
				items = append(items, readline.PcItem(f.Name))
			}
		}
	}
	items = append(items,
		readline.PcItem(".help"),
		readline.PcItem(".metrics"),
		readline.PcItem(".dimensions"),
		readline.PcItem(".define"),
		readline.PcItem(".run", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem(".reload"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
	return readline.NewPrefixCompleter(items...)
}
