package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leapstack-labs/leapmetrics/internal/config"
	"github.com/leapstack-labs/leapmetrics/internal/loader"
	"github.com/leapstack-labs/leapmetrics/internal/state"
	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

type configKey struct{}

type loggerKey struct{}

// WithConfig stores cfg in ctx.
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// CommandContext holds what a command needs to run.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Out    io.Writer
	Err    io.Writer
}

// NewCommandContext reads the config and logger the root command stored in
// the command's context. Commands run outside the root get defaults.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, _ := ctx.Value(configKey{}).(*config.Config)
	if cfg == nil {
		cfg = &config.Config{
			ProjectDir: ".",
			Output:     config.DefaultOutput,
			State:      config.StateConfig{Path: config.DefaultStatePath},
		}
	}
	logger, _ := ctx.Value(loggerKey{}).(*slog.Logger)
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CommandContext{Cfg: cfg, Logger: logger, Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr()}
}

// Loader returns a declaration loader for the project dir.
func (c *CommandContext) Loader() *loader.Loader {
	return loader.New(c.Logger,
		loader.WithSkip(config.FileName, config.FileNameAlt),
		loader.WithWeekStartDay(c.Cfg.WeekStartDay),
	)
}

// LoadProject loads every declaration under the project dir.
func (c *CommandContext) LoadProject(ctx context.Context) (*model.Project, error) {
	p, err := c.Loader().Project(ctx, c.Cfg.ProjectDir,
		model.WithTimezone(c.Cfg.Timezone),
		model.WithEnv(c.Cfg.Env),
		model.WithConnections(c.Cfg.ConnectionTypes()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", c.Cfg.ProjectDir, err)
	}
	return p, nil
}

// Pool opens warehouse connections from the config on demand.
func (c *CommandContext) Pool() *adapter.Pool {
	return adapter.NewPool(func(name string) (adapter.Config, error) {
		return c.Cfg.Connection(name)
	}, c.Logger)
}

// OpenStore opens the query history database.
func (c *CommandContext) OpenStore(ctx context.Context) (state.Store, error) {
	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(ctx, c.Cfg.State.Path); err != nil {
		return nil, fmt.Errorf("failed to open query history %s: %w", c.Cfg.State.Path, err)
	}
	return store, nil
}

// Format resolves an output format: the flag value if set, else the
// configured output, with "auto" picking a table on a terminal and markdown
// otherwise.
func (c *CommandContext) Format(flag string) string {
	f := flag
	if f == "" {
		f = c.Cfg.Output
	}
	if f == "" || f == config.DefaultOutput {
		if isTerminal(c.Out) {
			return formatTable
		}
		return formatMarkdown
	}
	return f
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
