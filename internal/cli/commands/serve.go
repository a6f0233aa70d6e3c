package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the metrics API over HTTP",
		Long: `Start the HTTP API: compile and run queries, convert MQL, list fields and
validate the project.

When server.jwt_secret is set every /api/v1 request needs a bearer token
signed with it. The token's user claim carries the attributes that access
grants are checked against.`,
		Example: `  leapmetrics serve
  leapmetrics serve --addr :9000 --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := NewCommandContext(cmd)
			ctx := cmd.Context()

			vcfg, err := cc.Cfg.ValidationConfig()
			if err != nil {
				return err
			}
			ldr := cc.Loader()
			p, err := cc.LoadProject(ctx)
			if err != nil {
				return err
			}

			pool := cc.Pool()
			defer func() { _ = pool.Close() }()

			opts := server.Options{
				Project:    p,
				Config:     cc.Cfg.Server,
				Pool:       pool,
				Validation: vcfg,
				Loader:     ldr,
				ProjectDir: cc.Cfg.ProjectDir,
				Watch:      watch,
				Logger:     cc.Logger,
			}
			if cc.Cfg.State.Path != "" {
				store, err := cc.OpenStore(ctx)
				if err != nil {
					return err
				}
				defer func() { _ = store.Close() }()
				opts.Store = store
			}

			cc.Logger.Info("project loaded",
				slog.String("dir", cc.Cfg.ProjectDir),
				slog.Int("views", len(p.ListViews())))
			return server.New(opts).Serve(ctx)
		},
	}

	cmd.Flags().String("addr", "", "Address to listen on (default :8080)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Reload the project when its files change")
	return cmd
}
