// Package cli provides the command-line interface for leapmetrics.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/internal/cli/commands"
	"github.com/leapstack-labs/leapmetrics/internal/config"
	_ "github.com/leapstack-labs/leapmetrics/pkg/adapters/all"  // register warehouse adapters
	_ "github.com/leapstack-labs/leapmetrics/pkg/dialects/all"  // register SQL dialects
	_ "github.com/leapstack-labs/leapmetrics/pkg/validate/rules" // register validation rules
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "leapmetrics",
		Short: "leapmetrics - semantic layer SQL compiler",
		Long: `leapmetrics turns metric and dimension definitions into SQL for your warehouse.

Declare models, views, topics and dashboards in YAML, then compile queries
from the command line, an interactive shell or the HTTP API.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" ||
				cmd.Name() == "version" || cmd.Name() == "init" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			level := cfg.SlogLevel()
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = commands.WithConfig(ctx, cfg)
			ctx = commands.WithLogger(ctx, logger)
			cmd.SetContext(ctx)

			if cfg.ConfigFile != "" {
				logger.Debug("using config file", slog.String("path", cfg.ConfigFile))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: leapmetrics.yaml in the project dir)")
	pf.String("project-dir", "", "Project directory holding the YAML declarations")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("state", "", "Path to the query history database")
	pf.String("timezone", "", "Timezone dates are converted to")
	pf.StringP("output", "o", "", "Default output format (auto|table|json|csv|md)")
	pf.BoolP("verbose", "v", false, "Verbose output")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "table", "json", "csv", "md"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version, GitCommit))
	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(commands.NewQueryCommand())
	rootCmd.AddCommand(commands.NewMQLCommand())
	rootCmd.AddCommand(commands.NewValidateCommand())
	rootCmd.AddCommand(commands.NewRulesCommand())
	rootCmd.AddCommand(commands.NewListCommand())
	rootCmd.AddCommand(commands.NewDefineCommand())
	rootCmd.AddCommand(commands.NewREPLCommand())
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(commands.NewDoctorCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for leapmetrics.

Bash:
  $ source <(leapmetrics completion bash)

Zsh:
  $ leapmetrics completion zsh > "${fpath[1]}/_leapmetrics"

Fish:
  $ leapmetrics completion fish | source

PowerShell:
  PS> leapmetrics completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
}
