package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/internal/config"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new leapmetrics project",
		Long: `Initialize a new project with a leapmetrics.yaml, a model and an example
view.

The generated configuration points at a local DuckDB file. Edit the
connections section to use your warehouse.`,
		Example: `  # Initialize in the current directory
  leapmetrics init

  # Initialize in a new directory
  leapmetrics init my-metrics

  # Overwrite existing files
  leapmetrics init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(cmd, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	return cmd
}

func runInit(cmd *cobra.Command, dir string, force bool) error {
	out := cmd.OutOrStdout()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", config.FileName)
	}

	files, err := copyTemplate("starter", dir, force)
	if err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}
	for _, f := range files {
		_, _ = fmt.Fprintf(out, "  created %s\n", f)
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "Project initialized. Next steps:")
	_, _ = fmt.Fprintln(out, "  leapmetrics validate               Check the project")
	_, _ = fmt.Fprintln(out, "  leapmetrics list metrics           See what can be queried")
	_, _ = fmt.Fprintln(out, "  leapmetrics query -m revenue -d channel")
	return nil
}
