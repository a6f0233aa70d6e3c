package commands

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
)

// NewVersionCommand prints the build version along with the SQL dialects and
// warehouse adapters compiled into the binary.
func NewVersionCommand(version, commit string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "leapmetrics v%s (%s, %s)\n", version, commit, runtime.Version())
			_, _ = fmt.Fprintf(w, "dialects: %s\n", strings.Join(dialect.List(), ", "))
			_, _ = fmt.Fprintf(w, "adapters: %s\n", strings.Join(adapter.ListAdapters(), ", "))
		},
	}
}
