package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracekit/tracetest/internal/scenario"
)

// ScenarioInfo is the list entry for one registered scenario.
type ScenarioInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	TestCount   int    `json:"test_count"`
	NeedsDaemon bool   `json:"needs_daemon"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered scenarios",
		Long: `List the registered regression scenarios.

Examples:
  tracetest list
  tracetest list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listScenarios(rootOpts, cmd)
		},
	}

	return cmd
}

func listScenarios(opts *RootOptions, cmd *cobra.Command) error {
	infos := make([]ScenarioInfo, 0)
	for _, s := range scenario.All() {
		infos = append(infos, ScenarioInfo{
			Name:        s.Name,
			Description: s.Description,
			TestCount:   s.TestCount,
			NeedsDaemon: s.NeedsSessiond,
		})
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(infos)
	}

	for _, info := range infos {
		daemon := ""
		if info.NeedsDaemon {
			daemon = " [daemon]"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%d cases)%s\n  %s\n", info.Name, info.TestCount, daemon, info.Description)
	}
	return nil
}
