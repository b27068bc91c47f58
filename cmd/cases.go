package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/veritrail-cli/internal/config"
	"github.com/xkilldash9x/veritrail-cli/internal/observability"
	"github.com/xkilldash9x/veritrail-cli/internal/testrail"
)

// newCasesCmd groups the TestRail case-maintenance subcommands.
func newCasesCmd() *cobra.Command {
	casesCmd := &cobra.Command{
		Use:   "cases",
		Short: "Maintenance operations against the TestRail suite",
	}
	casesCmd.AddCommand(newCasesSectionsCmd())
	casesCmd.AddCommand(newCasesDeleteCmd())
	return casesCmd
}

// caseBridge builds a reporting bridge for maintenance commands. These always
// need reporting configured, regardless of the enabled flag used by runs.
func caseBridge() (*testrail.Bridge, error) {
	v := viper.GetViper()
	v.Set("testrail.enabled", true)

	cfg, err := config.NewFromViper(v)
	if err != nil {
		return nil, err
	}
	return testrail.NewBridge(cfg.TestRail, observability.GetLogger())
}

func newCasesSectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sections",
		Short: "Lists the section tree of the configured suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			bridge, err := caseBridge()
			if err != nil {
				return err
			}

			sections, err := bridge.ListSections(cmd.Context())
			if err != nil {
				return err
			}
			if len(sections) == 0 {
				fmt.Println("The suite has no sections.")
				return nil
			}
			for _, s := range sections {
				fmt.Printf("%s%d  %s\n", strings.Repeat("  ", s.Depth), s.ID, s.Name)
			}
			return nil
		},
	}
}

func newCasesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [case-id...]",
		Short: "Permanently deletes cases from the configured suite",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int, 0, len(args))
			for _, arg := range args {
				id, err := strconv.Atoi(arg)
				if err != nil || id <= 0 {
					return fmt.Errorf("%q is not a valid case ID", arg)
				}
				ids = append(ids, id)
			}

			bridge, err := caseBridge()
			if err != nil {
				return err
			}

			failed := bridge.DeleteCases(cmd.Context(), ids)
			fmt.Printf("Deleted %d of %d cases.\n", len(ids)-len(failed), len(ids))
			if len(failed) > 0 {
				return fmt.Errorf("could not delete cases %v", failed)
			}
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newCasesCmd())
}
