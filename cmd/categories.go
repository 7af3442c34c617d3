package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescuegrid/rescuegrid/core/scoring"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the known emergency categories and their requirements",
	RunE:  runCategories,
}

func init() {
	rootCmd.AddCommand(categoriesCmd)
}

func runCategories(cmd *cobra.Command, args []string) error {
	table := scoring.DefaultRequirements()
	out := cmd.OutOrStdout()
	for _, cat := range table.Categories() {
		req, _ := table.Lookup(cat)
		fmt.Fprintf(out, "%s\n", cat)
		fmt.Fprintf(out, "  facilities:  %s\n", strings.Join(req.Facilities, ", "))
		fmt.Fprintf(out, "  specialists: %s\n", strings.Join(req.Specialists, ", "))
		if len(req.NiceToHave) > 0 {
			fmt.Fprintf(out, "  nice to have: %s\n", strings.Join(req.NiceToHave, ", "))
		}
	}
	return nil
}
