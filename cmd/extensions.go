package cmd

import (
	"fmt"
	"github.com/HumbleToS/SuperiorSpork/spork"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"strconv"
)

var extensionsCmd = &cobra.Command{
	Use:   "extensions [roots...]",
	Short: "List the extensions that would be loaded on startup",
	Long: "Lists the extensions discovered under each root (or the configured " +
		"extension_roots), in load order. The diagnostics extension is always loaded last.",
	RunE: func(cmd *cobra.Command, args []string) error {
		roots := args
		if len(roots) == 0 {
			roots = cfg.ExtensionRoots
		}
		descriptors, err := spork.DefaultRegistry.Discover(roots...)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Extension", "Package"})
		table.SetAutoWrapText(false)
		for _, d := range descriptors {
			if d.Name == spork.DiagnosticsExtension {
				continue
			}
			table.Append([]string{d.Name, strconv.FormatBool(d.Package)})
		}
		table.Append([]string{spork.DiagnosticsExtension, "false"})
		table.Render()
		fmt.Fprintf(cmd.OutOrStdout(), "%d extensions\n", len(descriptors)+1)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extensionsCmd)
}
