package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newToolsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the bot would offer to the model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := a.mcpClient()
			defer client.Close()

			catalog, err := a.loadCatalog(cmd.Context(), client)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range catalog.Descriptors() {
				fmt.Fprintf(w, "%s\t%s\n", d.Name, d.Description)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d tools enabled\n", catalog.Len())
			return nil
		},
	}
}
