package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/nodeflow/pkg/flow"
	"github.com/ravi-parthasarathy/nodeflow/pkg/report"
)

func graphCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph [flow.dot]",
		Short: "Print a summary of a flow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.loadFlow(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch strings.ToLower(format) {
			case "dot":
				fmt.Fprint(out, flow.RenderDOT(f))
				return nil
			case "text", "markdown", "md", "":
				mode, err := report.ParseMode(format)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Flow: %s\n", f.Name)
				fmt.Fprintln(out, report.Flow(f, mode))
				return nil
			default:
				return fmt.Errorf("unknown format %q: use text, markdown or dot", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text, markdown or dot")
	return cmd
}
