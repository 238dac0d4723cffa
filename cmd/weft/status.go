package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/weft/internal/presentation/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current context without mutating anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		summary, err := eng.Summarize()
		if err != nil {
			return err
		}

		if summary.TaskID == "" {
			fmt.Println("No open work: the status tree is settled.")
		} else {
			fmt.Printf("Focus: [%s] %s (%s, step %d/%d in %s)\n",
				summary.TaskID, summary.TaskName, summary.TaskStatus,
				summary.StepIndex, summary.StepTotal, summary.Doc)
		}

		pretty, _ := cmd.Flags().GetBool("pretty")
		raw, err := eng.StatusBytes()
		if err != nil {
			return err
		}
		if pretty {
			render := tui.NewRenderer()
			out, rerr := render(string(raw))
			if rerr != nil {
				out = string(raw)
			}
			fmt.Print(out)
		} else {
			fmt.Print(string(raw))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("pretty", false, "Render the document with terminal styling")
	rootCmd.AddCommand(statusCmd)
}
