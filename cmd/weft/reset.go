package main

import (
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset <task_id>",
	Short: "Revert a task (and its descendants) to pending",
	Long: `Reset rewinds a task to PENDING recursively. A backup of the previous
document is rotated before the write, and any state or intent records for
the task are cleared.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()
		return eng.Reset(args[0])
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
