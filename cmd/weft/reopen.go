package main

import (
	"github.com/spf13/cobra"
)

var reopenCmd = &cobra.Command{
	Use:   "reopen <task_id>",
	Short: "Move a done task back to active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()
		return eng.Reopen(args[0])
	},
}

func init() {
	rootCmd.AddCommand(reopenCmd)
}
