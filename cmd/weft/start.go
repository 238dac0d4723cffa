package main

import (
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start [task_id]",
	Short: "Begin a new or explicit task",
	Long: `Start executes the workflow. With a task_id the given task is focused
first; without one, the engine resumes the active task or smart-resumes the
first pending leaf.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		if len(args) == 1 {
			if err := eng.StartTask(args[0]); err != nil {
				return err
			}
		}

		ctx, cancel := signalContext()
		defer cancel()
		return eng.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
