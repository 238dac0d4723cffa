package main

import (
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue the currently active task",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, cancel := signalContext()
		defer cancel()
		return eng.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
