package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Pure integrity check of the status documents",
	Long: `Validate loads the status document through the integrity store and runs
the full grammar, invariant and ref checks, recursively through every
sub-document. Exit 0 means valid; nothing is ever mutated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.Validate(); err != nil {
			return err
		}
		fmt.Println("Status documents are valid.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
