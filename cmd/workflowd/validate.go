package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/workflow"
	"github.com/meikuraledutech/workflow/schedule"
)

var errInvalidDag = errors.New("dag is invalid")

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dag.json>",
		Short: "Validate a DAG file and print its execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var d workflow.Dag
			if err := json.Unmarshal(raw, &d); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			res := workflow.Validate(&d)
			if !res.Valid {
				for _, e := range res.Errors {
					fmt.Fprintf(out, "error: %s\n", e)
				}
				return errInvalidDag
			}
			order, err := schedule.Plan(&d)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "valid")
			for i, key := range order {
				fmt.Fprintf(out, "%d. %s\n", i+1, key)
			}
			return nil
		},
	}
}
