package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:          "trace <request-id>",
	Short:        "Print a stored observability trace",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		traces, db, err := OpenTraces(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		trace, err := traces.GetTrace(ctx, args[0])
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(trace, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal trace: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(traceCmd)
}
