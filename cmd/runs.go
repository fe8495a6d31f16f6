package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/access-atlas/atlas/internal/importer"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent import runs",
	Long:  "Lists import run history recorded in Postgres, newest first.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Store.Driver != "postgres" {
			return eris.New("runs: run history is only recorded by the postgres driver")
		}
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := env.RunLog.Recent(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

func formatRunsList(w io.Writer, runs []importer.RunEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tAREA\tFETCHED\tIMPORTED\tSKIPPED\tDUPES\tFAILED\tSTARTED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%.5f,%.5f r=%.0fm\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Status,
			r.Area.Latitude, r.Area.Longitude, r.Area.RadiusMeters,
			r.TotalFetched, r.Imported, r.SkippedUnsupported, r.Duplicates, r.Failed,
			r.StartedAt.Format(time.RFC3339), duration,
		)
	}
	tw.Flush()
}

func init() {
	runsCmd.Flags().Int("limit", 20, "max number of runs to display")
	runsCmd.Flags().Bool("json", false, "print runs as JSON")
	rootCmd.AddCommand(runsCmd)
}
