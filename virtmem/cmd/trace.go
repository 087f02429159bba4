package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/virtmem/datarecording"
)

func newTraceCommand() *cobra.Command {
	var (
		limit     int
		wroteBack bool
	)

	traceCmd := &cobra.Command{
		Use:   "trace <db.sqlite3>",
		Short: "Print the faults recorded with --trace-db.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := datarecording.NewReader(args[0])
			if err != nil {
				return err
			}
			defer reader.Close()

			cmd.SilenceUsage = true

			return printTrace(cmd, reader, limit, wroteBack)
		},
	}

	traceCmd.Flags().IntVar(&limit, "limit", 0, "print at most this many faults")
	traceCmd.Flags().BoolVar(&wroteBack, "wrote-back", false,
		"only print faults that wrote a dirty victim back")

	return traceCmd
}

func printTrace(
	cmd *cobra.Command,
	reader datarecording.DataReader,
	limit int,
	wroteBack bool,
) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	reader.MapTable(datarecording.RunTableName, datarecording.RunInfo{})
	reader.MapTable(datarecording.FaultTableName, datarecording.FaultEntry{})

	infos, _, err := reader.Query(ctx, datarecording.RunTableName,
		datarecording.QueryParams{OrderBy: "rowid"})
	if err != nil {
		return err
	}

	for _, i := range infos {
		info := i.(*datarecording.RunInfo)
		fmt.Fprintf(out, "%s: %s\n", info.Property, info.Value)
	}

	params := datarecording.QueryParams{OrderBy: "rowid", Limit: limit}
	if wroteBack {
		params.Where = "WroteBack = ?"
		params.Args = []any{true}
	}

	faults, total, err := reader.Query(ctx, datarecording.FaultTableName, params)
	if err != nil {
		return err
	}

	for _, f := range faults {
		e := f.(*datarecording.FaultEntry)
		fmt.Fprintf(out, "%6d %-13s page %d frame %d victim %d wrote back %t\n",
			e.Seq, e.Kind, e.Page, e.Frame, e.Victim, e.WroteBack)
	}

	fmt.Fprintf(out, "%d of %d events\n", len(faults), total)

	return nil
}
