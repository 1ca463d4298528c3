// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// planwatch inspects snapshot files written by the tracking service.
package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/planwatch/planwatch/pkg/persist"
	"github.com/planwatch/planwatch/pkg/planstats"
	"github.com/planwatch/planwatch/pkg/tracker"
	"github.com/planwatch/planwatch/pkg/util/log"
)

func main() {
	log.SetLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger())

	root := &cobra.Command{
		Use:           "planwatch",
		Short:         "Inspect planwatch snapshot files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(dumpCmd(), verifyCmd(), topCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func readSnapshot(path string) (persist.FileInfo, []persist.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return persist.FileInfo{}, nil, err
	}
	return persist.DecodeTable(data)
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <file>",
		Short: "List every tracked query with its aggregate statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, records, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("format v%d, written on %s, %s records\n\n",
				info.Version, info.PlatformTag,
				humanize.Comma(int64(info.RecordCount)))

			w := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tEXECS\tAVG ERR\tRMS ERR\tTIME-W ERR\tNODES\tQUERY")
			for i := range records {
				r := &records[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
					r.Key,
					humanize.Comma(r.Stats.ExecutionCount),
					statCell(&r.Stats.AvgError),
					statCell(&r.Stats.RMSError),
					statCell(&r.Stats.TimeWeightedError),
					r.Stats.NodesEvaluated, r.Stats.NodesTotal,
					truncate(r.QueryText, 60))
			}
			return w.Flush()
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Check a snapshot's header, version and checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, records, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: ok (format v%d, platform %s, %d records)\n",
				args[0], info.Version, info.PlatformTag, len(records))
			if info.PlatformTag != persist.PlatformTag() {
				fmt.Printf("note: written on %q, this host is %q\n",
					info.PlatformTag, persist.PlatformTag())
			}
			return nil
		},
	}
}

func topCmd() *cobra.Command {
	var n int
	var metric string
	cmd := &cobra.Command{
		Use:   "top <file>",
		Short: "Show the queries with the worst mean estimation error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if n < 1 {
				return fmt.Errorf("limit must be positive, got %d", n)
			}
			sel, err := metricSelector(metric)
			if err != nil {
				return err
			}
			_, records, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			sort.Slice(records, func(i, j int) bool {
				return sel(&records[i].Stats).Mean > sel(&records[j].Stats).Mean
			})
			if n < len(records) {
				records = records[:n]
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(w, "KEY\tEXECS\t%s MEAN\tSTDDEV\tMAX\tQUERY\n", metric)
			for i := range records {
				r := &records[i]
				s := sel(&r.Stats)
				if s.Empty() {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\t%.4f\t%s\n",
					r.Key, humanize.Comma(r.Stats.ExecutionCount),
					s.Mean, s.GetStddev(), s.Max, truncate(r.QueryText, 60))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 10, "number of queries to show")
	cmd.Flags().StringVar(&metric, "metric", "avg",
		"metric to rank by: avg, rms, time, cost, join, scan, subplan")
	return cmd
}

func metricSelector(name string) (func(*tracker.EntryStats) *planstats.NumericStat, error) {
	switch name {
	case "avg":
		return func(s *tracker.EntryStats) *planstats.NumericStat { return &s.AvgError }, nil
	case "rms":
		return func(s *tracker.EntryStats) *planstats.NumericStat { return &s.RMSError }, nil
	case "time":
		return func(s *tracker.EntryStats) *planstats.NumericStat { return &s.TimeWeightedError }, nil
	case "cost":
		return func(s *tracker.EntryStats) *planstats.NumericStat { return &s.CostWeightedError }, nil
	case "join":
		return func(s *tracker.EntryStats) *planstats.NumericStat { return &s.JoinFilterFactor }, nil
	case "scan":
		return func(s *tracker.EntryStats) *planstats.NumericStat { return &s.ScanFilterFactor }, nil
	case "subplan":
		return func(s *tracker.EntryStats) *planstats.NumericStat { return &s.WorstSubplanFactor }, nil
	}
	return nil, fmt.Errorf("unknown metric %q", name)
}

func statCell(s *planstats.NumericStat) string {
	if s.Empty() {
		return "-"
	}
	return fmt.Sprintf("%.4f", s.Mean)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back the cut up to a rune boundary so a multibyte character is
	// never split.
	cut := max - 1
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
