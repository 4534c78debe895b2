package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"peripheral/internal/storage"
)

var (
	usageSince       time.Duration
	usageRecent      int
	usagePruneBefore time.Duration
	usageFormat      string
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Report operation usage from the local log",
	Long: `Summarise calls per operation recorded in the local usage log: call and
error counts, distinct clients and latency.

Examples:
  peripheral usage
  peripheral usage --since 168h --format json
  peripheral usage --recent 20
  peripheral usage --prune-before 720h`,
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().DurationVar(&usageSince, "since", 24*time.Hour, "Report window")
	usageCmd.Flags().IntVar(&usageRecent, "recent", 0, "List the N most recent calls instead of aggregates")
	usageCmd.Flags().DurationVar(&usagePruneBefore, "prune-before", 0, "Delete records older than this age")
	usageCmd.Flags().StringVar(&usageFormat, "format", "human", "Output format (human, json, yaml)")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(usageFormat, FormatHuman, FormatJSON, FormatYAML)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Usage.Enabled {
		return errors.New("usage logging is disabled (usage.enabled=false)")
	}
	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	db, err := storage.Open(cfg.Usage.DBPath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	log := storage.NewUsageLog(db)

	if usagePruneBefore > 0 {
		n, err := log.Prune(ctx, time.Now().Add(-usagePruneBefore))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "pruned %d records\n", n)
	}

	if usageRecent > 0 {
		recs, err := log.Recent(ctx, usageRecent)
		if err != nil {
			return err
		}
		if format != FormatHuman {
			return writeStructured(os.Stdout, map[string]interface{}{"recent": recs}, format)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTOOL\tCLIENT\tSTATUS\tMS")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
				r.At.UTC().Format(time.RFC3339), r.Tool, r.ClientID, r.Status, r.DurationMs)
		}
		return w.Flush()
	}

	stats, err := log.Stats(ctx, time.Now().Add(-usageSince))
	if err != nil {
		return err
	}
	if format != FormatHuman {
		return writeStructured(os.Stdout, map[string]interface{}{
			"since": usageSince.String(),
			"tools": stats,
		}, format)
	}
	if len(stats) == 0 {
		fmt.Printf("No calls in the last %s.\n", usageSince)
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tCALLS\tERRORS\tERR%\tCLIENTS\tAVG MS\tMAX MS")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%d\t%.1f\t%d\n",
			s.Tool, s.Calls, s.Errors, s.ErrorRate()*100, s.Clients, s.AvgLatency, s.MaxLatency)
	}
	return w.Flush()
}
