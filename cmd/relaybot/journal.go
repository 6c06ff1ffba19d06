package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/journal"
)

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect and prune the event journal",
	}

	var (
		limit   int
		asJSON  bool
		olderBy int
	)

	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal()
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, e := range entries {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			}
			return printEntries(cmd.OutOrStdout(), entries)
		},
	}
	tail.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	tail.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per line")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete entries older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			days := cfg.Journal.RetentionDays
			if olderBy > 0 {
				days = olderBy
			}

			j, err := journal.Open(cfg.Journal.DBPath, logger)
			if err != nil {
				return err
			}
			defer j.Close()

			n, err := j.Prune(cmd.Context(), time.Now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries older than %d days\n", n, days)
			return nil
		},
	}
	prune.Flags().IntVar(&olderBy, "days", 0, "override journal.retentionDays")

	cmd.AddCommand(tail, prune)
	return cmd
}

func openJournal() (*journal.SQLiteJournal, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return journal.Open(cfg.Journal.DBPath, logger)
}

func printEntries(w io.Writer, entries []journal.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tSOURCE\tSENDER\tDETAIL")
	for _, e := range entries {
		detail := ""
		if len(e.Payload) > 0 {
			b, _ := json.Marshal(e.Payload)
			detail = string(b)
			if len(detail) > 80 {
				detail = detail[:77] + "..."
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format(time.RFC3339), e.Type, e.Source, e.SenderID, detail)
	}
	return tw.Flush()
}
