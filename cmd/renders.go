package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/statshost/host/internal/config"
	"github.com/statshost/host/internal/storage"
)

func newRendersCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "renders",
		Short: "List the most recent plot renders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath, _ = cmd.Flags().GetString("db")
			}

			// The store logs at info; keep the listing clean.
			quiet := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			store, err := storage.NewSQLiteStore(cfg.DBPath, quiet)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.RecentRenders(limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No renders recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tDEVICE\tPLOT\tSIZE\tBYTES\tPATH")
			for _, r := range records {
				path := r.Path
				if r.Placeholder {
					path = "(placeholder)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%gx%g\t%d\t%s\n",
					r.RenderedAt.Local().Format("2006-01-02 15:04:05"),
					shortID(r.DeviceID), shortID(r.PlotID), r.Width, r.Height, r.Bytes, path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of renders to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.Flags().String("db", "", "SQLite database (default: ~/.statshost/statshost.db)")
	return cmd
}

// shortID keeps the first block of a UUID.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
