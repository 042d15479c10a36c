package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"papertrade/internal/config"
	"papertrade/internal/store"
	"papertrade/internal/util"
)

func newExportCmd(rc *rootConfig) *cobra.Command {
	var (
		from, to  string
		accountID string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Archive fills and the decision log to Parquet",
		Long: "Reads fills and audit entries from the configured SQLite database and writes\n" +
			"one Parquet file per day under <data_dir>/papertrade/{fills,audit}/.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(rc.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Storage.SQLitePath == "" {
				return fmt.Errorf("storage.sqlite_path is empty; nothing to export")
			}

			loc := util.NewTradingCalendar().Location()
			today := time.Now().In(loc).Format(time.DateOnly)
			if from == "" {
				from = today
			}
			if to == "" {
				to = from
			}
			start, err := time.ParseInLocation(time.DateOnly, from, loc)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			last, err := time.ParseInLocation(time.DateOnly, to, loc)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			end := last.AddDate(0, 0, 1)

			st, err := store.Open(cfg.Storage.SQLitePath)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			fills, err := st.ListFills(ctx, accountID, start, end)
			if err != nil {
				return fmt.Errorf("listing fills: %w", err)
			}
			entries, err := st.ListAudit(ctx, accountID, start, end)
			if err != nil {
				return fmt.Errorf("listing audit log: %w", err)
			}

			archive := store.NewParquetStore(cfg.Storage.DataDir)
			fillFiles, err := archive.WriteFills(ctx, fills)
			if err != nil {
				return fmt.Errorf("writing fills: %w", err)
			}
			auditFiles, err := archive.WriteAudit(ctx, entries)
			if err != nil {
				return fmt.Errorf("writing audit log: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "exported %d fills (%d files) and %d audit entries (%d files) for %s..%s to %s\n",
				len(fills), fillFiles, len(entries), auditFiles, from, to, cfg.Storage.DataDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day to export, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&to, "to", "", "last day to export, YYYY-MM-DD (default --from)")
	cmd.Flags().StringVar(&accountID, "account", "", "limit to one account")
	return cmd
}
