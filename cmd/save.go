package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/brensch/batchfetch/internal/saver"
)

var saveOutDir string

// saveCmd represents the save command
var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Export the ledger tables to Parquet files",
	Long: `Connects to the DuckDB ledger given by --db-path and writes each table to a
separate Parquet file in the --out directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		conn := getDB()
		if conn == nil {
			return errNoLedger
		}

		logger.Info("Starting table save process...",
			slog.String("db_path", getConfig().DbPath),
			slog.String("output_dir", saveOutDir),
		)
		paths, err := saver.SaveTablesToParquet(cmd.Context(), conn, saveOutDir, logger)
		for _, p := range paths {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		if err != nil {
			return fmt.Errorf("save failed: %w", err)
		}
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVar(&saveOutDir, "out", "./ledger_parquet", "Directory the Parquet exports are written to")
}
