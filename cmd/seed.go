package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/proximity-cli/internal/seed"
)

var (
	seedFile      string
	seedBatchSize int
	seedMigrate   bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Bulk-load entities from a CSV, XLSX, or YAML file",
	Long:  "Reads candidates from --file and merges them into the index. Entities whose external id is already indexed are left unchanged, so reruns are safe.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		candidates, err := seed.LoadFile(seedFile)
		if err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if seedMigrate {
			if err := st.Migrate(ctx); err != nil {
				return err
			}
		}

		sum, err := seed.Apply(ctx, initMerger(cfg, st), candidates, seedBatchSize)
		if err != nil {
			return err
		}
		zap.L().Info("seed complete",
			zap.String("file", seedFile),
			zap.Int("candidates", sum.Candidates),
			zap.Int("inserted", sum.Inserted),
			zap.Int("existing", sum.Existing),
			zap.Int("rejected", sum.Rejected),
			zap.Int("skipped", len(sum.Skipped)),
		)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "path to a .csv, .xlsx, or .yaml file")
	seedCmd.Flags().IntVar(&seedBatchSize, "batch-size", 500, "candidates merged per batch")
	seedCmd.Flags().BoolVar(&seedMigrate, "migrate", true, "create the store schema before loading")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}
