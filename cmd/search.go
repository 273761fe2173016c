package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/model"
)

var (
	searchLat      float64
	searchLon      float64
	searchMinCount int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run one proximity search and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req := model.SearchRequest{
			Point:    geo.Point{Lat: searchLat, Lon: searchLon},
			MinCount: searchMinCount,
		}
		if err := req.Validate(); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine, err := initEngine(cfg, st)
		if err != nil {
			return err
		}

		res, err := engine.Search(ctx, req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	searchCmd.Flags().Float64Var(&searchLat, "lat", 0, "latitude in decimal degrees")
	searchCmd.Flags().Float64Var(&searchLon, "lon", 0, "longitude in decimal degrees")
	searchCmd.Flags().IntVar(&searchMinCount, "min-count", 1, "minimum number of results wanted")
	_ = searchCmd.MarkFlagRequired("lat")
	_ = searchCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(searchCmd)
}
