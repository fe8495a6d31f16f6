package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/access-atlas/atlas/internal/search"
)

var searchReq search.Request

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find facilities within a radius of a point",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("search"); err != nil {
			return err
		}

		req := searchReq
		if raw, _ := cmd.Flags().GetString("types"); raw != "" {
			req.Types = strings.Split(raw, ",")
		}
		if cmd.Flags().Changed("wheelchair") {
			v, _ := cmd.Flags().GetBool("wheelchair")
			req.Wheelchair = &v
		}

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		resp, err := env.Searcher.Search(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, resp)
	},
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the facility type catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("search"); err != nil {
			return err
		}
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		types, err := env.Searcher.Types(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, types)
	},
}

func init() {
	searchCmd.Flags().Float64Var(&searchReq.Latitude, "lat", 0, "center latitude")
	searchCmd.Flags().Float64Var(&searchReq.Longitude, "lng", 0, "center longitude")
	searchCmd.Flags().Float64Var(&searchReq.RadiusMeters, "radius", 0, "radius in meters")
	searchCmd.Flags().IntVar(&searchReq.Limit, "limit", 0, "page size (default from config)")
	searchCmd.Flags().IntVar(&searchReq.Offset, "offset", 0, "page offset")
	searchCmd.Flags().String("types", "", "comma-separated facility types")
	searchCmd.Flags().Bool("wheelchair", false, "only facilities with this wheelchair access value")
	_ = searchCmd.MarkFlagRequired("lat")
	_ = searchCmd.MarkFlagRequired("lng")
	_ = searchCmd.MarkFlagRequired("radius")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(typesCmd)
}
