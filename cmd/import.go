package main

import (
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/access-atlas/atlas/internal/importer"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import accessibility facilities for one or more areas",
	Long: "Fetches OpenStreetMap elements around each area, normalizes them and writes new facilities.\n" +
		"Use --lat/--lng/--radius for one area or repeat --area lat,lng,radius for several; areas run concurrently.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		areas, err := importTargets(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(areas) == 1 {
			sum, runErr := env.Importer.ImportArea(ctx, areas[0])
			if sum != nil {
				if sum.Imported > 0 {
					env.purgeCache(ctx)
				}
				if err := printJSON(os.Stdout, sum); err != nil {
					return err
				}
			}
			return runErr
		}

		results := env.Importer.ImportAreas(ctx, areas)
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		env.purgeCache(ctx)
		if err := printJSON(os.Stdout, importOutput(results)); err != nil {
			return err
		}
		if failed > 0 {
			return eris.Errorf("import: %d of %d areas failed", failed, len(results))
		}
		return nil
	},
}

type importResult struct {
	Area    importer.Area     `json:"area"`
	Summary *importer.Summary `json:"summary,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func importOutput(results []importer.Result) []importResult {
	out := make([]importResult, len(results))
	for i, r := range results {
		out[i] = importResult{Area: r.Area, Summary: r.Summary}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}

// importTargets collects the areas named on the command line.
func importTargets(cmd *cobra.Command) ([]importer.Area, error) {
	flags := cmd.Flags()
	rawAreas, _ := flags.GetStringArray("area")
	if len(rawAreas) > 0 {
		if flags.Changed("lat") || flags.Changed("lng") || flags.Changed("radius") {
			return nil, eris.New("import: use either --area or --lat/--lng/--radius")
		}
		areas := make([]importer.Area, 0, len(rawAreas))
		for _, raw := range rawAreas {
			a, err := parseArea(raw)
			if err != nil {
				return nil, err
			}
			areas = append(areas, a)
		}
		return areas, nil
	}

	for _, name := range []string{"lat", "lng", "radius"} {
		if !flags.Changed(name) {
			return nil, eris.Errorf("import: --%s is required", name)
		}
	}
	lat, _ := flags.GetFloat64("lat")
	lng, _ := flags.GetFloat64("lng")
	radius, _ := flags.GetFloat64("radius")
	return []importer.Area{{Latitude: lat, Longitude: lng, RadiusMeters: radius}}, nil
}

// parseArea reads "lat,lng,radius".
func parseArea(raw string) (importer.Area, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return importer.Area{}, eris.Errorf("import: area %q must be lat,lng,radius", raw)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return importer.Area{}, eris.Wrapf(err, "import: area %q", raw)
		}
		vals[i] = v
	}
	return importer.Area{Latitude: vals[0], Longitude: vals[1], RadiusMeters: vals[2]}, nil
}

func addImportFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("lat", 0, "area center latitude")
	cmd.Flags().Float64("lng", 0, "area center longitude")
	cmd.Flags().Float64("radius", 0, "area radius in meters")
	cmd.Flags().StringArray("area", nil, "area as lat,lng,radius (repeatable)")
}

func init() {
	addImportFlags(importCmd)
	rootCmd.AddCommand(importCmd)
}
