package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drfirst/mediverify/internal/connectivity"
	"github.com/drfirst/mediverify/internal/domain/access"
	"github.com/drfirst/mediverify/internal/domain/fraud"
	"github.com/drfirst/mediverify/internal/domain/verification"
)

var version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mediverify",
		Short: "Medicine authenticity verification",
		Long: `MediVerify classifies decoded medicine identifiers against the product
registry and summarizes counterfeit hotspots.

The CLI runs entirely offline over the built-in demo registry and the
reference incident set.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(classifyCmd())
	root.AddCommand(navCmd())
	root.AddCommand(hotspotsCmd())
	root.AddCommand(demoCodesCmd())
	return root
}

func classifyCmd() *cobra.Command {
	var (
		offline bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "classify <identifier> [identifier...]",
		Short: "Classify one or more decoded identifiers",
		Long: `Classify identifiers against the demo registry.

Example:
  mediverify classify DEMO-GEN-001
  mediverify classify DEMO-FAKE-001 SOMETHING-ELSE --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			monitor := connectivity.NewMonitor(!offline, nil)
			registry := verification.NewSnapshotRegistry(verification.DemoRecords())
			engine := verification.NewEngine(registry, monitor, nil)

			verdicts := make([]verification.Verdict, 0, len(args))
			for _, id := range args {
				if !verification.ValidIdentifier(id) {
					return fmt.Errorf("identifier must not be empty")
				}
				verdicts = append(verdicts, engine.Classify(cmd.Context(), id))
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, verdicts)
			}
			for _, v := range verdicts {
				printVerdict(out, v)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Classify as if the device were offline")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print verdicts as JSON")
	return cmd
}

func printVerdict(w io.Writer, v verification.Verdict) {
	fmt.Fprintf(w, "%s: %s\n", v.Details.Identifier, strings.ToUpper(string(v.Status)))
	if v.Status == verification.StatusGenuine {
		fmt.Fprintf(w, "  Name:   %s\n", v.Details.Name)
		fmt.Fprintf(w, "  Brand:  %s\n", v.Details.Brand)
		fmt.Fprintf(w, "  Batch:  %s\n", v.Details.Batch)
		fmt.Fprintf(w, "  Expiry: %s\n", v.Details.Expiry)
	}
	if !v.Online {
		fmt.Fprintln(w, "  (offline)")
	}
}

func navCmd() *cobra.Command {
	var (
		role    string
		surface string
	)

	cmd := &cobra.Command{
		Use:   "nav",
		Short: "Show the navigation available to a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, ok := access.ParseRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q (patient, pharmacy, admin)", role)
			}
			s := access.Surface(surface)
			if s != access.SurfaceBottomBar && s != access.SurfaceSidebar {
				return fmt.Errorf("unknown surface %q (bottom, sidebar)", surface)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Role: %s (%s)\n", r, access.BadgeColor(r))
			for i, item := range access.DeriveNavigationFor(s, r) {
				fmt.Fprintf(out, "  %d. %-14s %s\n", i+1, item.Label, item.Destination)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(access.DefaultRole), "Role: patient, pharmacy or admin")
	cmd.Flags().StringVar(&surface, "surface", string(access.SurfaceBottomBar), "Label set: bottom or sidebar")
	return cmd
}

func hotspotsCmd() *cobra.Command {
	var (
		file   string
		top    int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "hotspots",
		Short: "Aggregate counterfeit incidents into hotspot tiers",
		Long: `Aggregate incident counts into relative intensities and risk tiers.

Without --file the reference incident set is used. The file format is a
JSON array of {"location": {"name", "lat", "lng"}, "count"} objects.

Example:
  mediverify hotspots --top 4
  mediverify hotspots --file incidents.json --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var source fraud.Source = fraud.DefaultIncidents()
			if file != "" {
				incidents, err := readIncidents(file)
				if err != nil {
					return err
				}
				source = fraud.StaticSource(incidents)
			}

			incidents, err := source.Incidents(context.Background())
			if err != nil {
				return err
			}
			result, err := fraud.Aggregate(incidents)
			if err != nil {
				return fmt.Errorf("aggregate: %w", err)
			}
			summary := fraud.Summarize(result, top)

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]interface{}{
					"max_count": result.MaxCount,
					"ranked":    result.Ranked,
					"summary":   summary,
				})
			}

			fmt.Fprintf(out, "Total detections: %d\n", summary.TotalDetections)
			fmt.Fprintf(out, "High-risk locations: %d\n", summary.HighRisk)
			fmt.Fprintln(out, "\nDensity:")
			for _, a := range result.Grid {
				fmt.Fprintf(out, "  %s %-16s %3d  %-6s %.2f\n",
					fraud.DensityGlyph(a.Intensity), a.Location.Name, a.Count, a.Tier, a.Intensity)
			}
			fmt.Fprintln(out, "\nTop locations:")
			for i, loc := range summary.Top {
				fmt.Fprintf(out, "  %d. %-16s %3d  %5.1f%%\n", i+1, loc.Name, loc.Count, loc.BarPercent)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON incident file")
	cmd.Flags().IntVar(&top, "top", 4, "Number of top locations to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the aggregation as JSON")
	return cmd
}

func readIncidents(path string) ([]fraud.Incident, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read incident file: %w", err)
	}
	var incidents []fraud.Incident
	if err := json.Unmarshal(data, &incidents); err != nil {
		return nil, fmt.Errorf("failed to parse incident file: %w", err)
	}
	return incidents, nil
}

func demoCodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo-codes",
		Short: "List the printable demo codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, c := range verification.DemoCodes() {
				fmt.Fprintf(out, "%-18s %-12s %s\n", c.Identifier, c.Status, c.Label)
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
