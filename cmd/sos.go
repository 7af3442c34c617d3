package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rescuegrid/rescuegrid/app"
	"github.com/rescuegrid/rescuegrid/config"
	"github.com/rescuegrid/rescuegrid/core/model"
	"github.com/rescuegrid/rescuegrid/infra/logger"
)

var (
	sosLat      float64
	sosLng      float64
	sosCategory string
)

var sosCmd = &cobra.Command{
	Use:   "sos",
	Short: "Inject a test SOS request and print the ranked facilities",
	RunE:  runSOS,
}

func init() {
	sosCmd.Flags().Float64Var(&sosLat, "lat", 11.0168, "request latitude")
	sosCmd.Flags().Float64Var(&sosLng, "lng", 76.9558, "request longitude")
	sosCmd.Flags().StringVar(&sosCategory, "category", "general", "emergency category")
	rootCmd.AddCommand(sosCmd)
}

func runSOS(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// No broker needed for a local dry run.
	cfg.Notifier.Enabled = false

	logg := logger.New("sos-command")
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logg.Errorf("service close: %v", err)
		}
	}()

	req := model.Request{
		Position:      model.Coordinate{Lat: sosLat, Lng: sosLng},
		EmergencyType: sosCategory,
		Severity:      model.SeverityHigh,
	}
	res, err := svc.Machine.Submit(cmd.Context(), &req)
	if err != nil {
		return fmt.Errorf("submit request: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "request %s -> facility %s (score %.3f, %.1f km, eta %.0f min)\n",
		req.ID, res.Best.Facility.ID, res.Best.Breakdown.Total,
		res.Best.Breakdown.DistanceKm, res.Best.Breakdown.ETAMinutes)
	if res.Backup != nil {
		fmt.Fprintf(out, "backup %s (score %.3f)\n", res.Backup.Facility.ID, res.Backup.Breakdown.Total)
	}
	for _, c := range res.Others {
		fmt.Fprintf(out, "  also %s (score %.3f)\n", c.Facility.ID, c.Breakdown.Total)
	}
	if req.AmbulanceID != "" {
		fmt.Fprintf(out, "assigned ambulance %s (attempt %d)\n", req.AmbulanceID, req.Attempt)
	} else {
		fmt.Fprintln(out, "no ambulance available, request parked")
	}
	return nil
}
