package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/s0up4200/combined-energy/combinedenergy"
	"github.com/s0up4200/combined-energy/filter"
)

var (
	readingsLast      time.Duration
	readingsFrom      string
	readingsTo        string
	readingsIncrement int
	readingsJSON      bool
)

// readingsCmd represents the readings command
var readingsCmd = &cobra.Command{
	Use:   "readings",
	Short: "Fetch device readings for a time range",
	Long: `Fetch the readings of every device for a time range. By default the last
hour is fetched. Use --from/--to with RFC3339 times for a fixed range and
--filter or --preset to select devices.`,
	PreRunE: initializeApp,
	PostRun: closeApp,
	RunE:    runReadings,
}

func init() {
	rootCmd.AddCommand(readingsCmd)

	readingsCmd.Flags().DurationVar(&readingsLast, "last", time.Hour, "fetch this much history up to now")
	readingsCmd.Flags().StringVar(&readingsFrom, "from", "", "range start (RFC3339)")
	readingsCmd.Flags().StringVar(&readingsTo, "to", "", "range end (RFC3339, default now)")
	readingsCmd.Flags().IntVarP(&readingsIncrement, "increment", "i", 0, "bucket length in seconds (default watch.increment)")
	readingsCmd.Flags().BoolVar(&readingsJSON, "json", false, "print the raw readings as JSON")
	addFilterFlags(readingsCmd)
}

func runReadings(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	increment := readingsIncrement
	if increment == 0 {
		increment = cfg.Watch.Increment
	}

	var (
		readings *combinedenergy.Readings
		err      error
	)
	if readingsFrom != "" {
		start, end, perr := parseRange(readingsFrom, readingsTo)
		if perr != nil {
			return perr
		}
		readings, err = client.Readings(ctx, start, end, increment)
	} else {
		readings, err = client.LastReadings(ctx, readingsLast, increment)
	}
	if err != nil {
		return err
	}

	devices, err := selectDevices(ctx, readings)
	if err != nil {
		return err
	}

	if readingsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(readings)
	}

	printReadings(readings, devices)
	return nil
}

// parseRange parses the --from and --to flags
func parseRange(from, to string) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
	}

	end := time.Now()
	if to != "" {
		end, err = time.Parse(time.RFC3339, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
	}

	return start, end, nil
}

// selectDevices applies the active filter to a window
func selectDevices(ctx context.Context, readings *combinedenergy.Readings) ([]*combinedenergy.DeviceReadings, error) {
	if filterExpr == "" && preset != "" {
		return filters.Select(ctx, preset, readings)
	}

	expr, err := getFilterExpression()
	if err != nil {
		return nil, err
	}

	if expr == "" {
		devices := make([]*combinedenergy.DeviceReadings, len(readings.Devices))
		for i := range readings.Devices {
			devices[i] = &readings.Devices[i]
		}
		return devices, nil
	}

	logger.Debug().Str("filter", expr).Msg("Filtering devices")

	devices, err := filter.Apply(ctx, expr, readings)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}
	return devices, nil
}

func printReadings(readings *combinedenergy.Readings, devices []*combinedenergy.DeviceReadings) {
	fmt.Printf("\nWindow %s to %s, %d buckets of %ds\n",
		formatTime(readings.RangeStart), formatTime(readings.RangeEnd), readings.RangeCount, readings.Seconds)

	if len(devices) == 0 {
		fmt.Println("No devices matched.")
		return
	}

	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("%-8s %-18s %8s %12s %12s\n", "ID", "TYPE", "BUCKETS", "SUPPLY kW", "CONSUME kW")
	for _, d := range devices {
		fmt.Printf("%-8d %-18s %8d %12s %12s",
			d.DeviceID, d.DeviceType, d.Buckets(),
			formatPower(d.LastPower("energySupplied", readings.Seconds)),
			formatPower(d.LastPower("energyConsumed", readings.Seconds)))
		if celsius, ok := d.OutputTemperature(); ok {
			fmt.Printf("  %.1f°C", celsius)
		}
		fmt.Println()
	}

	if n := len(readings.UnknownDevices); n > 0 {
		fmt.Printf("\n%d devices of unsupported types were skipped.\n", n)
	}
}

func formatPower(kw float64, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.3f", kw)
}

func formatTime(ts combinedenergy.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format(time.DateTime)
}
