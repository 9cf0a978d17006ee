package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/s0up4200/combined-energy/combinedenergy"
	"github.com/s0up4200/combined-energy/metrics"
)

var (
	watchInterval    time.Duration
	watchMetricsAddr string
	watchOnce        bool
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the readings of the installation",
	Long: `Poll the readings service and print every new window as it arrives.

Each poll continues where the previous window ended. When several windows in
a row come back empty a new log session is started so the site controller
resumes streaming. With --metrics the latest power values are served for
prometheus at /metrics.`,
	PreRunE: initializeApp,
	PostRun: closeApp,
	RunE:    runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "time between polls (default watch.interval)")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics", "", "serve prometheus metrics on this address (default watch.metrics_addr)")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "fetch a single window and exit")
	addFilterFlags(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := cfg.Watch.Interval
	if watchInterval > 0 {
		interval = watchInterval
	}
	metricsAddr := cfg.Watch.MetricsAddr
	if watchMetricsAddr != "" {
		metricsAddr = watchMetricsAddr
	}

	it, err := combinedenergy.NewReadingsIterator(client, cfg.Watch.Increment,
		combinedenergy.WithInitialDelta(cfg.Watch.InitialDelta),
		combinedenergy.WithLogSessionRestart(cfg.Watch.LogSessionReset),
		combinedenergy.WithIteratorLogger(logger),
	)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(nil)

	g, ctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		srv := collector.NewServer(metricsAddr)
		g.Go(func() error {
			logger.Info().Str("addr", metricsAddr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop()
		return pollReadings(ctx, it, collector, interval)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// pollReadings drives the iterator until ctx is done
func pollReadings(ctx context.Context, it *combinedenergy.ReadingsIterator, collector *metrics.Collector, interval time.Duration) error {
	logger.Info().
		Dur("interval", interval).
		Int("increment", cfg.Watch.Increment).
		Msg("Watching readings")

	for {
		readings, err := it.Next(ctx)
		switch {
		case errors.Is(err, combinedenergy.ErrIteratorDone):
			return nil
		case ctx.Err() != nil:
			return nil
		case isFatal(err):
			return err
		case err != nil:
			collector.ObserveError()
			logger.Warn().Err(err).Msg("Failed to fetch readings, retrying next interval")
		default:
			collector.Observe(readings)
			if err := reportWindow(ctx, readings); err != nil {
				return err
			}
		}

		if watchOnce {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func reportWindow(ctx context.Context, readings *combinedenergy.Readings) error {
	if readings.Empty() {
		logger.Debug().Msg("Empty window")
		return nil
	}

	devices, err := selectDevices(ctx, readings)
	if err != nil {
		return err
	}

	for _, d := range devices {
		event := logger.Info().
			Int("device_id", d.DeviceID).
			Str("device_type", string(d.DeviceType)).
			Int("buckets", d.Buckets())
		if kw, ok := d.LastPower("energySupplied", readings.Seconds); ok {
			event = event.Float64("supply_kw", kw)
		}
		if kw, ok := d.LastPower("energyConsumed", readings.Seconds); ok {
			event = event.Float64("consume_kw", kw)
		}
		if celsius, ok := d.OutputTemperature(); ok {
			event = event.Float64("output_c", celsius)
		}
		event.Time("window_end", readings.RangeEnd.Time).Msg("Readings")
	}
	return nil
}

// isFatal reports errors that retrying cannot fix
func isFatal(err error) bool {
	return errors.Is(err, combinedenergy.ErrAuthentication) ||
		errors.Is(err, combinedenergy.ErrInstallationNotFound) ||
		errors.Is(err, combinedenergy.ErrPermissionDenied) ||
		errors.Is(err, combinedenergy.ErrInvalidConfig)
}
