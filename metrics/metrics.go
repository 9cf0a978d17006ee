// Package metrics exposes the latest readings window as prometheus gauges.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/s0up4200/combined-energy/combinedenergy"
)

const namespace = "combined_energy"

// Window results recorded by Collector.
const (
	ResultData  = "data"
	ResultEmpty = "empty"
	ResultError = "error"
)

// Collector records readings windows produced by a watch loop
type Collector struct {
	gatherer prometheus.Gatherer

	power       *prometheus.GaugeVec
	samples     prometheus.Gauge
	windows     *prometheus.CounterVec
	lastEnd     prometheus.Gauge
	temperature *prometheus.GaugeVec
}

// NewCollector registers the readings metrics on reg. A nil reg uses a
// fresh registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		gatherer: reg,
		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_power_kw",
			Help:      "Average power of the last bucket of each device",
		}, []string{"device_id", "device_type", "flow"}),
		samples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_samples",
			Help:      "Number of buckets in the last window",
		}),
		windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_total",
			Help:      "Readings windows fetched, by result",
		}, []string{"result"}),
		lastEnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_end_timestamp_seconds",
			Help:      "End of the last window with data",
		}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "water_heater_output_celsius",
			Help:      "Last output temperature of each water heater",
		}, []string{"device_id"}),
	}

	reg.MustRegister(c.power, c.samples, c.windows, c.lastEnd, c.temperature)
	return c
}

// Observe records one readings window
func (c *Collector) Observe(readings *combinedenergy.Readings) {
	if readings == nil || readings.Empty() {
		c.windows.WithLabelValues(ResultEmpty).Inc()
		return
	}

	c.windows.WithLabelValues(ResultData).Inc()
	c.samples.Set(float64(readings.RangeCount))
	if !readings.RangeEnd.IsZero() {
		c.lastEnd.Set(float64(readings.RangeEnd.Unix()))
	}

	for i := range readings.Devices {
		device := &readings.Devices[i]
		id := strconv.Itoa(device.DeviceID)
		dt := string(device.DeviceType)

		if kw, ok := device.LastPower("energySupplied", readings.Seconds); ok {
			c.power.WithLabelValues(id, dt, "supplied").Set(kw)
		}
		if kw, ok := device.LastPower("energyConsumed", readings.Seconds); ok {
			c.power.WithLabelValues(id, dt, "consumed").Set(kw)
		}
		if celsius, ok := device.OutputTemperature(); ok {
			c.temperature.WithLabelValues(id).Set(celsius)
		}
	}
}

// ObserveError counts a window that could not be fetched
func (c *Collector) ObserveError() {
	c.windows.WithLabelValues(ResultError).Inc()
}

// Handler serves the registered metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// NewServer wraps Handler in an http.Server listening on addr at /metrics
func (c *Collector) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
