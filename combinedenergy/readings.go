package combinedenergy

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Series is a sequence of bucket values aligned with a device's timestamps.
// A nil entry is a gap where the monitor reported no value.
type Series []*float64

// Len returns the number of buckets in the series
func (s Series) Len() int { return len(s) }

// Last returns the most recent non-gap value
func (s Series) Last() (float64, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != nil {
			return *s[i], true
		}
	}
	return 0, false
}

// Sum adds up every non-gap value
func (s Series) Sum() float64 {
	var total float64
	for _, v := range s {
		if v != nil {
			total += *v
		}
	}
	return total
}

// Values returns the series with gaps replaced by zero
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		if v != nil {
			out[i] = *v
		}
	}
	return out
}

// StringSeries is a sequence of textual bucket values such as status codes
type StringSeries []*string

// DeviceReadings holds the readings of a single device inside a window.
// Only the series relevant to the device type are populated.
type DeviceReadings struct {
	DeviceID         int          `json:"deviceId"`
	DeviceType       DeviceType   `json:"deviceType"`
	RangeStart       Timestamp    `json:"rangeStart"`
	RangeEnd         Timestamp    `json:"rangeEnd"`
	Timestamp        []Timestamp  `json:"timestamp"`
	SampleSeconds    []int        `json:"sampleSecs"`
	OperationStatus  StringSeries `json:"operationStatus,omitempty"`
	OperationMessage StringSeries `json:"operationMessage,omitempty"`

	EnergySupplied        Series `json:"energySupplied,omitempty"`
	EnergySuppliedSolar   Series `json:"energySuppliedSolar,omitempty"`
	EnergySuppliedBattery Series `json:"energySuppliedBattery,omitempty"`
	EnergySuppliedGrid    Series `json:"energySuppliedGrid,omitempty"`

	EnergyConsumedOther        Series `json:"energyConsumedOther,omitempty"`
	EnergyConsumedOtherSolar   Series `json:"energyConsumedOtherSolar,omitempty"`
	EnergyConsumedOtherBattery Series `json:"energyConsumedOtherBattery,omitempty"`
	EnergyConsumedOtherGrid    Series `json:"energyConsumedOtherGrid,omitempty"`

	EnergyConsumed        Series `json:"energyConsumed,omitempty"`
	EnergyConsumedSolar   Series `json:"energyConsumedSolar,omitempty"`
	EnergyConsumedBattery Series `json:"energyConsumedBattery,omitempty"`
	EnergyConsumedGrid    Series `json:"energyConsumedGrid,omitempty"`

	EnergyCorrection Series `json:"energyCorrection,omitempty"`

	// Water heater
	Temperature     Series       `json:"temperature,omitempty"`
	AvailableEnergy Series       `json:"availableEnergy,omitempty"`
	MaxEnergy       Series       `json:"maxEnergy,omitempty"`
	S1              Series       `json:"s1,omitempty"`
	S2              Series       `json:"s2,omitempty"`
	S3              Series       `json:"s3,omitempty"`
	S4              Series       `json:"s4,omitempty"`
	S5              Series       `json:"s5,omitempty"`
	S6              Series       `json:"s6,omitempty"`
	WaterHeaterStat StringSeries `json:"whStatus,omitempty"`
}

// seriesByName maps the wire name of every numeric series to its field.
func (d *DeviceReadings) seriesByName() map[string]Series {
	return map[string]Series{
		"energySupplied":             d.EnergySupplied,
		"energySuppliedSolar":        d.EnergySuppliedSolar,
		"energySuppliedBattery":      d.EnergySuppliedBattery,
		"energySuppliedGrid":         d.EnergySuppliedGrid,
		"energyConsumedOther":        d.EnergyConsumedOther,
		"energyConsumedOtherSolar":   d.EnergyConsumedOtherSolar,
		"energyConsumedOtherBattery": d.EnergyConsumedOtherBattery,
		"energyConsumedOtherGrid":    d.EnergyConsumedOtherGrid,
		"energyConsumed":             d.EnergyConsumed,
		"energyConsumedSolar":        d.EnergyConsumedSolar,
		"energyConsumedBattery":      d.EnergyConsumedBattery,
		"energyConsumedGrid":         d.EnergyConsumedGrid,
		"energyCorrection":           d.EnergyCorrection,
		"temperature":                d.Temperature,
		"availableEnergy":            d.AvailableEnergy,
		"maxEnergy":                  d.MaxEnergy,
		"s1":                         d.S1,
		"s2":                         d.S2,
		"s3":                         d.S3,
		"s4":                         d.S4,
		"s5":                         d.S5,
		"s6":                         d.S6,
	}
}

// Series looks up a numeric series by its wire name, e.g. "energySupplied".
// Unknown or empty series report false.
func (d *DeviceReadings) Series(name string) (Series, bool) {
	s, ok := d.seriesByName()[name]
	if !ok || len(s) == 0 {
		return nil, false
	}
	return s, true
}

// SeriesNames lists the populated numeric series of the device, sorted
func (d *DeviceReadings) SeriesNames() []string {
	var names []string
	for name, s := range d.seriesByName() {
		if len(s) > 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Buckets returns the number of timestamps in the window
func (d *DeviceReadings) Buckets() int {
	return len(d.Timestamp)
}

// bucketSeconds returns the sample length of bucket i, falling back to
// the window increment when the device omits it.
func (d *DeviceReadings) bucketSeconds(i, fallback int) int {
	if i < len(d.SampleSeconds) && d.SampleSeconds[i] > 0 {
		return d.SampleSeconds[i]
	}
	return fallback
}

// Power converts an energy series (kWh per bucket) into average kW per bucket.
// Gaps stay nil.
func (d *DeviceReadings) Power(s Series, increment int) (Series, error) {
	out := make(Series, len(s))
	for i, v := range s {
		if v == nil {
			continue
		}
		kw, err := EnergyToPower(*v, d.bucketSeconds(i, increment))
		if err != nil {
			return nil, err
		}
		out[i] = &kw
	}
	return out, nil
}

// PowerSupply returns the average power supplied per bucket
func (d *DeviceReadings) PowerSupply(increment int) (Series, error) {
	return d.Power(d.EnergySupplied, increment)
}

// PowerConsumption returns the average power consumed per bucket
func (d *DeviceReadings) PowerConsumption(increment int) (Series, error) {
	return d.Power(d.EnergyConsumed, increment)
}

// LastPower returns the power of the most recent bucket of a series
func (d *DeviceReadings) LastPower(name string, increment int) (float64, bool) {
	s, ok := d.Series(name)
	if !ok {
		return 0, false
	}
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == nil {
			continue
		}
		kw, err := EnergyToPower(*s[i], d.bucketSeconds(i, increment))
		if err != nil {
			return 0, false
		}
		return kw, true
	}
	return 0, false
}

// EnergyRatio calculates the share of solar energy in the consumption of the
// window, between 0 and 1.
func (d *DeviceReadings) EnergyRatio() (float64, bool) {
	total := d.EnergyConsumed.Sum()
	if total <= 0 {
		return 0, false
	}
	return d.EnergyConsumedSolar.Sum() / total, true
}

// OutputTemperature returns the last water heater outlet temperature
func (d *DeviceReadings) OutputTemperature() (float64, bool) {
	if d.DeviceType != DeviceTypeWaterHeater {
		return 0, false
	}
	return d.S2.Last()
}

func (d *DeviceReadings) String() string {
	return fmt.Sprintf("%s[%d] %d buckets", d.DeviceType, d.DeviceID, len(d.Timestamp))
}

// validate checks that timestamps never go backwards and no series is
// longer than the timestamp grid. Shorter series are tolerated gaps.
func (d *DeviceReadings) validate() error {
	for i := 1; i < len(d.Timestamp); i++ {
		if d.Timestamp[i].Before(d.Timestamp[i-1].Time) {
			return fmt.Errorf("device %d: timestamp %d goes backwards", d.DeviceID, i)
		}
	}
	grid := len(d.Timestamp)
	for name, s := range d.seriesByName() {
		if len(s) > grid {
			return fmt.Errorf("device %d: series %s has %d buckets, timestamps %d", d.DeviceID, name, len(s), grid)
		}
	}
	if len(d.SampleSeconds) > grid {
		return fmt.Errorf("device %d: sampleSecs has %d buckets, timestamps %d", d.DeviceID, len(d.SampleSeconds), grid)
	}
	return nil
}

// Readings is a window of device readings for an installation
type Readings struct {
	RangeStart     Timestamp `json:"rangeStart"`
	RangeEnd       Timestamp `json:"rangeEnd"`
	RangeCount     int       `json:"rangeCount"`
	Seconds        int       `json:"seconds"`
	InstallationID int       `json:"installationId"`
	ServerTime     Timestamp `json:"serverTime"`

	Devices []DeviceReadings `json:"-"`
	// UnknownDevices holds devices of types this package does not decode
	UnknownDevices []json.RawMessage `json:"-"`
}

type readingsAlias Readings

type readingsWire struct {
	*readingsAlias
	Devices []json.RawMessage `json:"devices"`
}

// errInvalidReadings marks a payload that decoded but breaks the grid invariants.
var errInvalidReadings = errors.New("invalid readings")

// UnmarshalJSON implements json.Unmarshaler. Devices of a decodable type are
// validated; everything else lands in UnknownDevices untouched.
func (r *Readings) UnmarshalJSON(data []byte) error {
	wire := readingsWire{readingsAlias: (*readingsAlias)(r)}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	r.Devices = r.Devices[:0]
	r.UnknownDevices = r.UnknownDevices[:0]
	for _, raw := range wire.Devices {
		var head struct {
			DeviceType DeviceType `json:"deviceType"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || !decodableDeviceTypes[head.DeviceType] {
			r.UnknownDevices = append(r.UnknownDevices, raw)
			continue
		}

		var dev DeviceReadings
		if err := json.Unmarshal(raw, &dev); err != nil {
			r.UnknownDevices = append(r.UnknownDevices, raw)
			continue
		}
		if err := dev.validate(); err != nil {
			return fmt.Errorf("%w: %v", errInvalidReadings, err)
		}
		r.Devices = append(r.Devices, dev)
	}
	return nil
}

// MarshalJSON implements json.Marshaler, writing known and unknown devices
// back into a single devices list.
func (r Readings) MarshalJSON() ([]byte, error) {
	devices := make([]json.RawMessage, 0, len(r.Devices)+len(r.UnknownDevices))
	for i := range r.Devices {
		b, err := json.Marshal(&r.Devices[i])
		if err != nil {
			return nil, err
		}
		devices = append(devices, b)
	}
	devices = append(devices, r.UnknownDevices...)

	alias := readingsAlias(r)
	return json.Marshal(readingsWire{readingsAlias: &alias, Devices: devices})
}

// ByDevice returns the readings keyed by device id
func (r *Readings) ByDevice() map[int]*DeviceReadings {
	out := make(map[int]*DeviceReadings, len(r.Devices))
	for i := range r.Devices {
		out[r.Devices[i].DeviceID] = &r.Devices[i]
	}
	return out
}

// Device returns the readings of the first device with the given type
func (r *Readings) Device(dt DeviceType) (*DeviceReadings, bool) {
	for i := range r.Devices {
		if r.Devices[i].DeviceType == dt {
			return &r.Devices[i], true
		}
	}
	return nil, false
}

// Empty reports whether the window carries no buckets for any device
func (r *Readings) Empty() bool {
	if r.RangeCount > 0 {
		return false
	}
	for i := range r.Devices {
		if len(r.Devices[i].Timestamp) > 0 {
			return false
		}
	}
	return true
}

// Span returns the length of the returned window
func (r *Readings) Span() time.Duration {
	if r.RangeStart.IsZero() || r.RangeEnd.IsZero() {
		return 0
	}
	return r.RangeEnd.Sub(r.RangeStart.Time)
}

// readingsRequired are the window fields every readings body must carry.
// Without them an empty window cannot be told apart from a broken one.
var readingsRequired = []string{"rangeEnd", "rangeCount", "seconds"}

// decodeReadings decodes a readings body, mapping any failure to a FormatError.
func decodeReadings(endpoint string, body []byte) (*Readings, error) {
	if err := checkStatus(endpoint, body); err != nil {
		return nil, err
	}

	var readings Readings
	if err := json.Unmarshal(body, &readings); err != nil {
		return nil, &FormatError{Endpoint: endpoint, Body: truncateBody(body), Err: err}
	}
	if err := requireFields(body, readingsRequired...); err != nil {
		return nil, &FormatError{Endpoint: endpoint, Body: truncateBody(body), Err: err}
	}
	return &readings, nil
}

// requireFields checks that the top level object of body has every key with
// a non-null value.
func requireFields(body []byte, keys ...string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return err
	}
	var missing []string
	for _, key := range keys {
		if v, ok := fields[key]; !ok || string(v) == "null" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
