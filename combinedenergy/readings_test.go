package combinedenergy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampUnmarshal(t *testing.T) {
	want := time.Date(2022, 10, 24, 3, 50, 23, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{name: "epoch seconds", input: `1666583423`, want: want},
		{name: "epoch milliseconds", input: `1666583423000`, want: want},
		{name: "fractional seconds", input: `1666583423.5`, want: want.Add(500 * time.Millisecond)},
		{name: "numeric string", input: `"1666583423"`, want: want},
		{name: "rfc3339", input: `"2022-10-24T03:50:23Z"`, want: want},
		{name: "null", input: `null`},
		{name: "empty string", input: `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.input), &ts))
			assert.True(t, tt.want.Equal(ts.Time), "got %s want %s", ts.Time, tt.want)
		})
	}

	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	assert.Error(t, json.Unmarshal([]byte(`true`), &ts))
}

func TestTimestampMarshal(t *testing.T) {
	b, err := json.Marshal(NewTimestamp(time.UnixMilli(1666583423123)))
	require.NoError(t, err)
	assert.Equal(t, "1666583423123", string(b))

	b, err = json.Marshal(Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestReadingsUnmarshal(t *testing.T) {
	data := []byte(`{
		"rangeStart": 1666569600,
		"rangeEnd": 1666569780,
		"rangeCount": 3,
		"seconds": 60,
		"installationId": 123,
		"serverTime": 1666569790000,
		"devices": [
			{
				"deviceId": 1,
				"deviceType": "SOLAR_PV",
				"timestamp": [1666569600, 1666569660, 1666569720],
				"sampleSecs": [60, 60, 60],
				"energySupplied": [0.1, null, 0.3]
			},
			{
				"deviceId": 2,
				"deviceType": "WATER_HEATER",
				"timestamp": [1666569600, 1666569660, 1666569720],
				"sampleSecs": [60, 60],
				"energyConsumed": [0.2, 0.2],
				"s2": [55.5, 56.1, null],
				"whStatus": ["ON", null, "OFF"]
			},
			{
				"deviceId": 3,
				"deviceType": "BATTERY",
				"timestamp": [1666569600]
			},
			{
				"deviceId": 4,
				"deviceType": "GRID_METER",
				"timestamp": "not a list"
			}
		]
	}`)

	var readings Readings
	require.NoError(t, json.Unmarshal(data, &readings))

	assert.Equal(t, 3, readings.RangeCount)
	assert.Equal(t, 60, readings.Seconds)
	assert.Equal(t, 3*time.Minute, readings.Span())
	require.Len(t, readings.Devices, 2)
	assert.Len(t, readings.UnknownDevices, 2)

	solar, ok := readings.Device(DeviceTypeSolarPV)
	require.True(t, ok)
	require.Equal(t, 3, solar.EnergySupplied.Len())
	assert.Nil(t, solar.EnergySupplied[1])
	assert.InDelta(t, 0.4, solar.EnergySupplied.Sum(), 1e-9)
	last, ok := solar.EnergySupplied.Last()
	require.True(t, ok)
	assert.InDelta(t, 0.3, last, 1e-9)

	heater := readings.ByDevice()[2]
	require.NotNil(t, heater)
	temp, ok := heater.OutputTemperature()
	require.True(t, ok)
	assert.InDelta(t, 56.1, temp, 1e-9)
	require.Len(t, heater.WaterHeaterStat, 3)
	assert.Nil(t, heater.WaterHeaterStat[1])

	// Shorter series are gaps at the tail, not errors.
	assert.Equal(t, 2, heater.EnergyConsumed.Len())
	assert.Equal(t, 3, heater.Buckets())
}

func TestReadingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		device string
	}{
		{
			name:   "timestamps go backwards",
			device: `{"deviceId":1,"deviceType":"SOLAR_PV","timestamp":[1666569660,1666569600]}`,
		},
		{
			name:   "series longer than grid",
			device: `{"deviceId":1,"deviceType":"SOLAR_PV","timestamp":[1666569600],"energySupplied":[1,2]}`,
		},
		{
			name:   "sample seconds longer than grid",
			device: `{"deviceId":1,"deviceType":"GRID_METER","timestamp":[1666569600],"sampleSecs":[60,60]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(`{"rangeEnd":1666569660,"rangeCount":1,"seconds":60,"devices":[` + tt.device + `]}`)
			_, err := decodeReadings("readings", body)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUpstreamFormat)
		})
	}

	_, err := decodeReadings("readings", []byte(`{"status":"failed","error":"no installation"}`))
	assert.ErrorIs(t, err, ErrUpstreamFormat)
}

func TestReadingsRoundTrip(t *testing.T) {
	start := time.Date(2022, 10, 24, 0, 0, 0, 0, time.UTC)
	payload, err := json.Marshal(readingsPayload(start, 24, 300, DeviceTypeSolarPV))
	require.NoError(t, err)

	var decoded Readings
	require.NoError(t, json.Unmarshal(payload, &decoded))
	decoded.UnknownDevices = append(decoded.UnknownDevices, json.RawMessage(`{"deviceId":9,"deviceType":"TANKPAK"}`))

	encoded, err := json.Marshal(decoded)
	require.NoError(t, err)

	var again Readings
	require.NoError(t, json.Unmarshal(encoded, &again))

	require.Len(t, again.Devices, 1)
	assert.Len(t, again.UnknownDevices, 1)
	device := again.Devices[0]
	assert.Len(t, device.Timestamp, 24)
	assert.Equal(t, 24, device.EnergySupplied.Len())
	assert.True(t, start.Equal(again.RangeStart.Time))
	assert.True(t, start.Add(2*time.Hour).Equal(again.RangeEnd.Time))
	assert.Equal(t, decoded.Devices[0].Timestamp, device.Timestamp)
}

func TestReadingsEmpty(t *testing.T) {
	assert.True(t, (&Readings{}).Empty())
	assert.False(t, (&Readings{RangeCount: 1}).Empty())
	assert.False(t, (&Readings{Devices: []DeviceReadings{{Timestamp: []Timestamp{NewTimestamp(time.Now())}}}}).Empty())
}

func TestDevicePower(t *testing.T) {
	v1, v2 := 0.5, 1.0
	device := DeviceReadings{
		DeviceType:     DeviceTypeSolarPV,
		Timestamp:      make([]Timestamp, 3),
		SampleSeconds:  []int{300, 0},
		EnergySupplied: Series{&v1, nil, &v2},
	}

	power, err := device.PowerSupply(60)
	require.NoError(t, err)
	require.Len(t, power, 3)
	assert.InDelta(t, 0.5*3.6/300, *power[0], 1e-9)
	assert.Nil(t, power[1])
	// No sample length for the last bucket, falls back to the increment.
	assert.InDelta(t, 1.0*3.6/60, *power[2], 1e-9)

	kw, ok := device.LastPower("energySupplied", 60)
	require.True(t, ok)
	assert.InDelta(t, 0.06, kw, 1e-9)

	_, ok = device.LastPower("energyConsumed", 60)
	assert.False(t, ok)

	_, err = device.Power(device.EnergySupplied, 0)
	assert.ErrorIs(t, err, ErrInvalidIncrement)

	assert.Equal(t, []string{"energySupplied"}, device.SeriesNames())
}

func TestEnergyRatio(t *testing.T) {
	total, solar := 2.0, 0.5
	device := DeviceReadings{
		EnergyConsumed:      Series{&total},
		EnergyConsumedSolar: Series{&solar},
	}
	ratio, ok := device.EnergyRatio()
	require.True(t, ok)
	assert.InDelta(t, 0.25, ratio, 1e-9)

	_, ok = (&DeviceReadings{}).EnergyRatio()
	assert.False(t, ok)
}

func TestEnergyToPower(t *testing.T) {
	actual, err := EnergyToPower(5.0, 5)
	require.NoError(t, err)
	assert.InDelta(t, 3.6, actual, 1e-9)

	for _, seconds := range []int{0, -1} {
		_, err := EnergyToPower(5.0, seconds)
		assert.ErrorIs(t, err, ErrInvalidIncrement)
	}
}

func TestLoginExpires(t *testing.T) {
	created := time.Date(2022, 10, 24, 3, 50, 23, 0, time.UTC)
	login := Login{ExpireMinutes: 30, Created: created}
	assert.Equal(t, created.Add(25*time.Minute), login.Expires(DefaultExpiryWindow))

	// Short tokens keep at least half their lifetime.
	short := Login{ExpireMinutes: 4, Created: created}
	assert.Equal(t, created.Add(2*time.Minute), short.Expires(DefaultExpiryWindow))

	exact := Login{ExpireMinutes: 5, Created: created}
	assert.True(t, exact.Expires(DefaultExpiryWindow).After(created))
}

func TestInstallationDeviceByID(t *testing.T) {
	var inst Installation
	require.NoError(t, json.Unmarshal([]byte(`{
		"installationId": 123,
		"status": "ACTIVE",
		"devices": [
			{"deviceId": 1, "refName": "solar", "deviceType": "SOLAR_PV", "category": "SOLAR_PV", "maxPowerSupply": 6000},
			{"deviceId": 2, "refName": "hws", "deviceType": "WATER_HEATER", "category": "WATER_HEATER", "deviceManufacturer": null}
		]
	}`), &inst))

	device, ok := inst.DeviceByID(2)
	require.True(t, ok)
	assert.Equal(t, DeviceTypeWaterHeater, device.DeviceType)
	assert.True(t, device.DeviceType.IsConsumer())
	assert.Nil(t, device.DeviceManufacturer)

	solar, ok := inst.DeviceByID(1)
	require.True(t, ok)
	require.NotNil(t, solar.MaxPowerSupply)
	assert.Equal(t, 6000, *solar.MaxPowerSupply)

	_, ok = inst.DeviceByID(99)
	assert.False(t, ok)
}
