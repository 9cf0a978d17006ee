package combinedenergy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DeviceType represents the type of a monitored device
type DeviceType string

const (
	DeviceTypeBattery         DeviceType = "BATTERY"
	DeviceTypeCombiner        DeviceType = "COMBINER"
	DeviceTypeEnergyPredicted DeviceType = "ENERGY_PRED"
	DeviceTypeReceiver        DeviceType = "DRED_RECEIVER"
	DeviceTypeEnergyBalance   DeviceType = "ENERGY_BALANCE"
	DeviceTypeGenericConsumer DeviceType = "GENERIC_CONSUMER"
	DeviceTypeGridMeter       DeviceType = "GRID_METER"
	DeviceTypeMonitor         DeviceType = "MONITOR"
	DeviceTypePoolHeater      DeviceType = "POOL_HEATER"
	DeviceTypeSolarPredicted  DeviceType = "SOLAR_PRED"
	DeviceTypeSolarPV         DeviceType = "SOLAR_PV"
	DeviceTypeTank            DeviceType = "TANKPAK"
	DeviceTypeTotal           DeviceType = "TOTAL"
	DeviceTypeWaterHeater     DeviceType = "WATER_HEATER"
)

// decodableDeviceTypes lists the device types whose readings are decoded.
// Readings for anything else are kept raw.
var decodableDeviceTypes = map[DeviceType]bool{
	DeviceTypeCombiner:        true,
	DeviceTypeSolarPV:         true,
	DeviceTypeGridMeter:       true,
	DeviceTypeGenericConsumer: true,
	DeviceTypeWaterHeater:     true,
	DeviceTypeEnergyBalance:   true,
}

// IsConsumer checks if the device type reports consumption series
func (dt DeviceType) IsConsumer() bool {
	switch dt {
	case DeviceTypeGenericConsumer, DeviceTypeWaterHeater, DeviceTypeEnergyBalance, DeviceTypeGridMeter:
		return true
	default:
		return false
	}
}

// Category represents the category a device is displayed under
type Category string

const (
	CategoryAirconditioner Category = "AIRCON"
	CategoryBattery        Category = "BATTERY"
	CategoryBuilding       Category = "BUILDING"
	CategoryCarCharger     Category = "CAR_CHARGER"
	CategoryCombiner       Category = "COMBINER"
	CategoryCooking        Category = "COOKING"
	CategoryGridMeter      Category = "GRID_METER"
	CategoryHeating        Category = "HEATING"
	CategoryMonitor        Category = "MONITOR"
	CategoryOthers         Category = "OTHERS"
	CategoryPool           Category = "POOL"
	CategorySolarPV        Category = "SOLAR_PV"
	CategoryTank           Category = "TANKPAK"
	CategoryWaterHeater    Category = "WATER_HEATER"
)

// Timestamp is a point in time as sent by the API. The API mixes epoch
// seconds, epoch milliseconds and ISO strings between endpoints.
type Timestamp struct {
	time.Time
}

// millisThreshold separates epoch seconds from epoch milliseconds.
const millisThreshold = 2e10

// NewTimestamp wraps t, truncated to the millisecond precision of the API.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Truncate(time.Millisecond)}
}

// UnmarshalJSON implements json.Unmarshaler
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			ts.Time = time.Time{}
			return nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			ts.Time = fromEpoch(n)
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		ts.Time = t
		return nil
	}

	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	ts.Time = fromEpoch(n)
	return nil
}

// MarshalJSON encodes the timestamp as epoch milliseconds
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(ts.UnixMilli(), 10)), nil
}

func fromEpoch(n float64) time.Time {
	if math.Abs(n) > millisThreshold {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// Login represents the response from the login endpoint
type Login struct {
	Status        string `json:"status"`
	ExpireMinutes int    `json:"expireMins"`
	JWT           string `json:"jwt"`
	Error         string `json:"error,omitempty"`

	// Created is the local time the login response was received
	Created time.Time `json:"-"`
}

// Expires calculates when this login should be treated as expired. The
// expiry window never takes more than half of the token lifetime.
func (l *Login) Expires(expiryWindow time.Duration) time.Time {
	lifetime := time.Duration(l.ExpireMinutes) * time.Minute
	if expiryWindow > lifetime/2 {
		expiryWindow = lifetime / 2
	}
	return l.Created.Add(lifetime - expiryWindow)
}

// User represents a Combined Energy account holder
type User struct {
	Type             string  `json:"type"`
	ID               int     `json:"id"`
	Email            string  `json:"email"`
	Mobile           string  `json:"mobile"`
	Fullname         string  `json:"fullname"`
	DSAOk            bool    `json:"dsaOk"`
	ShowIntroduction *string `json:"showIntroduction"`
}

// GetDisplayName returns the best available display name for the user
func (u *User) GetDisplayName() string {
	if u.Fullname != "" {
		return u.Fullname
	}
	if u.Email != "" {
		return u.Email
	}
	return u.Mobile
}

// CurrentUser is the response of the user endpoint
type CurrentUser struct {
	Status string `json:"status"`
	User   User   `json:"user"`
}

// ConnectionStatus is the communication status of the installation monitor
type ConnectionStatus struct {
	Status         string    `json:"status"`
	InstallationID int       `json:"installationId"`
	Connected      bool      `json:"connected"`
	Since          Timestamp `json:"since"`
}

// ConnectionHistoryEntry is a single connect or disconnect event
type ConnectionHistoryEntry struct {
	Connected bool      `json:"connected"`
	Timestamp Timestamp `json:"t"`
	Device    string    `json:"d"`
	S         string    `json:"s"`
}

// ConnectionHistoryRoute describes the last route the monitor reported through
type ConnectionHistoryRoute struct {
	Timestamp Timestamp `json:"t"`
	Device    string    `json:"d"`
}

// ConnectionHistory is the communication history of the installation monitor
type ConnectionHistory struct {
	Status         string                   `json:"status"`
	InstallationID int                      `json:"installationId"`
	History        []ConnectionHistoryEntry `json:"history"`
	Route          ConnectionHistoryRoute   `json:"route"`
}

// Device describes a device attached to an installation
type Device struct {
	DeviceID            int        `json:"deviceId"`
	RefName             string     `json:"refName"`
	DisplayName         string     `json:"displayName"`
	DeviceType          DeviceType `json:"deviceType"`
	DeviceManufacturer  *string    `json:"deviceManufacturer"`
	DeviceModelName     *string    `json:"deviceModelName"`
	SupplierDevice      bool       `json:"supplierDevice"`
	StorageDevice       bool       `json:"storageDevice"`
	ConsumerDevice      bool       `json:"consumerDevice"`
	Status              string     `json:"status"`
	MaxPowerSupply      *int       `json:"maxPowerSupply"`
	MaxPowerConsumption *int       `json:"maxPowerConsumption"`
	IconOverride        *string    `json:"iconOverride"`
	OrderOverride       *int       `json:"orderOverride"`
	Category            Category   `json:"category"`
}

// Installation describes a monitored site
type Installation struct {
	Status         string `json:"status"`
	InstallationID int    `json:"installationId"`

	Source   string   `json:"source"`
	Role     string   `json:"role"`
	ReadOnly bool     `json:"readOnly"`
	DmgID    int      `json:"dmgId"`
	Tags     []string `json:"tags"`

	MQTTAccountKura string `json:"mqttAccountKura"`
	MQTTBrokerEMS   string `json:"mqttBrokerEms"`

	Timezone      string `json:"timezone"`
	StreetAddress string `json:"streetAddress"`
	Locality      string `json:"locality"`
	State         string `json:"state"`
	Postcode      string `json:"postcode"`

	ReviewStatus string `json:"reviewStatus"`
	NMI          string `json:"nmi"`
	Phase        int    `json:"phase"`
	OrgID        int    `json:"orgId"`
	Brand        string `json:"brand"`

	TariffPlanID       int `json:"tariffPlanId"`
	TariffPlanAccepted int `json:"tariffPlanAccepted"`

	Devices []Device                    `json:"devices"`
	PM      map[string][]map[string]any `json:"pm"`
}

// DeviceByID finds a device of the installation by its id
func (i *Installation) DeviceByID(id int) (*Device, bool) {
	for idx := range i.Devices {
		if i.Devices[idx].DeviceID == id {
			return &i.Devices[idx], true
		}
	}
	return nil, false
}

// Customer is a customer linked to an installation
type Customer struct {
	CustomerID int     `json:"customerId"`
	Phone      *string `json:"phone"`
	Email      string  `json:"email"`
	Name       string  `json:"name"`
	Primary    bool    `json:"primary"`
}

// InstallationCustomers is the response of the installation customers endpoint
type InstallationCustomers struct {
	Status         string     `json:"status"`
	InstallationID int        `json:"installationId"`
	Customers      []Customer `json:"customers"`
}

// Primary returns the primary customer, if one is flagged
func (ic *InstallationCustomers) Primary() (*Customer, bool) {
	for idx := range ic.Customers {
		if ic.Customers[idx].Primary {
			return &ic.Customers[idx], true
		}
	}
	return nil, false
}
