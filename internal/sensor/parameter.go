// Package sensor models device readings and the catalog of monitored
// parameters.
package sensor

// Parameter identifies a monitored quantity. The set is closed; anything not
// in the catalog is rejected at the rule-store boundary.
type Parameter string

const (
	SoilMoisturePct Parameter = "soilMoisturePct"
	SoilTemperature Parameter = "soilTemperature"
	AirTemperature  Parameter = "airTemperature"
	AirHumidity     Parameter = "airHumidity"
	AirQualityIndex Parameter = "airQualityIndex"
	CO2             Parameter = "co2"
	NH3             Parameter = "nh3"
)

// GroupGas is the nested map devices use for gas sub-readings.
const GroupGas = "gas"

// ParameterInfo describes a parameter for display and extraction.
type ParameterInfo struct {
	Name  Parameter `json:"name"`
	Label string    `json:"label"`
	Unit  string    `json:"unit"`
	// Group is the nested map the reading may appear under, empty for
	// top-level readings.
	Group string `json:"group,omitempty"`
}

var catalog = []ParameterInfo{
	{Name: SoilMoisturePct, Label: "Soil Moisture", Unit: "%"},
	{Name: SoilTemperature, Label: "Soil Temperature", Unit: "°C"},
	{Name: AirTemperature, Label: "Air Temperature", Unit: "°C"},
	{Name: AirHumidity, Label: "Air Humidity", Unit: "%"},
	{Name: AirQualityIndex, Label: "Air Quality Index", Unit: "AQI"},
	{Name: CO2, Label: "CO2", Unit: "ppm", Group: GroupGas},
	{Name: NH3, Label: "NH3", Unit: "ppm", Group: GroupGas},
}

var byName = func() map[Parameter]ParameterInfo {
	m := make(map[Parameter]ParameterInfo, len(catalog))
	for _, p := range catalog {
		m[p.Name] = p
	}
	return m
}()

// Catalog returns every known parameter in display order.
func Catalog() []ParameterInfo {
	out := make([]ParameterInfo, len(catalog))
	copy(out, catalog)
	return out
}

// ParseParameter looks a parameter up by its wire name.
func ParseParameter(s string) (Parameter, bool) {
	info, ok := byName[Parameter(s)]
	return info.Name, ok
}

// Info returns catalog metadata for p.
func (p Parameter) Info() (ParameterInfo, bool) {
	info, ok := byName[p]
	return info, ok
}

// Valid reports whether p is in the catalog.
func (p Parameter) Valid() bool {
	_, ok := byName[p]
	return ok
}

func (p Parameter) String() string { return string(p) }
