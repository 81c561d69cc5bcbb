package alerting

import (
	"time"

	"github.com/greenfield-iot/agrialert/internal/sensor"
)

// Schema describes everything a client needs to build a rule form.
type Schema struct {
	Parameters   []ParameterSchema  `json:"parameters"`
	Comparisons  []ComparisonSchema `json:"comparisons"`
	ContactTypes []ContactSchema    `json:"contactTypes"`
	Cooldown     string             `json:"cooldown"`
}

// ParameterSchema describes one alertable sensor parameter.
type ParameterSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Unit  string `json:"unit"`
	Group string `json:"group,omitempty"`
}

// ComparisonSchema describes a comparison operator for the UI.
type ComparisonSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// ContactSchema describes a contact type and the input it expects.
type ContactSchema struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder"`
}

var comparisonLabels = map[string]string{
	ComparisonGreater:        "greater than",
	ComparisonLess:           "less than",
	ComparisonGreaterOrEqual: "greater than or equal to",
	ComparisonLessOrEqual:    "less than or equal to",
}

// GetSchema returns the rule-building catalog with the effective cooldown.
func GetSchema(cooldown time.Duration) Schema {
	catalog := sensor.Catalog()
	params := make([]ParameterSchema, 0, len(catalog))
	for _, info := range catalog {
		params = append(params, ParameterSchema{
			Name:  info.Name.String(),
			Label: info.Label,
			Unit:  info.Unit,
			Group: info.Group,
		})
	}

	comps := make([]ComparisonSchema, 0, len(comparisons))
	for _, c := range comparisons {
		comps = append(comps, ComparisonSchema{Name: c, Label: comparisonLabels[c]})
	}

	return Schema{
		Parameters:  params,
		Comparisons: comps,
		ContactTypes: []ContactSchema{
			{Name: ContactEmail, Label: "Email", Placeholder: "farmer@example.com"},
			{Name: ContactSMS, Label: "SMS", Placeholder: "+15551234567"},
		},
		Cooldown: cooldown.String(),
	}
}
