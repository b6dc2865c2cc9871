package sensor

import (
	"golang.org/x/text/cases"
)

// Type names a sensor type (e.g. "soil").
type Type string

// Sensor types shipped in the default catalog.
const (
	TypeSoil        Type = "soil"
	TypeAtmospheric Type = "atmospheric"
	TypePlant       Type = "plant"
	TypeThreat      Type = "threat"
	TypeWater       Type = "water"
)

// DefaultExampleValue is used for fields that have no configured example.
const DefaultExampleValue = 1.0

// Range is an inclusive numeric band.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// IsPHField reports whether a field name denotes a pH reading.
// Matching is case-insensitive ("pH", "ph", "PH").
func IsPHField(name string) bool {
	return cases.Fold().String(name) == "ph"
}
