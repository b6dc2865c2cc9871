package simulate

import (
	"math"
	"math/rand/v2"
	"strings"

	"github.com/roach88/sensorgate/internal/sensor"
)

// band is the simulated value range of a field.
type band struct {
	min, max float64
	places   int
	binary   bool
}

// bandFor picks the range of a field from its name. Matching is by
// substring, first rule wins.
func bandFor(field string, ph sensor.Range) band {
	switch {
	case strings.Contains(field, "moisture"):
		return band{min: 10, max: 80, places: 2}
	case strings.Contains(field, "temp"):
		return band{min: 10, max: 35, places: 1}
	case sensor.IsPHField(field):
		return band{min: ph.Min, max: ph.Max, places: 2}
	case strings.Contains(field, "co2"):
		return band{min: 300, max: 700, places: 1}
	case strings.Contains(field, "wind_speed"):
		return band{min: 0, max: 15, places: 1}
	case strings.Contains(field, "rainfall"):
		return band{min: 0, max: 50, places: 1}
	case strings.Contains(field, "chlorophyll"):
		return band{min: 20, max: 60, places: 2}
	case strings.Contains(field, "disease_risk"), strings.Contains(field, "anomaly_score"):
		return band{min: 0, max: 1, places: 2}
	case strings.Contains(field, "tampering"), strings.Contains(field, "spoofing"), strings.Contains(field, "unauthorized_access"):
		return band{binary: true}
	default:
		return band{min: 1, max: 100, places: 2}
	}
}

func (b band) sample(rng *rand.Rand) float64 {
	if b.binary {
		return float64(rng.IntN(2))
	}
	v := b.min + rng.Float64()*(b.max-b.min)
	return round(v, b.places)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Reading generates one plausible reading for the given fields. pH fields
// stay within ph.
func Reading(rng *rand.Rand, fields []string, ph sensor.Range) map[string]float64 {
	out := make(map[string]float64, len(fields))
	for _, f := range fields {
		v := bandFor(f, ph).sample(rng)
		if sensor.IsPHField(f) {
			// Rounding can step past a bound that is not a multiple of 0.01.
			v = math.Min(math.Max(v, ph.Min), ph.Max)
		}
		out[f] = v
	}
	return out
}
