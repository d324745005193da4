package store

import (
	"math"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
)

// Evaluate applies the spec's tolerance band to a measured distance. A spec
// without an expected value passes any measurement.
func Evaluate(spec entity.MeasurementSpec, actualCm float64) bool {
	if spec.ExpectedValue == nil {
		return true
	}

	plus, minus := spec.Tolerances()
	expected := *spec.ExpectedValue

	// Round to 0.01 cm so a value printed as inside the band is inside it.
	actual := math.Round(actualCm*100) / 100
	return actual >= expected-minus-1e-9 && actual <= expected+plus+1e-9
}
