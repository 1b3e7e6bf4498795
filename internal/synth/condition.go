package synth

import "math"

// neutralTolerance is the absolute tolerance under which a slider counts as
// untouched.
const neutralTolerance = 1e-8

// FallbackConditioningParams is used when a model does not declare its own
// conditioning axes.
var FallbackConditioningParams = []string{"duration", "pitch", "brightness", "texture", "punch"}

// SliderVector reads one value per parameter name from sliders, defaulting to
// zero, and clamps each to [-1, 1].
func SliderVector(params []string, sliders map[string]float64) []float32 {
	vec := make([]float32, len(params))
	for i, name := range params {
		v := sliders[name]
		if math.IsNaN(v) {
			v = 0
		}
		vec[i] = float32(math.Max(-1, math.Min(1, v)))
	}
	return vec
}

// IsNeutral reports whether every slider is within tolerance of zero.
func IsNeutral(sliders []float32) bool {
	for _, v := range sliders {
		if math.Abs(float64(v)) > neutralTolerance {
			return false
		}
	}
	return true
}

// ComputeCondition pivots on the model's zero condition: positive sliders
// move a component toward 1, negative sliders scale it toward 0.
func ComputeCondition(zero, sliders []float32) []float32 {
	out := make([]float32, len(zero))
	for i, z := range zero {
		var s float32
		if i < len(sliders) {
			s = sliders[i]
		}
		if s >= 0 {
			out[i] = z + (1-z)*s
		} else {
			out[i] = z + z*s
		}
	}
	return out
}
