// Package utils holds the shared numeric primitives of the search library.
// All of them follow the same fallback policy: degenerate inputs produce
// finite values, never NaN or an unbounded result.
package utils

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// MinLogit is the finite stand-in for minus infinity used when masking
// logits. A softmax over MinLogit entries stays NaN-free even when every
// action is masked.
const MinLogit = -math.MaxFloat64

// tiny is the floor used before logarithms and divisions.
const tiny = math.SmallestNonzeroFloat64

// Softmax returns the normalized exponentials of logits, shifted by the
// maximum for stability.
func Softmax(logits []float64) []float64 {
	m := floats.Max(logits)
	out := make([]float64, len(logits))
	for i, l := range logits {
		out[i] = math.Exp(l - m)
	}
	z := floats.Sum(out)
	for i := range out {
		out[i] /= z
	}
	return out
}

// Argmax returns the index of the first maximum, so exact ties break toward
// the lowest action index.
func Argmax(xs []float64) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}

// LogitsFromProbs maps probabilities to logits, flooring zeros so the
// logarithm stays finite.
func LogitsFromProbs(probs []float64) []float64 {
	out := make([]float64, len(probs))
	for i, p := range probs {
		out[i] = math.Log(math.Max(p, tiny))
	}
	return out
}

// ApplyTemperature divides max-shifted logits by the temperature, flooring
// the temperature so zero stays well-defined.
func ApplyTemperature(logits []float64, temperature float64) []float64 {
	m := floats.Max(logits)
	out := make([]float64, len(logits))
	for i, l := range logits {
		out[i] = (l - m) / math.Max(tiny, temperature)
	}
	return out
}
