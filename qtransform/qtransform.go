// Package qtransform maps a node's children statistics to one completed
// Q-value per action, imputing a value for actions that were never visited
// so action selection always scores a full vector. Every transform is finite
// for the all-unvisited case and never divides by a zero visit count.
package qtransform

import (
	"fmt"

	"github.com/epfl-dlab/mctx/tree"
	"github.com/epfl-dlab/mctx/utils"
)

// Fn computes completed Q-values for node n of tree b.
type Fn[E any] func(t *tree.Tree[E], b, n int) []float64

// Noop returns raw Q-values unmodified, zero for unvisited actions.
// Diagnostic and test use.
func Noop[E any]() Fn[E] {
	return func(t *tree.Tree[E], b, n int) []float64 {
		return t.Qvalues(b, n)
	}
}

// ByMinMax imputes the node's own value for unvisited actions and normalizes
// into the caller-supplied [minValue, maxValue] range. Requires hand-tuned
// value bounds.
func ByMinMax[E any](minValue, maxValue float64) Fn[E] {
	if maxValue <= minValue {
		panic(fmt.Sprintf("mctx: ByMinMax requires minValue < maxValue, got [%v, %v]", minValue, maxValue))
	}
	span := maxValue - minValue
	return func(t *tree.Tree[E], b, n int) []float64 {
		q := t.Qvalues(b, n)
		visits := t.ChildrenVisits[b][n]
		nodeValue := t.NodeValues[b][n]
		for a := range q {
			if visits[a] == 0 {
				q[a] = nodeValue
			}
			q[a] = (q[a] - minValue) / span
		}
		return q
	}
}

// ByParentAndSiblings imputes unvisited actions with a mix of the parent's
// value and the visited siblings' visit-weighted mean,
//
//	mixed = (v + Σ_a n_a·q_a) / (1 + Σ_a n_a),
//
// so a node with no visited children falls back to its own value estimate.
// This is the default for PUCT search and needs no value bounds.
func ByParentAndSiblings[E any]() Fn[E] {
	return func(t *tree.Tree[E], b, n int) []float64 {
		q := t.Qvalues(b, n)
		visits := t.ChildrenVisits[b][n]
		nodeValue := t.NodeValues[b][n]

		totalVisits := 0
		weighted := 0.0
		for a, v := range visits {
			if v > 0 {
				totalVisits += v
				weighted += float64(v) * q[a]
			}
		}
		mixed := (nodeValue + weighted) / (1 + float64(totalVisits))
		for a := range q {
			if visits[a] == 0 {
				q[a] = mixed
			}
		}
		return q
	}
}

// CompletedByMixValue imputes unvisited actions with a prior-weighted mixed
// value, rescales the completed vector to [0, 1] and multiplies by a
// visit-count scale. This is the default transform for Gumbel search.
func CompletedByMixValue[E any]() Fn[E] {
	return completedByMixValue[E](0.1, 50.0, true, true)
}

func completedByMixValue[E any](valueScale, maxVisitInit float64, rescaleValues, useMixedValue bool) Fn[E] {
	const epsilon = 1e-8
	return func(t *tree.Tree[E], b, n int) []float64 {
		q := t.Qvalues(b, n)
		visits := t.ChildrenVisits[b][n]
		rawValue := t.RawValues[b][n]

		value := rawValue
		if useMixedValue {
			priorProbs := utils.Softmax(t.ChildrenPriorLogits[b][n])
			value = mixedValue(rawValue, q, visits, priorProbs)
		}
		maxVisit := 0
		for a := range q {
			if visits[a] == 0 {
				q[a] = value
			}
			if visits[a] > maxVisit {
				maxVisit = visits[a]
			}
		}
		if rescaleValues {
			rescale(q, epsilon)
		}
		scale := (maxVisitInit + float64(maxVisit)) * valueScale
		for a := range q {
			q[a] *= scale
		}
		return q
	}
}

// mixedValue interpolates between the node's raw value and an
// importance-weighted average of the visited children's Q-values.
func mixedValue(rawValue float64, q []float64, visits []int, priorProbs []float64) float64 {
	const tiny = 1e-308
	sumVisits := 0
	sumProbs := 0.0
	for a, v := range visits {
		if v > 0 {
			sumVisits += v
			sumProbs += max(priorProbs[a], tiny)
		}
	}
	weightedQ := 0.0
	if sumVisits > 0 {
		for a, v := range visits {
			if v > 0 {
				weightedQ += max(priorProbs[a], tiny) * q[a] / sumProbs
			}
		}
	}
	return (rawValue + float64(sumVisits)*weightedQ) / float64(sumVisits+1)
}

func rescale(q []float64, epsilon float64) {
	minValue, maxValue := q[0], q[0]
	for _, x := range q[1:] {
		minValue = min(minValue, x)
		maxValue = max(maxValue, x)
	}
	span := max(maxValue-minValue, epsilon)
	for a := range q {
		q[a] = (q[a] - minValue) / span
	}
}
