// Package selection provides the pluggable action-selection strategies used
// while descending the search tree: PUCT scoring for MuZero-style search and
// Gumbel Sequential Halving for Gumbel MuZero, plus the depth-switching
// dispatch that keeps strategies decoupled from the tree walk.
package selection

import (
	"math"

	"github.com/epfl-dlab/mctx/qtransform"
	"github.com/epfl-dlab/mctx/tree"
	"github.com/epfl-dlab/mctx/utils"
)

// Func selects the action to descend or expand at node n of tree b, given
// the current search depth (0 at the root).
type Func[E any] func(t *tree.Tree[E], b, n, depth int) int

// GumbelExtraData carries the per-action Gumbel perturbations drawn once per
// search, threaded through tree.ExtraData.
type GumbelExtraData struct {
	RootGumbel [][]float64 // [B][A]
}

// SwitchDepth dispatches to root at depth 0 and to interior everywhere else.
func SwitchDepth[E any](root, interior Func[E]) Func[E] {
	return func(t *tree.Tree[E], b, n, depth int) int {
		if depth == 0 {
			return root(t, b, n, depth)
		}
		return interior(t, b, n, depth)
	}
}

// MaskedArgmax returns the index of the first maximum among non-masked
// entries. Ties break toward the lowest index. When every entry is masked it
// still returns action 0, the defined degenerate behavior at terminal
// states.
func MaskedArgmax(scores []float64, invalid []bool) int {
	best := 0
	bestScore := math.Inf(-1)
	for a, s := range scores {
		if invalid != nil && invalid[a] {
			continue
		}
		if s > bestScore {
			bestScore = s
			best = a
		}
	}
	return best
}

// MuZero returns the PUCT selector
//
//	score(a) = completedQ(a) + prior(a) · √N · pb_c / (1 + n_a)
//	pb_c     = pbCInit + ln((N + pbCBase + 1) / pbCBase)
//
// where N is the node's own visit count. The root invalid-action mask is
// applied at depth 0 only; interior nodes trust the model's priors.
func MuZero[E any](pbCInit, pbCBase float64, qt qtransform.Fn[E]) Func[E] {
	return func(t *tree.Tree[E], b, n, depth int) int {
		visits := t.ChildrenVisits[b][n]
		nodeVisits := float64(t.NodeVisits[b][n])
		pbC := pbCInit + math.Log((nodeVisits+pbCBase+1)/pbCBase)
		priorProbs := utils.Softmax(t.ChildrenPriorLogits[b][n])
		completedQ := qt(t, b, n)

		scores := make([]float64, len(priorProbs))
		for a := range scores {
			policyScore := math.Sqrt(nodeVisits) * pbC * priorProbs[a] / float64(1+visits[a])
			scores[a] = completedQ[a] + policyScore
		}
		if depth == 0 {
			return MaskedArgmax(scores, t.RootInvalidActions[b])
		}
		return MaskedArgmax(scores, nil)
	}
}

// GumbelRoot returns the Sequential Halving root selector. Among the valid
// actions whose visit count matches the schedule's considered count for the
// current simulation, it maximizes gumbel + logits + completedQ.
func GumbelRoot[E any](numSimulations, maxNumConsideredActions int, qt qtransform.Fn[E]) Func[E] {
	table := TableOfConsideredVisits(maxNumConsideredActions, numSimulations)
	return func(t *tree.Tree[E], b, n, _ int) int {
		visits := t.ChildrenVisits[b][n]
		logits := t.ChildrenPriorLogits[b][n]
		completedQ := qt(t, b, n)
		gumbel := t.ExtraData.(*GumbelExtraData).RootGumbel[b]

		numValid := 0
		for _, masked := range t.RootInvalidActions[b] {
			if !masked {
				numValid++
			}
		}
		numConsidered := min(maxNumConsideredActions, numValid)
		// At the root the simulation counter equals the children visit sum.
		simulation := 0
		for _, v := range visits {
			simulation += v
		}
		consideredVisit := table[numConsidered][simulation]

		scores := ScoreConsidered(consideredVisit, gumbel, logits, completedQ, visits)
		return MaskedArgmax(scores, t.RootInvalidActions[b])
	}
}

// GumbelInterior returns the deterministic interior selector of Gumbel
// MuZero: it tracks the improved policy softmax(logits + completedQ) by
// picking the action whose visit share lags that policy the most. No
// randomness is consumed below the root.
func GumbelInterior[E any](qt qtransform.Fn[E]) Func[E] {
	return func(t *tree.Tree[E], b, n, _ int) int {
		visits := t.ChildrenVisits[b][n]
		logits := t.ChildrenPriorLogits[b][n]
		completedQ := qt(t, b, n)

		improved := make([]float64, len(logits))
		totalVisits := 0
		for a := range improved {
			improved[a] = logits[a] + completedQ[a]
			totalVisits += visits[a]
		}
		probs := utils.Softmax(improved)

		scores := make([]float64, len(probs))
		for a := range scores {
			scores[a] = probs[a] - float64(visits[a])/float64(1+totalVisits)
		}
		return MaskedArgmax(scores, nil)
	}
}
