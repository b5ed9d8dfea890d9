package selection

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// SequenceOfConsideredVisits returns, for each simulation, the visit count a
// root action must currently have to stay in the considered set. The
// schedule spends the budget in Sequential Halving phases: every phase gives
// max(1, numSimulations/(⌈log2 m⌉·m)) extra visits to each of the m still
// considered actions, then halves m, never below two.
func SequenceOfConsideredVisits(maxNumConsideredActions, numSimulations int) []int {
	if maxNumConsideredActions <= 1 {
		sequence := make([]int, numSimulations)
		for i := range sequence {
			sequence[i] = i
		}
		return sequence
	}

	log2max := int(math.Ceil(math.Log2(float64(maxNumConsideredActions))))
	visits := make([]int, maxNumConsideredActions)
	sequence := make([]int, 0, numSimulations)
	numConsidered := maxNumConsideredActions
	for len(sequence) < numSimulations {
		numExtraVisits := max(1, numSimulations/(log2max*numConsidered))
		for i := 0; i < numExtraVisits; i++ {
			sequence = append(sequence, visits[:numConsidered]...)
			for j := 0; j < numConsidered; j++ {
				visits[j]++
			}
		}
		numConsidered = max(2, numConsidered/2)
	}
	return sequence[:numSimulations]
}

// TableOfConsideredVisits tabulates the schedule for every considered-set
// size from 0 to maxNumConsideredActions, so the root selector can index by
// the number of valid actions.
func TableOfConsideredVisits(maxNumConsideredActions, numSimulations int) [][]int {
	table := make([][]int, maxNumConsideredActions+1)
	for m := range table {
		table[m] = SequenceOfConsideredVisits(m, numSimulations)
	}
	return table
}

// ScoreConsidered scores actions whose visit count equals consideredVisit by
// gumbel + max-shifted logits + completed Q-values, and pushes everything
// else below any achievable score.
func ScoreConsidered(consideredVisit int, gumbel, logits, completedQ []float64, visits []int) []float64 {
	const lowLogit = -1e9
	maxLogit := floats.Max(logits)
	scores := make([]float64, len(logits))
	for a := range scores {
		if visits[a] == consideredVisit {
			scores[a] = gumbel[a] + (logits[a] - maxLogit) + completedQ[a]
		} else {
			scores[a] = lowLogit
		}
	}
	return scores
}
