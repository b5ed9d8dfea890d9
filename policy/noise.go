package policy

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/epfl-dlab/mctx"
	"github.com/epfl-dlab/mctx/utils"
)

// addDirichletNoise softmaxes the prior logits, mixes them with one
// Dirichlet(alpha) draw per tree and maps the mixture back to logits.
func addDirichletNoise(key mctx.Key, priorLogits [][]float64, fraction, alpha float64) [][]float64 {
	numActions := len(priorLogits[0])
	alphaVec := make([]float64, numActions)
	for i := range alphaVec {
		alphaVec[i] = alpha
	}
	dirichlet := distmv.NewDirichlet(alphaVec, key.Source())

	noisy := make([][]float64, len(priorLogits))
	noise := make([]float64, numActions)
	for b, logits := range priorLogits {
		probs := utils.Softmax(logits)
		dirichlet.Rand(noise)
		for a := range probs {
			probs[a] = (1-fraction)*probs[a] + fraction*noise[a]
		}
		noisy[b] = utils.LogitsFromProbs(probs)
	}
	return noisy
}

// sampleGumbel draws one Gumbel(0, 1) perturbation per action per tree,
// multiplied by scale. Scale zero yields all zeros while still consuming
// the key.
func sampleGumbel(key mctx.Key, batchSize, numActions int, scale float64) [][]float64 {
	gumbel := distuv.GumbelRight{Mu: 0, Beta: 1, Src: key.Source()}
	out := make([][]float64, batchSize)
	for b := range out {
		row := make([]float64, numActions)
		for a := range row {
			row[a] = scale * gumbel.Rand()
		}
		out[b] = row
	}
	return out
}

// maskLogits shifts logits by their maximum and pins invalid actions to a
// finite minimum, so a later softmax cannot produce NaN even when every
// action is invalid.
func maskLogits(logits []float64, invalid []bool) {
	m := logits[0]
	for _, l := range logits[1:] {
		m = max(m, l)
	}
	for a := range logits {
		logits[a] -= m
	}
	if invalid == nil {
		return
	}
	for a, masked := range invalid {
		if masked {
			logits[a] = utils.MinLogit
		}
	}
}

// categorical samples an index from a normalized distribution.
func categorical(rng *rand.Rand, probs []float64) int {
	r := rng.Float64()
	acc := 0.0
	for a, p := range probs {
		acc += p
		if r < acc {
			return a
		}
	}
	return len(probs) - 1
}
