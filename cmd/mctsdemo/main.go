// mctsdemo runs the MuZero and Gumbel MuZero policies against a toy bandit
// chain model and prints the resulting action weights.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"

	"github.com/epfl-dlab/mctx"
	"github.com/epfl-dlab/mctx/policy"
	"github.com/epfl-dlab/mctx/search"
)

// armRewards makes the last action the best one, so both policies should
// concentrate their visits there.
var armRewards = []float64{0.0, 0.1, 0.3, 0.4, 1.0}

func banditModel() (mctx.RootFnOutput[int], mctx.RecurrentFn[int]) {
	numActions := len(armRewards)
	uniform := make([]float64, numActions)

	root := mctx.RootFnOutput[int]{
		PriorLogits: [][]float64{uniform},
		Value:       []float64{0},
		Embeddings:  []int{0},
	}
	recurrent := func(_ *rand.Rand, action []int, embedding []int) (mctx.RecurrentFnOutput, []int) {
		batch := len(action)
		out := mctx.RecurrentFnOutput{
			Reward:      make([]float64, batch),
			Discount:    make([]float64, batch),
			PriorLogits: make([][]float64, batch),
			Value:       make([]float64, batch),
		}
		next := make([]int, batch)
		for b := range action {
			out.Reward[b] = armRewards[action[b]]
			out.Discount[b] = 0.99
			out.PriorLogits[b] = make([]float64, numActions)
			next[b] = embedding[b] + 1
		}
		return out, next
	}
	return root, recurrent
}

func main() {
	sims := flag.Int("sims", 64, "number of simulations per policy call")
	seed := flag.Uint64("seed", 42, "search key")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	root, recurrent := banditModel()
	collector := search.NewCollector()

	muzero, err := policy.MuZero(mctx.Key(*seed), root, recurrent, *sims,
		policy.WithMetrics[int](collector))
	if err != nil {
		log.Fatal().Err(err).Msg("muzero policy failed")
	}
	printPolicy("MuZero", muzero.Action[0], muzero.ActionWeights[0])

	gumbel, err := policy.Gumbel(mctx.Key(*seed), root, recurrent, *sims,
		policy.WithMaxNumConsideredActions[int](4))
	if err != nil {
		log.Fatal().Err(err).Msg("gumbel policy failed")
	}
	printPolicy("Gumbel MuZero", gumbel.Action[0], gumbel.ActionWeights[0])
}

func printPolicy(name string, action int, weights []float64) {
	profile := termenv.ColorProfile()
	fmt.Printf("%s -> action %d\n", termenv.String(name).Bold(), action)
	for a, w := range weights {
		line := termenv.String(fmt.Sprintf("  %d %6.3f %s", a, w, strings.Repeat("#", max(0, int(w*40)))))
		if a == action {
			line = line.Foreground(profile.Color("#A8CC8C")).Bold()
		}
		fmt.Println(line)
	}
}
