// Package mctx implements batched Monte Carlo tree search policies for
// sequential decision problems with a learned model. A policy receives the
// model's evaluation of a batch of B root states, runs a fixed number of
// simulations against the model's recurrent step, and derives an action and
// an action-weight distribution from the resulting search tree.
//
// This package holds the model-facing contract shared by the tree, search
// and policy packages.
package mctx

import "golang.org/x/exp/rand"

// RootFnOutput is the model's evaluation of the batch of root states,
// produced once per policy invocation. In shape comments, B is the batch
// size and A the action-space size.
type RootFnOutput[E any] struct {
	PriorLogits [][]float64 // [B][A] action logits from the policy head
	Value       []float64   // [B] value estimate of the root state
	Embeddings  []E         // [B] opaque model state at the root
}

// RecurrentFnOutput is the model's evaluation of one action applied to a
// batch of embeddings.
type RecurrentFnOutput struct {
	Reward      []float64   // [B] immediate reward for the transition
	Discount    []float64   // [B] discount applied to the value behind the transition
	PriorLogits [][]float64 // [B][A] action logits at the reached state
	Value       []float64   // [B] value estimate of the reached state
}

// RecurrentFn advances the model by one action for the whole batch. It is
// called once per simulation during the expand step and must be
// deterministic given identical inputs, or search results will not be
// reproducible. The rng argument is consumed.
type RecurrentFn[E any] func(rng *rand.Rand, action []int, embedding []E) (RecurrentFnOutput, []E)

// StoppingCriteria reports whether multi-step action generation should stop,
// given the root embeddings after re-rooting. Consulted once per generated
// action.
type StoppingCriteria[E any] func(rootEmbeddings []E) bool

// Key seeds a policy invocation. A key is a single linear resource: it is
// split into independent PCG streams at well-defined points and never
// reused.
type Key uint64

// Split derives n independent subkeys, consuming the key.
func (k Key) Split(n int) []Key {
	src := rand.NewSource(uint64(k))
	keys := make([]Key, n)
	for i := range keys {
		keys[i] = Key(src.Uint64())
	}
	return keys
}

// Source returns a PCG source seeded by the key.
func (k Key) Source() rand.Source {
	return rand.NewSource(uint64(k))
}

// Rand returns a generator seeded by the key.
func (k Key) Rand() *rand.Rand {
	return rand.New(k.Source())
}
