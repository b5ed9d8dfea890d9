// Package search runs the simulate → expand → backward cycle that populates
// a tree. One driver invocation owns its tree exclusively; simulation i is
// fully completed before simulation i+1 starts, because node-index
// assignment and the statistics updates depend on that order. All B trees in
// a batch advance through the cycle in lockstep and the model's recurrent
// function is called at most once per simulation for the whole batch.
package search

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"

	"github.com/epfl-dlab/mctx"
	"github.com/epfl-dlab/mctx/selection"
	"github.com/epfl-dlab/mctx/tree"
)

type config struct {
	maxDepth  int
	simOffset int
	collector Collector
}

// Option configures a driver run.
type Option func(*config)

// WithMaxDepth bounds how deep a simulation may descend before it is
// truncated. Defaults to the simulation budget.
func WithMaxDepth(depth int) Option {
	return func(c *config) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithSimulationOffset continues the node-index numbering of an earlier run
// on the same tree. Used by the multi-step policy, which runs the driver
// once per generated action.
func WithSimulationOffset(offset int) Option {
	return func(c *config) {
		if offset > 0 {
			c.simOffset = offset
		}
	}
}

// WithCollector attaches a metrics collector to the run.
func WithCollector(collector Collector) Option {
	return func(c *config) {
		if collector != nil {
			c.collector = collector
		}
	}
}

// Run performs exactly numSimulations simulations on t. The key seeds the
// expand-step RNG streams and is consumed. The tree must have capacity for
// one new node per simulation; exceeding capacity is a caller error.
func Run[E any](key mctx.Key, t *tree.Tree[E], recurrent mctx.RecurrentFn[E], selector selection.Func[E], numSimulations int, opts ...Option) {
	cfg := config{maxDepth: numSimulations, collector: NewNoopCollector()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if needed := cfg.simOffset + numSimulations + 1; needed > t.Capacity() {
		panic(fmt.Sprintf("mctx: tree capacity %d cannot hold %d simulations", t.Capacity(), needed-1))
	}

	// One expand stream per simulation, derived up front so RNG consumption
	// does not depend on the tree contents.
	expandKeys := key.Split(numSimulations)
	for sim := 0; sim < numSimulations; sim++ {
		parent, action, depth := simulate(t, selector, cfg.maxDepth)
		next := make([]int, t.BatchSize())
		for b := range next {
			if child := t.ChildrenIndex[b][parent[b]][action[b]]; child != tree.Unvisited {
				next[b] = child
			} else {
				next[b] = cfg.simOffset + sim + 1
			}
		}
		expand(expandKeys[sim].Rand(), t, recurrent, parent, action, next, cfg.collector)
		backward(t, next)
		cfg.collector.AddSimulation()
		cfg.collector.ObserveDepth(depth)
	}
	log.Debug().
		Int("simulations", numSimulations).
		Int("max_depth", cfg.maxDepth).
		Int("batch", t.BatchSize()).
		Msg("simulation budget exhausted")
}

// simulate walks each tree from its root until it selects an unexpanded
// edge or reaches maxDepth, and returns the chosen parent and action per
// tree plus the deepest descent across the batch.
func simulate[E any](t *tree.Tree[E], selector selection.Func[E], maxDepth int) (parent, action []int, maxReached int) {
	batchSize := t.BatchSize()
	parent = make([]int, batchSize)
	action = make([]int, batchSize)
	for b := 0; b < batchSize; b++ {
		node := t.RootIndex[b]
		depth := 0
		for {
			a := selector(t, b, node, depth)
			child := t.ChildrenIndex[b][node][a]
			depth++
			if child == tree.Unvisited || depth >= maxDepth {
				parent[b] = node
				action[b] = a
				break
			}
			node = child
		}
		maxReached = max(maxReached, depth)
	}
	return parent, action, maxReached
}

// expand evaluates the model once for the whole batch and fills the target
// node of every tree whose selected edge was unexpanded. Depth-truncated
// elements re-visit an existing node: their slice of the model output is
// discarded and only the visit count advances, so the node keeps its backed
// up statistics. When every element is truncated the model is not called at
// all.
func expand[E any](rng *rand.Rand, t *tree.Tree[E], recurrent mctx.RecurrentFn[E], parent, action, next []int, collector Collector) {
	batchSize := t.BatchSize()
	fresh := make([]bool, batchSize)
	anyFresh := false
	for b := 0; b < batchSize; b++ {
		fresh[b] = t.ChildrenIndex[b][parent[b]][action[b]] == tree.Unvisited
		anyFresh = anyFresh || fresh[b]
	}
	if !anyFresh {
		for b := 0; b < batchSize; b++ {
			t.NodeVisits[b][next[b]]++
		}
		return
	}

	embeddings := make([]E, batchSize)
	for b := 0; b < batchSize; b++ {
		embeddings[b] = t.Embeddings[b][parent[b]]
	}
	step, newEmbeddings := recurrent(rng, action, embeddings)
	collector.AddModelCall()

	for b := 0; b < batchSize; b++ {
		if !fresh[b] {
			t.NodeVisits[b][next[b]]++
			continue
		}
		t.WriteNode(b, next[b], step.PriorLogits[b], step.Value[b], newEmbeddings[b])
		t.ChildrenIndex[b][parent[b]][action[b]] = next[b]
		t.ChildrenRewards[b][parent[b]][action[b]] = step.Reward[b]
		t.ChildrenDiscounts[b][parent[b]][action[b]] = step.Discount[b]
		t.Parents[b][next[b]] = parent[b]
		t.ActionFromParent[b][next[b]] = action[b]
	}
}

// backward propagates the return of each newly reached node up to its root,
// folding the edge reward and discount in per hop and updating node values
// as running means.
func backward[E any](t *tree.Tree[E], leaf []int) {
	for b := 0; b < t.BatchSize(); b++ {
		node := leaf[b]
		value := t.NodeValues[b][node]
		root := t.RootIndex[b]
		for node != root {
			parent := t.Parents[b][node]
			action := t.ActionFromParent[b][node]
			value = t.ChildrenRewards[b][parent][action] + t.ChildrenDiscounts[b][parent][action]*value

			count := float64(t.NodeVisits[b][parent])
			t.NodeValues[b][parent] = (t.NodeValues[b][parent]*count + value) / (count + 1)
			t.NodeVisits[b][parent]++
			t.ChildrenValues[b][parent][action] = t.NodeValues[b][node]
			t.ChildrenVisits[b][parent][action]++
			node = parent
		}
	}
}
