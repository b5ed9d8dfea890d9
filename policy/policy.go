// Package policy composes root-noise injection, strategy selection, the
// search driver and final action sampling into the named search policies:
// MuZero (PUCT everywhere, Dirichlet root noise, temperature sampling),
// Gumbel MuZero (Sequential Halving with Gumbel noise) and the multi-step
// MuZero variant that re-roots the tree after every generated action.
package policy

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"

	"github.com/epfl-dlab/mctx"
	"github.com/epfl-dlab/mctx/qtransform"
	"github.com/epfl-dlab/mctx/search"
	"github.com/epfl-dlab/mctx/selection"
	"github.com/epfl-dlab/mctx/tree"
	"github.com/epfl-dlab/mctx/utils"
)

// Output is what a policy hands back to the caller.
type Output[E any] struct {
	Action         []int       // [B], nil for the multi-step variant
	ActionSequence [][]int     // [B][K], multi-step variant only, -1 for ungenerated slots
	ActionWeights  [][]float64 // [B][A], nil for the multi-step variant
	Tree           *tree.Tree[E]
}

type config[E any] struct {
	invalidActions          [][]bool
	maxDepth                int
	qt                      qtransform.Fn[E]
	dirichletFraction       float64
	dirichletAlpha          float64
	pbCInit                 float64
	pbCBase                 float64
	temperature             float64
	maxNumConsideredActions int
	gumbelScale             float64
	numActionsToGenerate    int
	stopping                mctx.StoppingCriteria[E]
	collector               search.Collector
}

// Option configures a policy invocation.
type Option[E any] func(*config[E])

func newConfig[E any]() config[E] {
	return config[E]{
		dirichletFraction:       0.25,
		dirichletAlpha:          0.3,
		pbCInit:                 1.25,
		pbCBase:                 19652,
		temperature:             1.0,
		maxNumConsideredActions: 16,
		gumbelScale:             1.0,
		numActionsToGenerate:    1,
	}
}

// WithInvalidActions masks actions at the root; true entries are invalid.
func WithInvalidActions[E any](mask [][]bool) Option[E] {
	return func(c *config[E]) { c.invalidActions = mask }
}

// WithMaxDepth bounds the descent depth of each simulation.
func WithMaxDepth[E any](depth int) Option[E] {
	return func(c *config[E]) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithQTransform overrides the policy's default completed-Q transform.
func WithQTransform[E any](qt qtransform.Fn[E]) Option[E] {
	return func(c *config[E]) {
		if qt != nil {
			c.qt = qt
		}
	}
}

// WithDirichlet sets the fraction and concentration of the root exploration
// noise used by the MuZero policies.
func WithDirichlet[E any](fraction, alpha float64) Option[E] {
	return func(c *config[E]) {
		c.dirichletFraction = fraction
		c.dirichletAlpha = alpha
	}
}

// WithPUCTConstants sets the PUCT exploration constants.
func WithPUCTConstants[E any](pbCInit, pbCBase float64) Option[E] {
	return func(c *config[E]) {
		c.pbCInit = pbCInit
		c.pbCBase = pbCBase
	}
}

// WithTemperature sets the visit-count sampling temperature. Zero selects
// the most visited action deterministically.
func WithTemperature[E any](temperature float64) Option[E] {
	return func(c *config[E]) { c.temperature = temperature }
}

// WithMaxNumConsideredActions caps the Sequential Halving candidate set.
func WithMaxNumConsideredActions[E any](n int) Option[E] {
	return func(c *config[E]) {
		if n > 0 {
			c.maxNumConsideredActions = n
		}
	}
}

// WithGumbelScale scales the root Gumbel noise. Zero makes the Gumbel
// policy fully deterministic.
func WithGumbelScale[E any](scale float64) Option[E] {
	return func(c *config[E]) { c.gumbelScale = scale }
}

// WithNumActionsToGenerate sets the action budget of the multi-step policy.
func WithNumActionsToGenerate[E any](n int) Option[E] {
	return func(c *config[E]) {
		if n > 0 {
			c.numActionsToGenerate = n
		}
	}
}

// WithStoppingCriteria installs the early-stop predicate of the multi-step
// policy.
func WithStoppingCriteria[E any](stop mctx.StoppingCriteria[E]) Option[E] {
	return func(c *config[E]) { c.stopping = stop }
}

// WithMetrics attaches a collector to the underlying search runs.
func WithMetrics[E any](collector search.Collector) Option[E] {
	return func(c *config[E]) { c.collector = collector }
}

// MuZero runs standard PUCT search: Dirichlet noise is mixed into the root
// priors, invalid actions are masked before and after the search, and the
// final action is sampled from the temperature-scaled visit distribution.
func MuZero[E any](key mctx.Key, root mctx.RootFnOutput[E], recurrent mctx.RecurrentFn[E], numSimulations int, opts ...Option[E]) (Output[E], error) {
	cfg := newConfig[E]()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validate(root, cfg.invalidActions, numSimulations); err != nil {
		return Output[E]{}, err
	}
	keys := key.Split(3)

	noisy := addDirichletNoise(keys[0], root.PriorLogits, cfg.dirichletFraction, cfg.dirichletAlpha)
	for b := range noisy {
		maskLogits(noisy[b], invalidRow(cfg.invalidActions, b))
	}
	searchRoot := mctx.RootFnOutput[E]{PriorLogits: noisy, Value: root.Value, Embeddings: root.Embeddings}

	qt := cfg.qt
	if qt == nil {
		qt = qtransform.ByParentAndSiblings[E]()
	}
	t := tree.New(searchRoot, numSimulations, cfg.invalidActions, nil)
	startCollector(cfg.collector)
	search.Run(keys[1], t, recurrent, selection.MuZero(cfg.pbCInit, cfg.pbCBase, qt), numSimulations,
		search.WithMaxDepth(cfg.maxDepth), search.WithCollector(cfg.collector))
	completeCollector(cfg.collector, "muzero")

	summary := t.Summary()
	weights := summary.VisitProbs
	zeroInvalid(weights, cfg.invalidActions)

	rng := keys[2].Rand()
	action := make([]int, t.BatchSize())
	for b := range action {
		action[b] = sampleVisitDistribution(rng, summary.VisitCounts[b], weights[b], cfg.temperature, invalidRow(cfg.invalidActions, b))
	}
	return Output[E]{Action: action, ActionWeights: weights, Tree: t}, nil
}

// Gumbel runs Full Gumbel MuZero search. Exploration comes from one
// Gumbel(0, scale) draw per action instead of Dirichlet noise, the root uses
// Sequential Halving and the final action maximizes gumbel + logits +
// completed Q among the valid actions that reached the maximum root visit
// count. The action weights are the softmax of the completed search logits,
// usable to train the policy network.
func Gumbel[E any](key mctx.Key, root mctx.RootFnOutput[E], recurrent mctx.RecurrentFn[E], numSimulations int, opts ...Option[E]) (Output[E], error) {
	cfg := newConfig[E]()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validate(root, cfg.invalidActions, numSimulations); err != nil {
		return Output[E]{}, err
	}
	keys := key.Split(2)

	batchSize := len(root.Value)
	numActions := len(root.PriorLogits[0])
	masked := make([][]float64, batchSize)
	for b := range masked {
		row := make([]float64, numActions)
		copy(row, root.PriorLogits[b])
		maskLogits(row, invalidRow(cfg.invalidActions, b))
		masked[b] = row
	}
	searchRoot := mctx.RootFnOutput[E]{PriorLogits: masked, Value: root.Value, Embeddings: root.Embeddings}

	gumbel := sampleGumbel(keys[0], batchSize, numActions, cfg.gumbelScale)
	qt := cfg.qt
	if qt == nil {
		qt = qtransform.CompletedByMixValue[E]()
	}
	t := tree.New(searchRoot, numSimulations, cfg.invalidActions, &selection.GumbelExtraData{RootGumbel: gumbel})
	selector := selection.SwitchDepth(
		selection.GumbelRoot(numSimulations, cfg.maxNumConsideredActions, qt),
		selection.GumbelInterior(qt))
	startCollector(cfg.collector)
	search.Run(keys[1], t, recurrent, selector, numSimulations,
		search.WithMaxDepth(cfg.maxDepth), search.WithCollector(cfg.collector))
	completeCollector(cfg.collector, "gumbel")

	summary := t.Summary()
	action := make([]int, batchSize)
	weights := make([][]float64, batchSize)
	for b := 0; b < batchSize; b++ {
		rootNode := t.RootIndex[b]
		completedQ := qt(t, b, rootNode)

		// Inside the batch, the considered visit count can differ on trees
		// with fewer valid actions.
		consideredVisit := 0
		for _, v := range summary.VisitCounts[b] {
			consideredVisit = max(consideredVisit, v)
		}
		scores := selection.ScoreConsidered(consideredVisit, gumbel[b], masked[b], completedQ, summary.VisitCounts[b])
		action[b] = selection.MaskedArgmax(scores, invalidRow(cfg.invalidActions, b))

		completedLogits := make([]float64, numActions)
		for a := range completedLogits {
			completedLogits[a] = masked[b][a] + completedQ[a]
		}
		maskLogits(completedLogits, invalidRow(cfg.invalidActions, b))
		weights[b] = utils.Softmax(completedLogits)
	}
	return Output[E]{Action: action, ActionWeights: weights, Tree: t}, nil
}

// MuZeroActionSequence generates up to numActionsToGenerate actions with
// numSimulations simulations each, re-rooting the tree at the chosen child
// after every action. Generation stops early once the stopping criteria
// accepts the new root embeddings. Invalid-action masks are rejected: the
// root position drifts during generation while the mask describes only the
// initial root, and per-node masks are an unresolved design question.
func MuZeroActionSequence[E any](key mctx.Key, root mctx.RootFnOutput[E], recurrent mctx.RecurrentFn[E], numSimulations int, opts ...Option[E]) (Output[E], error) {
	cfg := newConfig[E]()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.invalidActions != nil {
		return Output[E]{}, fmt.Errorf("mctx: invalid actions are not supported with action-sequence generation: the root position changes while the mask describes the initial root only")
	}
	if err := validate(root, nil, numSimulations); err != nil {
		return Output[E]{}, err
	}
	batchSize := len(root.Value)
	if batchSize > 1 {
		// The backward pass stops at each tree's own root, but correctness
		// with batch elements at different depths has not been verified.
		log.Warn().Int("batch", batchSize).Msg("action-sequence generation with batch size > 1 is unverified")
	}
	numToGenerate := cfg.numActionsToGenerate
	keys := key.Split(3)
	searchKeys := keys[1].Split(numToGenerate)

	noisy := addDirichletNoise(keys[0], root.PriorLogits, cfg.dirichletFraction, cfg.dirichletAlpha)
	searchRoot := mctx.RootFnOutput[E]{PriorLogits: noisy, Value: root.Value, Embeddings: root.Embeddings}

	qt := cfg.qt
	if qt == nil {
		qt = qtransform.ByParentAndSiblings[E]()
	}
	selector := selection.MuZero(cfg.pbCInit, cfg.pbCBase, qt)

	t := tree.New(searchRoot, numToGenerate*numSimulations, nil, nil)
	maxDepth := cfg.maxDepth
	if maxDepth <= 0 {
		maxDepth = numToGenerate * numSimulations
	}

	performed := make([][]int, batchSize)
	for b := range performed {
		performed[b] = make([]int, numToGenerate)
		for i := range performed[b] {
			performed[b][i] = -1
		}
	}

	rng := keys[2].Rand()
	for round := 0; round < numToGenerate; round++ {
		startCollector(cfg.collector)
		search.Run(searchKeys[round], t, recurrent, selector, numSimulations,
			search.WithMaxDepth(max(1, maxDepth-round)),
			search.WithSimulationOffset(round*numSimulations),
			search.WithCollector(cfg.collector))
		completeCollector(cfg.collector, "muzero_sequence")

		summary := t.Summary()
		rootEmbeddings := make([]E, batchSize)
		for b := 0; b < batchSize; b++ {
			rootNode := t.RootIndex[b]
			a := sampleVisitDistribution(rng, summary.VisitCounts[b], summary.VisitProbs[b], cfg.temperature, nil)
			if t.ChildrenIndex[b][rootNode][a] == tree.Unvisited {
				// Temperature sampling can land on a never-visited action;
				// there is no subtree to re-root into, so take the most
				// visited child instead.
				a = mostVisited(summary.VisitCounts[b])
			}
			performed[b][round] = a
			t.ReRoot(b, t.ChildrenIndex[b][rootNode][a])
			rootEmbeddings[b] = t.Embeddings[b][t.RootIndex[b]]
		}
		if cfg.stopping != nil && cfg.stopping(rootEmbeddings) {
			break
		}
	}
	return Output[E]{ActionSequence: performed, Tree: t}, nil
}

// sampleVisitDistribution picks an action from the temperature-scaled visit
// distribution. Temperature zero degenerates to the deterministic masked
// argmax of visit counts, ties broken by action index.
func sampleVisitDistribution(rng *rand.Rand, counts []int, probs []float64, temperature float64, invalid []bool) int {
	if temperature <= 0 {
		scores := make([]float64, len(counts))
		for a, c := range counts {
			scores[a] = float64(c)
		}
		return selection.MaskedArgmax(scores, invalid)
	}
	logits := utils.ApplyTemperature(utils.LogitsFromProbs(probs), temperature)
	return categorical(rng, utils.Softmax(logits))
}

func mostVisited(counts []int) int {
	best := 0
	for a, c := range counts {
		if c > counts[best] {
			best = a
		}
	}
	return best
}

func invalidRow(mask [][]bool, b int) []bool {
	if mask == nil {
		return nil
	}
	return mask[b]
}

func zeroInvalid(weights [][]float64, mask [][]bool) {
	if mask == nil {
		return
	}
	for b := range weights {
		for a, masked := range mask[b] {
			if masked {
				weights[b][a] = 0
			}
		}
	}
}

func validate[E any](root mctx.RootFnOutput[E], invalidActions [][]bool, numSimulations int) error {
	if numSimulations < 1 {
		return fmt.Errorf("mctx: numSimulations must be positive, got %d", numSimulations)
	}
	batchSize := len(root.Value)
	if batchSize == 0 {
		return fmt.Errorf("mctx: empty batch")
	}
	if len(root.PriorLogits) != batchSize || len(root.Embeddings) != batchSize {
		return fmt.Errorf("mctx: root output shapes disagree: %d values, %d prior rows, %d embeddings",
			batchSize, len(root.PriorLogits), len(root.Embeddings))
	}
	numActions := len(root.PriorLogits[0])
	for b, row := range root.PriorLogits {
		if len(row) != numActions {
			return fmt.Errorf("mctx: prior row %d has %d actions, want %d", b, len(row), numActions)
		}
	}
	if invalidActions != nil {
		if len(invalidActions) != batchSize {
			return fmt.Errorf("mctx: invalid-actions mask has %d rows for batch size %d", len(invalidActions), batchSize)
		}
		for b, row := range invalidActions {
			if len(row) != numActions {
				return fmt.Errorf("mctx: invalid-actions row %d has %d actions, want %d", b, len(row), numActions)
			}
		}
	}
	return nil
}

func startCollector(c search.Collector) {
	if c != nil {
		c.Start()
	}
}

func completeCollector(c search.Collector, policy string) {
	if c == nil {
		return
	}
	m := c.Complete()
	log.Debug().
		Str("policy", policy).
		Int64("simulations", m.Simulations).
		Int64("model_calls", m.ModelCalls).
		Int64("deepest_descent", m.MaxDepth).
		Dur("elapsed", m.Duration).
		Msg("search complete")
}
