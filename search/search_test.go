package search

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/epfl-dlab/mctx"
	"github.com/epfl-dlab/mctx/qtransform"
	"github.com/epfl-dlab/mctx/selection"
	"github.com/epfl-dlab/mctx/tree"
)

// chainModel is a deterministic toy model: the embedding counts steps taken,
// each action pays a fixed reward and the value head always predicts zero.
type chainModel struct {
	numActions int
	discount   float64
	calls      int
}

func (m *chainModel) root(batchSize int) mctx.RootFnOutput[int] {
	root := mctx.RootFnOutput[int]{
		PriorLogits: make([][]float64, batchSize),
		Value:       make([]float64, batchSize),
		Embeddings:  make([]int, batchSize),
	}
	for b := 0; b < batchSize; b++ {
		root.PriorLogits[b] = make([]float64, m.numActions)
	}
	return root
}

func (m *chainModel) recurrent(_ *rand.Rand, action []int, embedding []int) (mctx.RecurrentFnOutput, []int) {
	m.calls++
	batchSize := len(action)
	out := mctx.RecurrentFnOutput{
		Reward:      make([]float64, batchSize),
		Discount:    make([]float64, batchSize),
		PriorLogits: make([][]float64, batchSize),
		Value:       make([]float64, batchSize),
	}
	next := make([]int, batchSize)
	for b := range action {
		out.Reward[b] = float64(action[b]+1) / float64(m.numActions)
		out.Discount[b] = m.discount
		out.PriorLogits[b] = make([]float64, m.numActions)
		next[b] = embedding[b] + 1
	}
	return out, next
}

func puctSelector() selection.Func[int] {
	return selection.MuZero(1.25, 19652, qtransform.ByParentAndSiblings[int]())
}

func TestRunScenario(t *testing.T) {
	// Batch 1, 10 actions, 50 simulations, uniform priors, discount 0.99.
	model := &chainModel{numActions: 10, discount: 0.99}
	tr := tree.New(model.root(1), 50, nil, nil)

	Run(mctx.Key(7), tr, model.recurrent, puctSelector(), 50)

	t.Run("root visit count equals one plus the simulation budget", func(t *testing.T) {
		require.Equal(t, 51, tr.NodeVisits[0][tree.InitialRootIndex])
	})

	t.Run("every simulation populated exactly one node", func(t *testing.T) {
		populated := 0
		for n := 0; n < tr.Capacity(); n++ {
			if tr.NodeVisits[0][n] > 0 {
				populated++
			}
		}
		require.Equal(t, 51, populated)
	})

	t.Run("visit counts are conserved at every reached node", func(t *testing.T) {
		for n := 0; n < tr.Capacity(); n++ {
			if tr.NodeVisits[0][n] == 0 {
				continue
			}
			childSum := 0
			for a := 0; a < tr.NumActions(); a++ {
				childSum += tr.ChildrenVisits[0][n][a]
			}
			require.Equal(t, 1+childSum, tr.NodeVisits[0][n], "node %d", n)
		}
	})

	t.Run("visit probabilities normalize to one", func(t *testing.T) {
		total := 0.0
		for _, p := range tr.Summary().VisitProbs[0] {
			total += p
		}
		require.InDelta(t, 1.0, total, 1e-9)
	})

	t.Run("parent child links are mutually consistent", func(t *testing.T) {
		for n := 1; n < tr.Capacity(); n++ {
			if tr.NodeVisits[0][n] == 0 {
				continue
			}
			parent := tr.Parents[0][n]
			action := tr.ActionFromParent[0][n]
			require.Equal(t, n, tr.ChildrenIndex[0][parent][action])
		}
	})
}

func TestRunDeterminism(t *testing.T) {
	build := func() *tree.Tree[int] {
		model := &chainModel{numActions: 5, discount: 0.95}
		tr := tree.New(model.root(2), 30, nil, nil)
		Run(mctx.Key(99), tr, model.recurrent, puctSelector(), 30)
		return tr
	}

	first := build()
	second := build()

	require.Equal(t, first.NodeVisits, second.NodeVisits)
	require.Equal(t, first.NodeValues, second.NodeValues)
	require.Equal(t, first.ChildrenIndex, second.ChildrenIndex)
	require.Equal(t, first.ChildrenValues, second.ChildrenValues)
	require.Equal(t, first.Embeddings, second.Embeddings)
}

func TestRunLockstepBatch(t *testing.T) {
	model := &chainModel{numActions: 4, discount: 0.9}
	tr := tree.New(model.root(3), 20, nil, nil)

	Run(mctx.Key(5), tr, model.recurrent, puctSelector(), 20)

	for b := 1; b < 3; b++ {
		require.Equal(t, tr.NodeVisits[0], tr.NodeVisits[b],
			"Identical batch elements should build identical trees")
		require.Equal(t, tr.NodeValues[0], tr.NodeValues[b])
		require.Equal(t, tr.ChildrenIndex[0], tr.ChildrenIndex[b])
	}
}

func TestRunMaxDepth(t *testing.T) {
	model := &chainModel{numActions: 3, discount: 1}
	tr := tree.New(model.root(1), 5, nil, nil)

	Run(mctx.Key(3), tr, model.recurrent, puctSelector(), 5, WithMaxDepth(1))

	t.Run("depth truncation stops allocating new nodes", func(t *testing.T) {
		populated := 0
		for n := 0; n < tr.Capacity(); n++ {
			if tr.NodeVisits[0][n] > 0 {
				populated++
			}
		}
		require.Equal(t, 4, populated,
			"Only the root's three children fit within depth 1")
	})

	t.Run("truncated simulations skip the model", func(t *testing.T) {
		require.Equal(t, 3, model.calls,
			"Re-visits of an already-expanded edge must not re-evaluate the model")
	})

	t.Run("truncated simulations still back up to the root", func(t *testing.T) {
		require.Equal(t, 6, tr.NodeVisits[0][tree.InitialRootIndex])
	})
}

func TestRunBackwardValues(t *testing.T) {
	// One action forces the tree into a path root -> n1 -> n2, every edge
	// paying reward 1 under discount 0.5 with a zero value head.
	model := &chainModel{numActions: 1, discount: 0.5}
	tr := tree.New(model.root(1), 2, nil, nil)

	Run(mctx.Key(1), tr, model.recurrent, puctSelector(), 2)

	require.Equal(t, []int{3, 2, 1}, []int{
		tr.NodeVisits[0][0], tr.NodeVisits[0][1], tr.NodeVisits[0][2],
	})
	require.Equal(t, 0, tr.Parents[0][1])
	require.Equal(t, 1, tr.Parents[0][2])

	// First simulation backs up G = 1 to the root; the second backs up
	// G = 1 at n1 and G = 1 + 0.5*1 = 1.5 at the root.
	require.InDelta(t, 0.5, tr.NodeValues[0][1], 1e-12)
	require.InDelta(t, (0.5*2+1.5)/3, tr.NodeValues[0][0], 1e-12)
	require.Equal(t, 2, tr.ChildrenVisits[0][0][0])
	require.InDelta(t, 0.5, tr.ChildrenValues[0][0][0], 1e-12,
		"Edge value should mirror the child's backed-up value")
}

func TestRunCapacityPanics(t *testing.T) {
	model := &chainModel{numActions: 2, discount: 1}
	tr := tree.New(model.root(1), 3, nil, nil)

	require.Panics(t, func() {
		Run(mctx.Key(1), tr, model.recurrent, puctSelector(), 4)
	}, "Simulation budget beyond tree capacity is a caller error")
}

func TestCollector(t *testing.T) {
	model := &chainModel{numActions: 3, discount: 0.99}
	tr := tree.New(model.root(1), 10, nil, nil)
	collector := NewCollector()
	collector.Start()

	Run(mctx.Key(11), tr, model.recurrent, puctSelector(), 10, WithCollector(collector))

	metrics := collector.Complete()
	require.Equal(t, int64(10), metrics.Simulations)
	require.Equal(t, int64(10), metrics.ModelCalls)
	require.Greater(t, metrics.MaxDepth, int64(0))
}
