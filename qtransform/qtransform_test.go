package qtransform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epfl-dlab/mctx"
	"github.com/epfl-dlab/mctx/tree"
)

// newNodeTree builds a one-tree forest whose root has the given children
// statistics, with uniform priors.
func newNodeTree(nodeValue float64, visits []int, q []float64) *tree.Tree[int] {
	numActions := len(visits)
	root := mctx.RootFnOutput[int]{
		PriorLogits: [][]float64{make([]float64, numActions)},
		Value:       []float64{nodeValue},
		Embeddings:  []int{0},
	}
	tr := tree.New(root, 2, nil, nil)
	for a, v := range visits {
		tr.ChildrenVisits[0][0][a] = v
		// Encode the requested Q purely in the reward channel.
		tr.ChildrenRewards[0][0][a] = q[a]
	}
	return tr
}

func TestNoop(t *testing.T) {
	tr := newNodeTree(0.7, []int{1, 0, 2}, []float64{0.5, 0, -0.25})

	got := Noop[int]()(tr, 0, 0)

	require.Equal(t, []float64{0.5, 0, -0.25}, got,
		"Noop should return raw Q-values with zeros for unvisited actions")
}

func TestByMinMax(t *testing.T) {
	t.Run("panics on an empty value range", func(t *testing.T) {
		require.Panics(t, func() { ByMinMax[int](1, 1) })
	})

	t.Run("imputes the node value and normalizes into the range", func(t *testing.T) {
		tr := newNodeTree(0.5, []int{1, 0}, []float64{1, 0})

		got := ByMinMax[int](0, 1)(tr, 0, 0)

		require.InDelta(t, 1.0, got[0], 1e-12)
		require.InDelta(t, 0.5, got[1], 1e-12,
			"Unvisited action should receive the node's own value estimate")
	})

	t.Run("stays within the unit interval for in-range values", func(t *testing.T) {
		tr := newNodeTree(0.3, []int{2, 1, 0}, []float64{0.9, 0.1, 0})

		got := ByMinMax[int](0, 1)(tr, 0, 0)

		for a, g := range got {
			require.GreaterOrEqual(t, g, 0.0, "action %d", a)
			require.LessOrEqual(t, g, 1.0, "action %d", a)
		}
	})
}

func TestByParentAndSiblings(t *testing.T) {
	t.Run("returns the parent value when no sibling is visited", func(t *testing.T) {
		tr := newNodeTree(0.8, []int{0, 0, 0}, []float64{0, 0, 0})

		got := ByParentAndSiblings[int]()(tr, 0, 0)

		require.Equal(t, []float64{0.8, 0.8, 0.8}, got)
	})

	t.Run("mixes the parent value with the visit-weighted sibling mean", func(t *testing.T) {
		tr := newNodeTree(0.5, []int{3, 1, 0}, []float64{1.0, 0.2, 0})

		got := ByParentAndSiblings[int]()(tr, 0, 0)

		// mixed = (0.5 + 3*1.0 + 1*0.2) / (1 + 4)
		require.InDelta(t, 1.0, got[0], 1e-12, "Visited action keeps its raw Q")
		require.InDelta(t, 0.2, got[1], 1e-12, "Visited action keeps its raw Q")
		require.InDelta(t, 0.74, got[2], 1e-12, "Unvisited action gets the mixed value")
	})

	t.Run("is finite for a freshly expanded node", func(t *testing.T) {
		tr := newNodeTree(0, []int{0, 0}, []float64{0, 0})

		for _, g := range ByParentAndSiblings[int]()(tr, 0, 0) {
			require.False(t, math.IsNaN(g) || math.IsInf(g, 0))
		}
	})
}

func TestCompletedByMixValue(t *testing.T) {
	t.Run("zero visits collapse to a finite zero vector", func(t *testing.T) {
		tr := newNodeTree(0.4, []int{0, 0, 0}, []float64{0, 0, 0})

		got := CompletedByMixValue[int]()(tr, 0, 0)

		// All entries complete to the raw value, so rescaling maps them to 0.
		for _, g := range got {
			require.Equal(t, 0.0, g)
		}
	})

	t.Run("rescales and applies the visit-count scale", func(t *testing.T) {
		tr := newNodeTree(0, []int{1, 0, 0}, []float64{0.5, 0, 0})
		tr.RawValues[0][0] = 0.2

		got := CompletedByMixValue[int]()(tr, 0, 0)

		// mixed = (0.2 + 1*0.5) / 2 = 0.35; completed = [0.5, 0.35, 0.35];
		// rescaled = [1, 0, 0]; scale = (50 + 1) * 0.1.
		require.InDelta(t, 5.1, got[0], 1e-9)
		require.InDelta(t, 0.0, got[1], 1e-9)
		require.InDelta(t, 0.0, got[2], 1e-9)
	})
}
