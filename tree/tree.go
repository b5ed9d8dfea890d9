// Package tree provides the fixed-capacity, array-backed storage for a
// forest of B search trees sharing one capacity and one action-space size.
// Nodes are addressed by integer index; node 0 is the initial root and the
// node expanded by simulation i is stored at index i+1. No operation ever
// resizes the arrays.
package tree

import (
	"fmt"

	"github.com/epfl-dlab/mctx"
)

const (
	// InitialRootIndex is the node serving as root before any re-rooting.
	InitialRootIndex = 0
	// NoParent marks the root's parent and action-from-parent entries.
	NoParent = -1
	// Unvisited marks an action that has never been selected for expansion.
	Unvisited = -1
)

// Tree is the statistics arena. Writes are restricted to instantiation, the
// expand and backward steps of the search package, and ReRoot; everything
// else reads. One search-driver invocation owns the tree exclusively for its
// lifetime.
type Tree[E any] struct {
	NodeVisits          [][]int       // [B][N] visit count per node
	RawValues           [][]float64   // [B][N] model value at expansion time
	NodeValues          [][]float64   // [B][N] backed-up running-mean value
	Parents             [][]int       // [B][N] parent node index
	ActionFromParent    [][]int       // [B][N] action leading to the node
	ChildrenIndex       [][][]int     // [B][N][A] child node index per action
	ChildrenPriorLogits [][][]float64 // [B][N][A] prior logits over actions
	ChildrenVisits      [][][]int     // [B][N][A] per-edge visit counts
	ChildrenValues      [][][]float64 // [B][N][A] child value seen from the edge
	ChildrenRewards     [][][]float64 // [B][N][A] reward on the edge
	ChildrenDiscounts   [][][]float64 // [B][N][A] discount behind the edge
	Embeddings          [][]E         // [B][N] model state per node
	RootInvalidActions  [][]bool      // [B][A] invalid-action mask at the root
	RootIndex           []int         // [B] current root node per tree

	// ExtraData carries strategy-specific payloads, e.g. root Gumbel noise.
	ExtraData any
}

// New allocates a forest with capacity for numSimulations expansions beyond
// the root and fills node 0 of every tree from the root evaluation. A nil
// invalidActions mask means all actions are valid.
func New[E any](root mctx.RootFnOutput[E], numSimulations int, invalidActions [][]bool, extraData any) *Tree[E] {
	batchSize := len(root.Value)
	if batchSize == 0 || len(root.PriorLogits) != batchSize || len(root.Embeddings) != batchSize {
		panic(fmt.Sprintf("mctx: malformed root output: %d values, %d prior rows, %d embeddings",
			batchSize, len(root.PriorLogits), len(root.Embeddings)))
	}
	numActions := len(root.PriorLogits[0])
	if numActions == 0 {
		panic("mctx: root output has an empty action space")
	}
	if invalidActions != nil && len(invalidActions) != batchSize {
		panic(fmt.Sprintf("mctx: invalid-actions mask has %d rows for batch size %d",
			len(invalidActions), batchSize))
	}
	numNodes := numSimulations + 1

	t := &Tree[E]{
		NodeVisits:          makeNodeInts(batchSize, numNodes, 0),
		RawValues:           makeNodeFloats(batchSize, numNodes),
		NodeValues:          makeNodeFloats(batchSize, numNodes),
		Parents:             makeNodeInts(batchSize, numNodes, NoParent),
		ActionFromParent:    makeNodeInts(batchSize, numNodes, NoParent),
		ChildrenIndex:       makeEdgeInts(batchSize, numNodes, numActions, Unvisited),
		ChildrenPriorLogits: makeEdgeFloats(batchSize, numNodes, numActions),
		ChildrenVisits:      makeEdgeInts(batchSize, numNodes, numActions, 0),
		ChildrenValues:      makeEdgeFloats(batchSize, numNodes, numActions),
		ChildrenRewards:     makeEdgeFloats(batchSize, numNodes, numActions),
		ChildrenDiscounts:   makeEdgeFloats(batchSize, numNodes, numActions),
		Embeddings:          make([][]E, batchSize),
		RootInvalidActions:  make([][]bool, batchSize),
		RootIndex:           make([]int, batchSize),
		ExtraData:           extraData,
	}
	for b := 0; b < batchSize; b++ {
		t.Embeddings[b] = make([]E, numNodes)
		t.RootInvalidActions[b] = make([]bool, numActions)
		if invalidActions != nil {
			if len(invalidActions[b]) != numActions {
				panic(fmt.Sprintf("mctx: invalid-actions row %d has %d entries for %d actions",
					b, len(invalidActions[b]), numActions))
			}
			copy(t.RootInvalidActions[b], invalidActions[b])
		}
		t.RootIndex[b] = InitialRootIndex
		t.WriteNode(b, InitialRootIndex, root.PriorLogits[b], root.Value[b], root.Embeddings[b])
	}
	return t
}

// BatchSize returns B, the number of independent trees.
func (t *Tree[E]) BatchSize() int { return len(t.NodeVisits) }

// Capacity returns N, the maximum number of nodes per tree.
func (t *Tree[E]) Capacity() int { return len(t.NodeVisits[0]) }

// NumActions returns A, the shared action-space size.
func (t *Tree[E]) NumActions() int { return len(t.ChildrenIndex[0][0]) }

// WriteNode fills node n of tree b with a fresh model evaluation and counts
// the evaluation as a visit. Only instantiation and the expand step write
// nodes.
func (t *Tree[E]) WriteNode(b, n int, priorLogits []float64, value float64, embedding E) {
	copy(t.ChildrenPriorLogits[b][n], priorLogits)
	t.RawValues[b][n] = value
	t.NodeValues[b][n] = value
	t.NodeVisits[b][n]++
	t.Embeddings[b][n] = embedding
}

// Qvalues returns one Q-value per action at node n of tree b, computed as
// reward + discount * child value. Unvisited actions yield zero.
func (t *Tree[E]) Qvalues(b, n int) []float64 {
	numActions := t.NumActions()
	q := make([]float64, numActions)
	for a := 0; a < numActions; a++ {
		q[a] = t.ChildrenRewards[b][n][a] + t.ChildrenDiscounts[b][n][a]*t.ChildrenValues[b][n][a]
	}
	return q
}

// ReRoot points tree b at newRoot and severs its parent link, so the
// backward pass stops there. Subtrees outside the new root stay allocated
// but become unreachable; they are never reclaimed within one search.
func (t *Tree[E]) ReRoot(b, newRoot int) {
	t.RootIndex[b] = newRoot
	t.Parents[b][newRoot] = NoParent
}

// Summary aggregates the root-children statistics of every tree.
type Summary struct {
	Value       []float64   // [B] backed-up value of the root
	VisitCounts [][]int     // [B][A] visit count per root action
	VisitProbs  [][]float64 // [B][A] normalized visit distribution
}

// Summary reports per-tree root visit counts and the normalized visit
// distribution over actions. When no root action has been visited the
// distribution is the zero vector; callers sampling from it must guard
// against the degenerate normalization themselves.
func (t *Tree[E]) Summary() Summary {
	batchSize := t.BatchSize()
	numActions := t.NumActions()
	s := Summary{
		Value:       make([]float64, batchSize),
		VisitCounts: make([][]int, batchSize),
		VisitProbs:  make([][]float64, batchSize),
	}
	for b := 0; b < batchSize; b++ {
		root := t.RootIndex[b]
		s.Value[b] = t.NodeValues[b][root]
		counts := make([]int, numActions)
		copy(counts, t.ChildrenVisits[b][root])
		s.VisitCounts[b] = counts

		total := 0
		for _, c := range counts {
			total += c
		}
		probs := make([]float64, numActions)
		if total > 0 {
			for a, c := range counts {
				probs[a] = float64(c) / float64(total)
			}
		}
		s.VisitProbs[b] = probs
	}
	return s
}

func makeNodeInts(batchSize, numNodes, fill int) [][]int {
	out := make([][]int, batchSize)
	for b := range out {
		row := make([]int, numNodes)
		if fill != 0 {
			for i := range row {
				row[i] = fill
			}
		}
		out[b] = row
	}
	return out
}

func makeNodeFloats(batchSize, numNodes int) [][]float64 {
	out := make([][]float64, batchSize)
	for b := range out {
		out[b] = make([]float64, numNodes)
	}
	return out
}

func makeEdgeInts(batchSize, numNodes, numActions, fill int) [][][]int {
	out := make([][][]int, batchSize)
	for b := range out {
		out[b] = make([][]int, numNodes)
		for n := range out[b] {
			row := make([]int, numActions)
			if fill != 0 {
				for i := range row {
					row[i] = fill
				}
			}
			out[b][n] = row
		}
	}
	return out
}

func makeEdgeFloats(batchSize, numNodes, numActions int) [][][]float64 {
	out := make([][][]float64, batchSize)
	for b := range out {
		out[b] = make([][]float64, numNodes)
		for n := range out[b] {
			out[b][n] = make([]float64, numActions)
		}
	}
	return out
}
