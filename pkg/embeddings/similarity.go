package embeddings

import (
	"container/heap"
	"math"
)

// Scored is a candidate index with its similarity.
type Scored struct {
	Index int
	Score float64
}

// TopK scores every candidate against query and returns at most k entries sorted by score
// descending. Non-finite scores are dropped. Ties keep candidate order.
func TopK(query []float32, candidates [][]float32, k int) []Scored {
	if k <= 0 {
		return nil
	}

	h := make(minHeap, 0, k+1)
	for i, c := range candidates {
		score := Cosine(query, c)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		item := Scored{Index: i, Score: score}
		if h.Len() < k {
			heap.Push(&h, item)
			continue
		}
		if worse(h[0], item) {
			h[0] = item
			heap.Fix(&h, 0)
		}
	}

	out := make([]Scored, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(Scored)
	}

	return out
}

// worse reports whether a ranks below b: lower score, or equal score and later index.
func worse(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Index > b.Index
}

// minHeap keeps the worst retained candidate at the root.
type minHeap []Scored

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) { *h = append(*h, x.(Scored)) }

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
