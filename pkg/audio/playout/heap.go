// Package playout paces synthesized μ-law audio onto a telephony media
// channel. Clips are queued by priority, sent as 20 ms frames in real time,
// and followed by a mark so the far end can acknowledge playback. Barge-in
// drops everything not yet sent.
package playout

// entry wraps a [Clip] with scheduling metadata for the priority queue. The
// seq field provides FIFO ordering within the same priority level.
type entry struct {
	clip     Clip
	priority int
	seq      uint64
}

// clipHeap implements [container/heap.Interface] as a max-heap ordered by
// priority (descending), with FIFO tie-breaking on seq (ascending).
type clipHeap []entry

func (h clipHeap) Len() int { return len(h) }

func (h clipHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h clipHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *clipHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

func (h *clipHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
