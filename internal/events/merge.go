package events

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"container/heap"

	"github.com/cloudcustos/ruleengine/internal/database"
)

// streamHead is one partition's cursor into its sorted event stream.
type streamHead struct {
	docs []*database.EventDocument
	next int
}

type mergeHeap []*streamHead

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	return h[i].docs[h[i].next].Timestamp < h[j].docs[h[j].next].Timestamp
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(*streamHead)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	head := old[n-1]
	*h = old[:n-1]
	return head
}

// mergeStreams k-way merges per-partition streams, each already sorted
// by timestamp ascending, into one ordered slice.
func mergeStreams(streams [][]*database.EventDocument) []*database.EventDocument {
	h := make(mergeHeap, 0, len(streams))
	total := 0
	for _, docs := range streams {
		if len(docs) == 0 {
			continue
		}
		h = append(h, &streamHead{docs: docs})
		total += len(docs)
	}
	heap.Init(&h)

	merged := make([]*database.EventDocument, 0, total)
	for h.Len() > 0 {
		head := h[0]
		merged = append(merged, head.docs[head.next])
		head.next++
		if head.next == len(head.docs) {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
	}
	return merged
}
