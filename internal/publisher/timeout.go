package publisher

import (
	"container/heap"
	"time"

	"github.com/google/uuid"
)

type deadlineEntry struct {
	sub      *Subscription
	deadline time.Time
	index    int
}

type deadlineHeap []*deadlineEntry

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	entry := x.(*deadlineEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// timeoutTracker keeps one response deadline per in-flight subscription
type timeoutTracker struct {
	heap    deadlineHeap
	entries map[uuid.UUID]*deadlineEntry
}

func newTimeoutTracker() *timeoutTracker {
	return &timeoutTracker{entries: make(map[uuid.UUID]*deadlineEntry)}
}

// arm sets the deadline for sub, replacing any earlier one
func (t *timeoutTracker) arm(sub *Subscription, deadline time.Time) {
	if entry, ok := t.entries[sub.id]; ok {
		entry.deadline = deadline
		heap.Fix(&t.heap, entry.index)
		return
	}
	entry := &deadlineEntry{sub: sub, deadline: deadline}
	heap.Push(&t.heap, entry)
	t.entries[sub.id] = entry
}

// remove drops the deadline of sub; removing an absent entry is a no-op
func (t *timeoutTracker) remove(sub *Subscription) {
	entry, ok := t.entries[sub.id]
	if !ok {
		return
	}
	heap.Remove(&t.heap, entry.index)
	delete(t.entries, sub.id)
}

// expired pops every entry whose deadline is at or before now
func (t *timeoutTracker) expired(now time.Time) []*Subscription {
	var subs []*Subscription
	for t.heap.Len() > 0 && !t.heap[0].deadline.After(now) {
		entry := heap.Pop(&t.heap).(*deadlineEntry)
		delete(t.entries, entry.sub.id)
		subs = append(subs, entry.sub)
	}
	return subs
}

func (t *timeoutTracker) len() int {
	return t.heap.Len()
}

func (t *timeoutTracker) clear() {
	t.heap = nil
	t.entries = make(map[uuid.UUID]*deadlineEntry)
}
