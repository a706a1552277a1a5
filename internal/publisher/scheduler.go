package publisher

// requestQueue holds requests not yet sent, in arrival order
type requestQueue struct {
	items []*Request
}

func (q *requestQueue) push(req *Request) {
	q.items = append(q.items, req)
}

// drain removes and returns up to n requests from the head of the queue
func (q *requestQueue) drain(n int) []*Request {
	if n <= 0 || len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]*Request, n)
	copy(batch, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	return batch
}

// has reports whether a request of kind is queued for sub
func (q *requestQueue) has(sub *Subscription, kind RequestKind) bool {
	for _, req := range q.items {
		if req.Subscription == sub && req.Kind == kind {
			return true
		}
	}
	return false
}

// removeFor drops queued requests of kind for sub and returns how many were removed
func (q *requestQueue) removeFor(sub *Subscription, kind RequestKind) int {
	kept := q.items[:0]
	removed := 0
	for _, req := range q.items {
		if req.Subscription == sub && req.Kind == kind {
			removed++
			continue
		}
		kept = append(kept, req)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	return removed
}

func (q *requestQueue) len() int {
	return len(q.items)
}

func (q *requestQueue) clear() {
	q.items = nil
}
