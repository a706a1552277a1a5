package publisher

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// registry owns live subscriptions, indexed by identity and by correlation key.
// At most one subscription is registered per key.
type registry struct {
	byID  map[uuid.UUID]*Subscription
	byKey map[string]*Subscription
	seq   uint64
}

func newRegistry() *registry {
	return &registry{
		byID:  make(map[uuid.UUID]*Subscription),
		byKey: make(map[string]*Subscription),
	}
}

func (r *registry) add(sub *Subscription) {
	if _, ok := r.byID[sub.id]; ok {
		return
	}
	r.seq++
	sub.seq = r.seq
	r.byID[sub.id] = sub
}

func (r *registry) contains(sub *Subscription) bool {
	existing, ok := r.byID[sub.id]
	return ok && existing == sub
}

// remove deletes the subscription and any key it holds
func (r *registry) remove(sub *Subscription) {
	r.unregisterKey(sub)
	delete(r.byID, sub.id)
}

// registerKey maps key to sub, replacing the key sub held before
func (r *registry) registerKey(key string, sub *Subscription) error {
	if existing, ok := r.byKey[key]; ok && existing != sub {
		return fmt.Errorf("%w: %q held by %s", ErrDuplicateKey, key, existing.description())
	}
	if sub.key != "" && sub.key != key {
		delete(r.byKey, sub.key)
	}
	r.byKey[key] = sub
	sub.key = key
	return nil
}

func (r *registry) unregisterKey(sub *Subscription) {
	if sub.key == "" {
		return
	}
	if r.byKey[sub.key] == sub {
		delete(r.byKey, sub.key)
	}
	sub.key = ""
}

func (r *registry) lookup(key string) (*Subscription, bool) {
	sub, ok := r.byKey[key]
	return sub, ok
}

func (r *registry) get(id uuid.UUID) (*Subscription, bool) {
	sub, ok := r.byID[id]
	return sub, ok
}

func (r *registry) len() int {
	return len(r.byID)
}

func (r *registry) keyCount() int {
	return len(r.byKey)
}

// all returns subscriptions in activation order
func (r *registry) all() []*Subscription {
	subs := make([]*Subscription, 0, len(r.byID))
	for _, sub := range r.byID {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	return subs
}
