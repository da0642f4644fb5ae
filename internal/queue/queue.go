package queue

import (
	"sync"
)

// Queue is a thread-safe write queue that keeps only the latest value per
// key. Keys drain in the order they were first pushed since the last drain.
type Queue[K comparable, V any] struct {
	mu    sync.Mutex
	order []K
	items map[K]V
}

// New creates a new empty queue.
func New[K comparable, V any]() *Queue[K, V] {
	return &Queue[K, V]{
		items: make(map[K]V),
	}
}

// Push stores v under key, replacing any pending value for that key.
func (q *Queue[K, V]) Push(key K, v V) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[key]; !ok {
		q.order = append(q.order, key)
	}
	q.items[key] = v
}

// Requeue puts back values that failed to flush. A value pushed for the same
// key after the drain is newer and wins.
func (q *Queue[K, V]) Requeue(keys []K, values []V) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, key := range keys {
		if _, ok := q.items[key]; ok {
			continue
		}
		q.order = append(q.order, key)
		q.items[key] = values[i]
	}
}

// Get returns the pending value for key, if any.
func (q *Queue[K, V]) Get(key K) (V, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, ok := q.items[key]
	return v, ok
}

// Empty returns true if nothing is pending.
func (q *Queue[K, V]) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order) == 0
}

// Len returns the number of pending keys.
func (q *Queue[K, V]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// GetAndEmpty returns all pending keys and values in push order and clears the queue.
func (q *Queue[K, V]) GetAndEmpty() ([]K, []V) {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := q.order
	values := make([]V, len(keys))
	for i, k := range keys {
		values[i] = q.items[k]
	}
	q.order = nil
	q.items = make(map[K]V, len(keys))
	return keys, values
}
