package inspect

import "sync"

type ringBuffer struct {
	mu    sync.Mutex
	items []Record
	size  int
	head  int
	count int

	subsMu sync.RWMutex
	subs   map[*subscriber]struct{}
}

type subscriber struct {
	ch chan Record
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{
		items: make([]Record, size),
		size:  size,
		subs:  make(map[*subscriber]struct{}),
	}
}

func (rb *ringBuffer) add(rec Record) {
	rb.mu.Lock()
	idx := (rb.head + rb.count) % rb.size
	if rb.count >= rb.size {
		rb.head = (rb.head + 1) % rb.size
	} else {
		rb.count++
	}
	rb.items[idx] = rec
	rb.mu.Unlock()

	rb.subsMu.RLock()
	for sub := range rb.subs {
		select {
		case sub.ch <- rec:
		default:
			// Slow subscriber, drop.
		}
	}
	rb.subsMu.RUnlock()
}

// last returns up to limit of the most recent records, oldest first.
func (rb *ringBuffer) last(limit int) []Record {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := rb.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, n)
	start := rb.count - n
	for i := range n {
		out[i] = rb.items[(rb.head+start+i)%rb.size]
	}
	return out
}

func (rb *ringBuffer) subscribe() (<-chan Record, func()) {
	sub := &subscriber{ch: make(chan Record, 64)}
	rb.subsMu.Lock()
	rb.subs[sub] = struct{}{}
	rb.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			rb.subsMu.Lock()
			delete(rb.subs, sub)
			rb.subsMu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}
