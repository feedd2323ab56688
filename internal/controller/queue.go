package controller

import (
	"sync"

	"github.com/mixdown-tools/deskrec/internal/dsp"
)

// blockQueue is an unbounded FIFO between a capture goroutine and the
// processing goroutine. Unbounded by choice: a slow processing tick
// must never block the hardware capture path, at the documented cost
// of memory growth if processing falls persistently behind.
type blockQueue struct {
	mu     sync.Mutex
	blocks []dsp.Block
}

func (q *blockQueue) push(b dsp.Block) {
	q.mu.Lock()
	q.blocks = append(q.blocks, b)
	q.mu.Unlock()
}

// tryPop removes the oldest block without blocking.
func (q *blockQueue) tryPop() (dsp.Block, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.blocks) == 0 {
		return dsp.Block{}, false
	}
	b := q.blocks[0]
	q.blocks = q.blocks[1:]
	return b, true
}

func (q *blockQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.blocks)
}
