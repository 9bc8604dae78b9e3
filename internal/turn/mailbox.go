package turn

import (
	"sync"
	"time"
)

// mailbox is an unbounded FIFO of loop work. push never blocks, so capture
// and playback goroutines can post while the loop waits on them.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}

// timerSlot is one scheduled loop action. A fire is dropped unless the slot's
// generation is still current when it reaches the loop.
type timerSlot struct {
	gen   uint64
	timer *time.Timer
}

func (s *timerSlot) stop() {
	if s != nil && s.timer != nil {
		s.timer.Stop()
	}
}
