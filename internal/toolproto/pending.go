package toolproto

import (
	"sync"
	"sync/atomic"
)

// reply is what a waiting caller receives.
type reply struct {
	env *Envelope
	err error
}

// pendingTable correlates outstanding request ids with their callers. Each
// id is retired exactly once, by resolve, cancel or failAll.
type pendingTable struct {
	nextID  atomic.Int64
	mu      sync.Mutex
	waiters map[int64]chan reply
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[int64]chan reply)}
}

// register allocates the next id and its completion channel.
func (p *pendingTable) register() (int64, <-chan reply) {
	id := p.nextID.Add(1)
	ch := make(chan reply, 1)
	p.mu.Lock()
	p.waiters[id] = ch
	p.mu.Unlock()
	return id, ch
}

// resolve delivers r to the caller waiting on id. It returns false when no
// caller is waiting, for a late or duplicate reply.
func (p *pendingTable) resolve(id int64, r reply) bool {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	delete(p.waiters, id)
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- r
	return true
}

// cancel retires id without delivering anything.
func (p *pendingTable) cancel(id int64) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// failAll retires every outstanding id with err.
func (p *pendingTable) failAll(err error) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[int64]chan reply)
	p.mu.Unlock()
	for _, ch := range waiters {
		ch <- reply{err: err}
	}
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
