// Package tsync implements the readers/writers/shutdown synchronisation
// primitive shared by the Device, Watch, and History subsystems: many
// readers or one writer at a time, writer-preferring, with an idempotent
// shutdown that drains in-flight readers and writers before returning.
package tsync

import (
	"errors"
	"sync"
)

// ErrShutdown is returned by Entry methods once shutdown has been raised;
// callers surface it as the invalid-state error contract.
var ErrShutdown = errors.New("tsync: gate is shutting down")

// Gate is a per-subtree readers/writers/shutdown synchroniser, grounded
// on the oBIX server's tsync_t: pending and running counts for each side,
// a shutdown flag, and three condition variables playing the role of the
// reader queue (rq), writer queue (wq), and shutdown-wait queue (sq).
type Gate struct {
	mu sync.Mutex
	rq *sync.Cond
	wq *sync.Cond
	sq *sync.Cond

	beingShutdown bool

	readers, writers               int
	runningReaders, runningWriters int
}

// New returns a ready-to-use Gate.
func New() *Gate {
	g := &Gate{}
	g.rq = sync.NewCond(&g.mu)
	g.wq = sync.NewCond(&g.mu)
	g.sq = sync.NewCond(&g.mu)
	return g
}

// ReaderEntry blocks while a writer is pending or running, then admits
// the caller as a reader. Returns ErrShutdown if shutdown has been
// raised.
func (g *Gate) ReaderEntry() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.beingShutdown {
		return ErrShutdown
	}

	g.readers++
	for g.writers > 0 {
		g.rq.Wait()
	}
	g.runningReaders++
	return nil
}

// ReaderExit releases a reader admitted by ReaderEntry.
func (g *Gate) ReaderExit() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.readers--
	g.runningReaders--

	if g.runningReaders == 0 && g.writers > 0 {
		g.wq.Signal()
	}
	if g.beingShutdown && g.readers == 0 && g.writers == 0 {
		g.sq.Signal()
	}
}

// WriterEntry blocks while any reader or writer is running, then admits
// the caller as the sole writer. Returns ErrShutdown if shutdown has been
// raised.
func (g *Gate) WriterEntry() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.beingShutdown {
		return ErrShutdown
	}

	g.writers++
	for g.runningReaders > 0 || g.runningWriters > 0 {
		g.wq.Wait()
	}
	g.runningWriters++
	return nil
}

// WriterExit releases the writer admitted by WriterEntry.
func (g *Gate) WriterExit() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.runningWriters--
	g.writers--

	switch {
	case g.writers > 0:
		g.wq.Signal()
	case g.readers > 0:
		g.rq.Broadcast()
	case g.beingShutdown:
		g.sq.Signal()
	}
}

// Shutdown raises the shutdown flag, rejecting subsequent entrants, and
// blocks until all in-flight readers and writers have exited. It is safe
// to call more than once.
func (g *Gate) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.beingShutdown {
		return
	}
	g.beingShutdown = true

	for g.readers > 0 || g.writers > 0 {
		g.sq.Wait()
	}
}

// IsShutdown reports whether shutdown has been raised on this gate.
func (g *Gate) IsShutdown() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.beingShutdown
}
