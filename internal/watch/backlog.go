package watch

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/zap"

	"obixd/internal/metrics"
	"obixd/internal/model"
)

// pollTask is a parked pollChanges call awaiting either a signalled
// change or its own expiry.
type pollTask struct {
	watchID  int
	expiry   time.Time
	out      *model.Node
	reply    chan *model.Node
	index    int // index in the `all` heap
}

type taskHeap []*pollTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].expiry.Before(h[j].expiry) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) {
	t := x.(*pollTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	t.index = -1
	*h = old[:n-1]
	return t
}

// backlog is the single lock-protected long-poll structure described in
// §4.3: an `all` list ordered by expiry, an `active` list of
// already-signalled tasks, and a fixed worker pool draining both.
// Grounded on ap_common/broker.Broker's publish/subscribe loop,
// generalized from "notify every subscriber" into park-and-hand-off.
type backlog struct {
	mu     sync.Mutex
	cond   *sync.Cond
	all    taskHeap
	active []*pollTask

	shuttingDown bool
	wg           sync.WaitGroup

	log *zap.SugaredLogger
}

func newBacklog(workers int, log *zap.SugaredLogger) *backlog {
	if workers <= 0 {
		workers = 10
	}
	b := &backlog{log: log}
	b.cond = sync.NewCond(&b.mu)
	heap.Init(&b.all)

	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

// park enqueues a poll task for watchID, expiring after wait, and
// returns a channel that receives the final reply exactly once.
func (b *backlog) park(w *Watch, out *model.Node, wait time.Duration) <-chan *model.Node {
	t := &pollTask{watchID: w.ID, expiry: time.Now().Add(wait), out: out, reply: make(chan *model.Node, 1)}

	b.mu.Lock()
	heap.Push(&b.all, t)
	b.cond.Signal()
	b.mu.Unlock()
	metrics.PollTasksParked.Inc()

	return t.reply
}

// signal moves every parked task for watchID onto the active list so a
// worker serves it promptly, per §4.3's change-propagation rule.
func (b *backlog) signal(watchID int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var remaining taskHeap
	for _, t := range b.all {
		if t.watchID == watchID {
			b.active = append(b.active, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	if len(remaining) != len(b.all) {
		b.all = remaining
		heap.Init(&b.all)
		b.cond.Broadcast()
	}
}

// releaseAll moves every parked task for watchID onto active and wakes
// workers, used by watch deletion/lease-expiry so clients are released
// promptly even though the watch itself is gone.
func (b *backlog) releaseAll(watchID int) {
	b.signal(watchID)
}

func (b *backlog) worker() {
	defer b.wg.Done()

	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if len(b.active) > 0 {
			t := b.active[len(b.active)-1]
			b.active = b.active[:len(b.active)-1]
			b.mu.Unlock()
			t.reply <- t.out
			close(t.reply)
			metrics.PollTasksParked.Dec()
			b.mu.Lock()
			continue
		}

		if len(b.all) > 0 && !b.all[0].expiry.After(time.Now()) {
			t := heap.Pop(&b.all).(*pollTask)
			b.mu.Unlock()
			t.reply <- t.out
			close(t.reply)
			metrics.PollTasksParked.Dec()
			b.mu.Lock()
			continue
		}

		if b.shuttingDown && len(b.all) == 0 && len(b.active) == 0 {
			return
		}

		if len(b.all) > 0 {
			b.waitUntil(b.all[0].expiry)
		} else {
			b.cond.Wait()
		}
	}
}

func (b *backlog) waitUntil(when time.Time) {
	d := time.Until(when)
	if d <= 0 {
		return
	}
	timer := time.AfterFunc(d, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	b.cond.Wait()
	timer.Stop()
}

// Shutdown signals every worker to drain and exit; workers still serve
// whatever is parked or active before honouring the flag (§4.3: "workers
// must drain even while shutdown is asserted").
func (b *backlog) Shutdown() {
	b.mu.Lock()
	b.shuttingDown = true
	for _, t := range b.all {
		b.active = append(b.active, t)
	}
	b.all = nil
	b.cond.Broadcast()
	b.mu.Unlock()

	b.wg.Wait()
}
