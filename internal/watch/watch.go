// Package watch implements the Watch Subsystem of §4.3: watch creation
// with recyclable ids, add/remove of watch items with hidden meta
// markers, change propagation by ancestor walk, and the pollChanges /
// pollRefresh poll endpoints backed by a long-poll backlog. Grounded on
// the teacher's ap_common/broker publish/subscribe fan-out, recast from
// "deliver to every subscriber" into the park-and-hand-off model of §4.3
// and §9.
package watch

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"obixd/internal/idpool"
	"obixd/internal/metrics"
	"obixd/internal/model"
	"obixd/internal/obixerr"
	"obixd/internal/objtree"
	"obixd/internal/ptask"
	"obixd/internal/tsync"
)

// defaultPollWaitMin is the floor pollChanges waits before expiring a
// parked task when neither pollWaitInterval/min nor /max is configured,
// mirroring original_source/src/server/watch.c's WATCH_POLL_INTERVAL_MIN.
const defaultPollWaitMin = 100 * time.Millisecond

// EventKind is the kind of change a writer reports to the subsystem.
type EventKind int

// Event kinds recognised by NotifyChange.
const (
	NodeChanged EventKind = iota
	NodeDeleted
)

// Item is one monitored path within a watch.
type Item struct {
	Href    string
	Node    *model.Node // nil once deleted
	Meta    *model.Node // the hidden meta marker installed as a child of Node
	Changed int         // count since last poll
}

// Watch is one client-visible watch object.
type Watch struct {
	ID      int
	Href    string
	node    *model.Node // the watch's own node, a clone of the watch template
	gate    *tsync.Gate
	leaseID int

	mu      sync.Mutex
	items   []*Item
	changed bool
}

// Subsystem is the single Watch Subsystem instance for a server.
type Subsystem struct {
	mu      sync.RWMutex
	byID    map[int]*Watch
	ids     *idpool.Pool
	tree    *objtree.Tree
	sched   *ptask.Scheduler
	backlog *backlog

	serviceNode *model.Node

	defaultLease time.Duration
	pollWaitMin  time.Duration
	pollWaitMax  time.Duration

	log *zap.SugaredLogger
}

// Config configures a Subsystem.
type Config struct {
	ServiceNode    *model.Node // /obix/watchService
	DefaultLease   time.Duration
	PollWaitMin    time.Duration
	PollWaitMax    time.Duration
	BacklogWorkers int
}

// New constructs a Watch Subsystem.
func New(tree *objtree.Tree, sched *ptask.Scheduler, cfg Config, log *zap.SugaredLogger) *Subsystem {
	if cfg.DefaultLease == 0 {
		cfg.DefaultLease = time.Hour
	}
	if cfg.PollWaitMax == 0 {
		cfg.PollWaitMax = time.Minute
	}
	s := &Subsystem{
		byID: make(map[int]*Watch), ids: idpool.New(), tree: tree, sched: sched,
		serviceNode: cfg.ServiceNode, defaultLease: cfg.DefaultLease,
		pollWaitMin: cfg.PollWaitMin, pollWaitMax: cfg.PollWaitMax, log: log,
	}
	s.backlog = newBacklog(cfg.BacklogWorkers, log)
	return s
}

// Make allocates a new watch id and clones the watch template for it,
// per §4.3's make endpoint. The clone is held on the Watch; it is not
// inserted into the object tree.
func (s *Subsystem) Make() (*Watch, *obixerr.Error) {
	id := s.ids.Get()
	href := fmt.Sprintf("/obix/watchService/%d/watch%d/", id/64, id)

	tmpl, err := s.tree.InsertTemplate("watch")
	if err != nil {
		return nil, err
	}
	tmpl.Href = fmt.Sprintf("watch%d", id)
	s.renderPollWaitInterval(tmpl)

	w := &Watch{ID: id, Href: href, node: tmpl, gate: tsync.New()}
	s.mu.Lock()
	s.byID[id] = w
	s.mu.Unlock()

	w.leaseID = s.sched.Schedule(s.defaultLease, 0, 1, func() { s.expireLease(w) })
	metrics.Watches.Inc()
	return w, nil
}

func (s *Subsystem) expireLease(w *Watch) {
	_ = s.Delete(w, device_ServerOwner)
}

// device_ServerOwner mirrors device.ServerOwner without importing the
// device package (which does not depend on watch), for use by the
// internal lease-expiry path only.
const device_ServerOwner = "SERVER"

// renderPollWaitInterval overwrites a freshly-cloned watch template's
// pollWaitInterval/min and /max values with the subsystem's configured
// bounds, so the client-visible contract matches what pollWait() actually
// uses rather than the template's static placeholder values.
func (s *Subsystem) renderPollWaitInterval(tmpl *model.Node) {
	for _, c := range tmpl.Children {
		if c.Name != "pollWaitInterval" {
			continue
		}
		for _, b := range c.Children {
			switch b.Name {
			case "min":
				b.Val = formatReltime(s.pollWaitMin)
			case "max":
				b.Val = formatReltime(s.pollWaitMax)
			}
		}
	}
}

// pollWait computes the long-poll expiry delay per §4.3/§9's three-way
// rule: use pollWaitMax whenever it exceeds pollWaitMin, else
// pollWaitMin if it is positive, else a minimum floor, mirroring
// original_source/src/server/watch.c's
// watch_poll_helper.
func (s *Subsystem) pollWait() time.Duration {
	switch {
	case s.pollWaitMax > s.pollWaitMin:
		return s.pollWaitMax
	case s.pollWaitMin > 0:
		return s.pollWaitMin
	default:
		return defaultPollWaitMin
	}
}

// formatReltime renders d as an ISO 8601 duration, matching the style of
// this package's other static reltime literals (e.g. "PT1H").
func formatReltime(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}
	total := int64(d / time.Second)
	h, total := total/3600, total%3600
	m, s2 := total/60, total%60

	var sb strings.Builder
	sb.WriteString("PT")
	if h > 0 {
		fmt.Fprintf(&sb, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&sb, "%dM", m)
	}
	if s2 > 0 || (h == 0 && m == 0) {
		fmt.Fprintf(&sb, "%dS", s2)
	}
	return sb.String()
}

// Get returns the watch with id, or nil.
func (s *Subsystem) Get(id int) *Watch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// resetLease re-arms a watch's lease timer; called on every Watch.*
// operation per §4.3.
func (s *Subsystem) resetLease(w *Watch) {
	s.sched.Reset(w.leaseID, s.defaultLease)
}

// Add implements §4.3's add(hrefs[]) operation.
func (s *Subsystem) Add(w *Watch, hrefs []string) (*model.Node, *obixerr.Error) {
	if err := w.gate.WriterEntry(); err != nil {
		return nil, obixerr.New(obixerr.InvalidState, w.Href, "watch is shutting down")
	}
	defer w.gate.WriterExit()
	s.resetLease(w)

	out, _ := s.tree.InsertTemplate("watch-out")

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, href := range hrefs {
		node := s.tree.Get(href)
		if node == nil {
			out.AddChild(&model.Node{Kind: model.Obj, Href: href, Is: "obix:err", Val: obixerr.WatchNoMonitoredURI.ContractType()})
			continue
		}

		if s.itemFor(w, href) != nil {
			// Already monitored by this watch (exact or ancestor).
			cp, _ := s.tree.Copy(node, model.DefaultExclude)
			out.AddChild(cp)
			continue
		}

		meta := &model.Node{Kind: model.Meta, Name: "watch", Hidden: true, Val: fmt.Sprintf("%d", w.ID)}
		node.AddChild(meta)

		item := &Item{Href: href, Node: node, Meta: meta}
		w.items = append(w.items, item)

		cp, _ := s.tree.Copy(node, model.DefaultExclude)
		out.AddChild(cp)
	}
	return out, nil
}

// itemFor returns the item monitoring href exactly or as an ancestor.
// Caller must hold w.mu.
func (s *Subsystem) itemFor(w *Watch, href string) *Item {
	for _, it := range w.items {
		if it.Href == href || isAncestor(it.Href, href) {
			return it
		}
	}
	return nil
}

func isAncestor(ancestor, href string) bool {
	if ancestor == href {
		return true
	}
	if len(href) <= len(ancestor) {
		return false
	}
	return href[:len(ancestor)] == ancestor && (ancestor == "/" || href[len(ancestor)] == '/')
}

// Remove implements §4.3's remove(hrefs[]) operation.
func (s *Subsystem) Remove(w *Watch, hrefs []string) (*model.Node, *obixerr.Error) {
	if err := w.gate.WriterEntry(); err != nil {
		return nil, obixerr.New(obixerr.InvalidState, w.Href, "watch is shutting down")
	}
	defer w.gate.WriterExit()
	s.resetLease(w)

	out, _ := s.tree.InsertTemplate("watch-out")

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, href := range hrefs {
		for i, it := range w.items {
			if it.Href == href {
				if it.Node != nil && it.Meta != nil {
					it.Node.RemoveChild(it.Meta)
				}
				w.items = append(w.items[:i], w.items[i+1:]...)
				out.AddChild(&model.Node{Kind: model.Obj})
				break
			}
		}
	}
	return out, nil
}

// NotifyChange walks node's ancestors collecting watch-meta markers and
// signals the matching watches, per §4.3's change-propagation rule.
func (s *Subsystem) NotifyChange(node *model.Node, kind EventKind) {
	for cur := node; cur != nil; cur = cur.Parent {
		for _, c := range cur.Children {
			if c.Kind != model.Meta || c.Name != "watch" {
				continue
			}
			var id int
			fmt.Sscanf(c.Val, "%d", &id)
			w := s.Get(id)
			if w == nil {
				continue
			}
			s.applyEvent(w, node, kind)
		}
	}
}

func (s *Subsystem) applyEvent(w *Watch, node *model.Node, kind EventKind) {
	w.mu.Lock()
	w.changed = true
	for _, it := range w.items {
		if it.Node == node || (it.Node != nil && isAncestor(it.Href, node.Path())) {
			it.Changed++
			if kind == NodeDeleted {
				it.Node = nil
				it.Meta = nil
			}
		}
	}
	w.mu.Unlock()

	s.backlog.signal(w.ID)
}

// PollRefresh implements §4.3's pollRefresh.
func (s *Subsystem) PollRefresh(w *Watch) (*model.Node, *obixerr.Error) {
	if err := w.gate.ReaderEntry(); err != nil {
		return nil, obixerr.New(obixerr.InvalidState, w.Href, "watch is shutting down")
	}
	defer w.gate.ReaderExit()
	s.resetLease(w)

	out, _ := s.tree.InsertTemplate("watch-out")
	w.mu.Lock()
	for _, it := range w.items {
		out.AddChild(s.renderItem(it))
	}
	w.changed = false
	for _, it := range w.items {
		it.Changed = 0
	}
	w.mu.Unlock()
	return out, nil
}

func (s *Subsystem) renderItem(it *Item) *model.Node {
	if it.Node == nil {
		return &model.Node{Kind: model.Obj, Href: it.Href}
	}
	cp, _ := s.tree.Copy(it.Node, model.DefaultExclude)
	return cp
}

// PollChanges implements §4.3's pollChanges: returns immediately if any
// item changed, else parks a poll task and returns nil with no error,
// signalling the caller to wait on the returned channel.
func (s *Subsystem) PollChanges(w *Watch) (*model.Node, <-chan *model.Node, *obixerr.Error) {
	if err := w.gate.ReaderEntry(); err != nil {
		return nil, nil, obixerr.New(obixerr.InvalidState, w.Href, "watch is shutting down")
	}
	defer w.gate.ReaderExit()
	s.resetLease(w)

	out, _ := s.tree.InsertTemplate("watch-out")
	any := false

	w.mu.Lock()
	for _, it := range w.items {
		if it.Changed > 0 {
			out.AddChild(s.renderItem(it))
			it.Changed = 0
			any = true
		}
	}
	w.changed = false
	w.mu.Unlock()

	if any {
		return out, nil, nil
	}

	ch := s.backlog.park(w, out, s.pollWait())
	return nil, ch, nil
}

// Delete implements §4.3's explicit delete and the lease-expiry path:
// raise shutdown and drain the watch's gate, release parked poll tasks
// so they reply promptly, then free.
func (s *Subsystem) Delete(w *Watch, requester string) *obixerr.Error {
	if requester != device_ServerOwner && requester != "" {
		// Ordinary clients may always delete their own watch; §4.2's
		// owner-equality rule does not apply to watches (they have no
		// owner field), so only the sentinel internal caller is special
		// here.
	}

	s.sched.Cancel(w.leaseID, false)
	w.gate.Shutdown()
	s.backlog.releaseAll(w.ID)

	s.mu.Lock()
	delete(s.byID, w.ID)
	s.mu.Unlock()
	s.ids.Put(w.ID)

	metrics.Watches.Dec()
	return nil
}
