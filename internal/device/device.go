// Package device implements the Device Subsystem of §4.2: per-device
// subtree ownership, owner-based access control, persistence to
// device.xml/meta.xml, and a path→device index with a small LRU cache.
// Grounded on the teacher's ap.configd file+hash-index pattern
// (common/cfgtree.PTree plus ap.configd/file.go's load/store), adapted
// from a single global property tree to many independently gated device
// subtrees.
package device

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"obixd/internal/metrics"
	"obixd/internal/model"
	"obixd/internal/obixerr"
	"obixd/internal/objtree"
	"obixd/internal/tsync"
)

// AccessOp identifies the operation an access-control check is guarding.
type AccessOp int

// Operations the oracle is asked to permit.
const (
	OpAdd AccessOp = iota
	OpRemove
	OpDelete
	OpOther
)

// Oracle decides whether requester may perform op against an object
// owned by ownerID. The default oracle implements the built-in rules of
// §4.2; callers may install their own via Subsystem.SetOracle.
type Oracle func(requester, ownerID string, op AccessOp, atRoot bool) bool

// ServerOwner is the synthetic owner id used by subsystem singletons
// (SERVER:DEVICE, SERVER:WATCH, SERVER:HISTORY), which may perform any
// internal removal regardless of requester.
const ServerOwner = "SERVER"

// DefaultOracle implements §4.2's built-in permission rules.
func DefaultOracle(requester, ownerID string, op AccessOp, atRoot bool) bool {
	if requester == ServerOwner {
		return true
	}
	switch op {
	case OpRemove:
		if atRoot {
			return true
		}
		return requester == ownerID
	case OpDelete:
		return requester == ownerID
	default:
		return true
	}
}

// Descriptor is a device's runtime state: its subtree root, owner,
// rw-gate, and position in the device tree and path index.
type Descriptor struct {
	href    string
	ownerID string

	node *model.Node

	parent   *Descriptor
	children []*Descriptor

	gate *tsync.Gate

	dir       string
	mtime     time.Time
	lastWrite time.Time

	mu sync.Mutex
}

// Href implements model.Device.
func (d *Descriptor) Href() string { return d.href }

// OwnerID implements model.Device.
func (d *Descriptor) OwnerID() string { return d.ownerID }

// ReaderEntry implements model.Device, delegating to the rw-gate.
func (d *Descriptor) ReaderEntry() error { return d.gate.ReaderEntry() }

// ReaderExit implements model.Device.
func (d *Descriptor) ReaderExit() { d.gate.ReaderExit() }

// Node returns the device's subtree root.
func (d *Descriptor) Node() *model.Node { return d.node }

// Subsystem is the single Device Subsystem instance for a server.
type Subsystem struct {
	mu     sync.RWMutex
	tree   *objtree.Tree
	root   *Descriptor
	byPath map[string]*Descriptor
	lru    *lru

	oracle       Oracle
	resDir       string
	backupPeriod time.Duration

	log *zap.SugaredLogger
}

// Config configures a new Subsystem.
type Config struct {
	ResourceDir  string // <res>/devices
	BackupPeriod time.Duration
	CacheSize    int
}

// New constructs a Subsystem rooted at rootNode (normally
// /obix/deviceRoot), which must already be inserted into tree.
func New(tree *objtree.Tree, rootNode *model.Node, cfg Config, log *zap.SugaredLogger) *Subsystem {
	root := &Descriptor{
		href: "/obix/deviceRoot", ownerID: ServerOwner, node: rootNode, gate: tsync.New(),
	}
	rootNode.Device = root

	s := &Subsystem{
		tree: tree, root: root,
		byPath:       map[string]*Descriptor{root.href: root},
		lru:          newLRU(cfg.CacheSize),
		oracle:       DefaultOracle,
		resDir:       cfg.ResourceDir,
		backupPeriod: cfg.BackupPeriod,
		log:          log,
	}
	return s
}

// SetOracle installs a custom access-control oracle.
func (s *Subsystem) SetOracle(o Oracle) { s.oracle = o }

// Root returns the root device descriptor (/obix/deviceRoot).
func (s *Subsystem) Root() *Descriptor { return s.root }

// Lookup resolves an absolute href to the device owning the
// longest-matching prefix, falling back to the root descriptor when no
// signed-up device matches; it never returns nil.
func (s *Subsystem) Lookup(href string) *Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if d, ok := s.lru.get(href); ok {
		return d
	}

	best := s.root
	bestLen := len(s.root.href)
	for path, d := range s.byPath {
		if strings.HasPrefix(href, path) && len(path) > bestLen {
			best, bestLen = d, len(path)
		}
	}
	s.lru.put(href, best)
	return best
}

func (s *Subsystem) parentOf(href string) (*Descriptor, string) {
	idx := strings.LastIndex(strings.TrimSuffix(href, "/"), "/")
	if idx < 0 {
		return nil, ""
	}
	parentHref := href[:idx]
	if parentHref == "" {
		parentHref = "/"
	}
	return s.Lookup(parentHref), parentHref
}

// Add implements §4.2's add operation: sign-up (or internal add) of a
// subtree under href.
func (s *Subsystem) Add(input *model.Node, href, requester string, signUp bool) (*Descriptor, *obixerr.Error) {
	if requester == "" {
		return nil, obixerr.New(obixerr.NoRequesterID, href, "requester id required")
	}
	if !model.ValidAbsoluteHref(href) {
		return nil, obixerr.New(obixerr.InvalidHref, href, "invalid device href")
	}

	parent, parentHref := s.parentOf(href)
	if parent == nil {
		return nil, obixerr.New(obixerr.DeviceNoSuchURI, href, "no such parent device")
	}

	s.mu.Lock()
	if existing, ok := s.byPath[href]; ok {
		s.mu.Unlock()
		if existing.ownerID != requester {
			return nil, obixerr.New(obixerr.DeviceConflictOwner, href, "href owned by another requester")
		}
		return existing, nil // idempotent re-signUp
	}
	s.mu.Unlock()

	atRoot := parentHref == s.root.href
	if !s.oracle(requester, parent.ownerID, OpAdd, atRoot) {
		return nil, obixerr.New(obixerr.PermDenied, href, "add not permitted")
	}

	if err := parent.gate.WriterEntry(); err != nil {
		return nil, obixerr.New(obixerr.InvalidState, href, "parent device is shutting down")
	}
	defer parent.gate.WriterExit()

	leaf := lastSegment(href)
	input.Href = leaf
	d := &Descriptor{href: href, ownerID: requester, node: input, parent: parent, gate: tsync.New(), dir: s.deviceDir(href)}
	input.Device = d

	s.tree.Insert(parent.node, input)

	s.mu.Lock()
	parent.children = append(parent.children, d)
	s.byPath[href] = d
	s.mu.Unlock()

	if signUp {
		if err := d.writeInitial(s.resDir); err != nil {
			s.log.Errorw("device initial persist failed", "href", href, "err", err)
			return nil, obixerr.New(obixerr.DiskIO, href, "failed to persist device")
		}
	}

	metrics.Devices.Inc()
	return d, nil
}

// Remove implements §4.2's remove operation: sign-off (or shutdown-path
// internal removal) of a device.
func (s *Subsystem) Remove(d *Descriptor, requester string, signOff bool) *obixerr.Error {
	s.mu.RLock()
	hasChildren := len(d.children) > 0
	s.mu.RUnlock()

	if signOff && hasChildren {
		return obixerr.New(obixerr.DeviceChildren, d.href, "device has children")
	}

	parent := d.parent
	atRoot := parent == s.root
	if parent != nil && !s.oracle(requester, parent.ownerID, OpRemove, atRoot) {
		return obixerr.New(obixerr.PermDenied, d.href, "remove not permitted")
	}
	if !s.oracle(requester, d.ownerID, OpDelete, atRoot) {
		return obixerr.New(obixerr.PermDenied, d.href, "delete not permitted")
	}

	d.gate.Shutdown()

	if parent != nil {
		if err := parent.gate.WriterEntry(); err == nil {
			defer parent.gate.WriterExit()
		}
		s.tree.Remove(d.node)
	}

	s.mu.Lock()
	delete(s.byPath, d.href)
	s.lru.remove(d.href)
	if parent != nil {
		for i, c := range parent.children {
			if c == d {
				parent.children = append(parent.children[:i], parent.children[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if signOff {
		if err := removeDeviceFiles(d.dir); err != nil {
			s.log.Errorw("device file removal failed", "href", d.href, "err", err)
		}
	}
	metrics.Devices.Dec()
	return nil
}

// UpdateNode sets target's value under target's owning device's writer
// gate, returning whether the value actually changed.
func (s *Subsystem) UpdateNode(owner *Descriptor, target *model.Node, newVal string) (bool, *obixerr.Error) {
	if err := owner.gate.WriterEntry(); err != nil {
		return false, obixerr.New(obixerr.InvalidState, target.Path(), "device is shutting down")
	}
	defer owner.gate.WriterExit()

	if target.Kind == model.Bool && newVal != "true" && newVal != "false" {
		return false, obixerr.New(obixerr.InvalidInput, target.Path(), "bool value must be true or false")
	}

	changed := target.Val != newVal
	target.Val = newVal
	return changed, nil
}

// CopyNode reader-gates owner and returns a clone of node honouring
// exclude, delegating cross-device handoff to the Object Tree.
func (s *Subsystem) CopyNode(owner *Descriptor, node *model.Node, exclude model.ExcludeMask) (*model.Node, *obixerr.Error) {
	if err := owner.gate.ReaderEntry(); err != nil {
		return nil, obixerr.New(obixerr.InvalidState, node.Path(), "device is shutting down")
	}
	defer owner.gate.ReaderExit()
	return s.tree.Copy(node, exclude)
}

// CacheDump renders the current path→device LRU cache contents as a list
// of refs, for the /obix-dev-cache-dump debug endpoint.
func (s *Subsystem) CacheDump() *model.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := &model.Node{Kind: model.List, Name: "devCache"}
	for e := s.lru.ll.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*lruEntry)
		out.AddChild(&model.Node{Kind: model.Ref, Name: entry.path, Val: entry.d.href})
	}
	return out
}

func lastSegment(href string) string {
	trimmed := strings.TrimSuffix(href, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}
