// Package objtree implements the in-memory object tree of §4.1: path
// lookup, exclusion-mask copying that crosses device boundaries, and
// cloning of the static system templates. Grounded on the teacher's
// common/cfgtree.PTree, generalized from a string-valued configuration
// tree to the typed oBIX node model in internal/model.
package objtree

import (
	"strings"
	"sync"

	"obixd/internal/model"
	"obixd/internal/obixerr"
)

// Tree is the single in-memory object tree shared by every subsystem.
type Tree struct {
	mu   sync.RWMutex
	root *model.Node

	templates map[string]*model.Node
}

// New returns a Tree with a bare "/" root.
func New() *Tree {
	return &Tree{root: &model.Node{Kind: model.Obj, Href: "/"}, templates: make(map[string]*model.Node)}
}

// Root returns the tree's root node.
func (t *Tree) Root() *model.Node { return t.root }

// Get resolves path against the tree, one segment at a time. Returns nil
// if not found.
func (t *Tree) Get(path string) *model.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.get(path)
}

func (t *Tree) get(path string) *model.Node {
	if path == "" || path == "/" {
		return t.root
	}
	segs := splitHref(path)
	cur := t.root
	for _, seg := range segs {
		cur = cur.ChildByHref(seg)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func splitHref(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Insert installs child under parent. If parent already has a child with
// the same href, that existing child is kept: child's children are
// re-parented into it and its Val, Is and Writable are overwritten from
// child (§4.1's duplicate-href merge rule).
func (t *Tree) Insert(parent *model.Node, child *model.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing := parent.ChildByHref(child.Href); existing != nil {
		for _, gc := range child.Children {
			existing.AddChild(gc)
		}
		existing.Val = child.Val
		existing.Is = child.Is
		existing.Writable = child.Writable
		return
	}
	parent.AddChild(child)
}

// Remove unlinks node from its parent.
func (t *Tree) Remove(node *model.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if node.Parent != nil {
		node.Parent.RemoveChild(node)
	}
}

// Copy deep-clones node honouring exclude, crossing device boundaries by
// acquiring each child device's reader gate for the duration of that
// child's subtree. It does not release any gate the caller already holds
// for the enclosing device while inside the child.
func (t *Tree) Copy(node *model.Node, exclude model.ExcludeMask) (*model.Node, *obixerr.Error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.copyNode(node, exclude)
}

func (t *Tree) copyNode(n *model.Node, exclude model.ExcludeMask) (*model.Node, *obixerr.Error) {
	if n.Hidden && exclude.Hidden {
		return nil, nil
	}
	if n.Kind == model.Meta && exclude.Meta {
		return nil, nil
	}

	cp := &model.Node{
		Kind: n.Kind, Name: n.Name, Href: n.Href, Val: n.Val, Is: n.Is,
		Writable: n.Writable, Hidden: n.Hidden, Of: n.Of, Device: n.Device,
	}

	for _, c := range n.Children {
		if c.IsDeviceRoot() && c.Device != n.Device {
			// Crossing into a child device subtree: take its reader gate.
			if err := c.Device.ReaderEntry(); err != nil {
				return nil, obixerr.New(obixerr.InvalidState, c.Path(), "device is shutting down")
			}
			cc, oerr := t.copyNode(c, exclude)
			c.Device.ReaderExit()
			if oerr != nil {
				return nil, oerr
			}
			if cc != nil {
				cp.AddChild(cc)
			}
			continue
		}

		cc, oerr := t.copyNode(c, exclude)
		if oerr != nil {
			return nil, oerr
		}
		if cc != nil {
			cp.AddChild(cc)
		}
	}
	return cp, nil
}

// RegisterTemplate installs a static system template by stub name.
func (t *Tree) RegisterTemplate(stub string, n *model.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.templates[stub] = n
}

// InsertTemplate clones one of the registered static templates (error,
// fatal-error, watch, watch-out, batch-out, history-device,
// history-abstract, history-append-out).
func (t *Tree) InsertTemplate(stub string) (*model.Node, *obixerr.Error) {
	t.mu.RLock()
	tmpl, ok := t.templates[stub]
	t.mu.RUnlock()
	if !ok {
		return nil, obixerr.New(obixerr.InvalidState, "", "no such template: "+stub)
	}
	return tmpl.Clone(model.ExcludeMask{}), nil
}

// DumpError builds an err contract node for the given kind/href/message.
func (t *Tree) DumpError(kind obixerr.Kind, href, display string) *model.Node {
	n, oerr := t.InsertTemplate("error")
	if oerr != nil || n == nil {
		n = &model.Node{Kind: model.Obj, Is: "obix:err"}
	}
	n.Is = kind.ContractType()
	n.Href = href
	for _, c := range n.Children {
		if c.Name == "display" {
			c.Val = display
		}
	}
	if len(n.Children) == 0 {
		n.AddChild(&model.Node{Kind: model.Str, Name: "display", Val: display})
	}
	return n
}

// NodeCount returns the total number of nodes currently in the tree,
// root included. Used by the periodic metrics sampler rather than any
// request path, so it takes the read lock itself.
func (t *Tree) NodeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return countNodes(t.root)
}

func countNodes(n *model.Node) int {
	total := 1
	for _, c := range n.Children {
		total += countNodes(c)
	}
	return total
}
