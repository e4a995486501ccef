// Package model defines the typed tree node that every other subsystem
// builds on: the oBIX object model of §3, generalized from the teacher's
// cfgtree.PNode (a string-valued configuration property tree) into the
// full set of oBIX primitive and structural kinds.
package model

import "strings"

// Kind is the oBIX semantic type of a node.
type Kind int

// The node kinds recognised by the core.
const (
	Obj Kind = iota
	Bool
	Int
	Real
	Str
	Enum
	AbsTime
	RelTime
	URI
	Op
	List
	Ref
	Meta
)

var kindNames = map[Kind]string{
	Obj: "obj", Bool: "bool", Int: "int", Real: "real", Str: "str",
	Enum: "enum", AbsTime: "abstime", RelTime: "reltime", URI: "uri",
	Op: "op", List: "list", Ref: "ref", Meta: "meta",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "obj"
}

// ParseKind maps an XML element name back to a Kind, defaulting to Obj.
func ParseKind(s string) Kind {
	for k, n := range kindNames {
		if n == s {
			return k
		}
	}
	return Obj
}

// Device is the subset of device.Descriptor the model package needs for
// a node's back-pointer, kept as an interface here to avoid a package
// import cycle between model and device. ReaderEntry/ReaderExit let
// Tree.Copy take a child device's reader gate when a copy walk crosses
// into that device's subtree.
type Device interface {
	Href() string
	OwnerID() string
	ReaderEntry() error
	ReaderExit()
}

// Node is one element of the in-memory object tree.
type Node struct {
	Kind Kind

	Name     string
	Href     string // single path segment; "/" only for the root
	Val      string
	Is       string
	Writable bool
	Hidden   bool
	Of       Kind // element kind for List nodes

	Children []*Node
	Parent   *Node

	// Device is non-nil iff this node is the root of a device subtree.
	Device Device
}

// New constructs a bare node of the given kind.
func New(kind Kind, name string) *Node {
	return &Node{Kind: kind, Name: name}
}

// AddChild appends child to n's children, wiring the parent pointer.
func (n *Node) AddChild(child *Node) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// RemoveChild unlinks child from n's children by identity. Reports
// whether it was found.
func (n *Node) RemoveChild(child *Node) bool {
	for i, c := range n.Children {
		if c == child {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			child.Parent = nil
			return true
		}
	}
	return false
}

// ChildByHref returns the direct child with the given href segment, or
// nil.
func (n *Node) ChildByHref(href string) *Node {
	for _, c := range n.Children {
		if c.Href == href {
			return c
		}
	}
	return nil
}

// Path reconstructs the absolute path of n by walking parent pointers.
func (n *Node) Path() string {
	if n.Parent == nil {
		return n.Href
	}
	var segs []string
	for cur := n; cur.Parent != nil; cur = cur.Parent {
		segs = append([]string{cur.Href}, segs...)
	}
	return "/" + strings.Join(segs, "/")
}

// IsDeviceRoot reports whether n is the root of a device subtree.
func (n *Node) IsDeviceRoot() bool { return n.Device != nil }

// ValidHref reports whether href passes §4.1's shared path-safety check:
// it is the root "/", or it is non-empty, has no leading space or tab,
// contains no "//", and has no "." or ".." segment.
func ValidHref(href string) bool {
	if href == "/" {
		return true
	}
	if href == "" {
		return false
	}
	if strings.HasPrefix(href, " ") || strings.HasPrefix(href, "\t") {
		return false
	}
	if strings.Contains(href, "//") {
		return false
	}
	for _, seg := range strings.Split(href, "/") {
		if seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// ValidAbsoluteHref reports whether href is a valid absolute path: each
// of its segments passes ValidHref, it has no empty segments, and it
// starts with a slash but does not end with one (except the bare root).
func ValidAbsoluteHref(href string) bool {
	if href == "/" {
		return true
	}
	if !strings.HasPrefix(href, "/") {
		return false
	}
	trimmed := strings.TrimPrefix(href, "/")
	if trimmed == "" || strings.HasSuffix(trimmed, "/") {
		return false
	}
	for _, seg := range strings.Split(trimmed, "/") {
		if !ValidHref(seg) || seg == "/" {
			return false
		}
	}
	return true
}

// Clone deep-copies n and its subtree, honouring the exclusion mask.
// Device back-pointers are preserved (not deep-copied) so the clone
// still names the owning device.
func (n *Node) Clone(exclude ExcludeMask) *Node {
	if exclude.matches(n) {
		return nil
	}
	cp := &Node{
		Kind: n.Kind, Name: n.Name, Href: n.Href, Val: n.Val, Is: n.Is,
		Writable: n.Writable, Hidden: n.Hidden, Of: n.Of, Device: n.Device,
	}
	for _, c := range n.Children {
		if cc := c.Clone(exclude); cc != nil {
			cp.AddChild(cc)
		}
	}
	return cp
}

// ExcludeMask controls which children Clone / Tree.Copy skip.
type ExcludeMask struct {
	Hidden   bool
	Meta     bool
	Comments bool
}

func (m ExcludeMask) matches(n *Node) bool {
	if m.Hidden && n.Hidden {
		return true
	}
	if m.Meta && n.Kind == Meta {
		return true
	}
	return false
}

// DefaultExclude is the exclusion mask applied to ordinary reads: hidden
// and meta children (e.g. watch markers) are never shown to clients.
var DefaultExclude = ExcludeMask{Hidden: true, Meta: true}
