package device

import (
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"sort"

	"obixd/internal/model"
	"obixd/internal/tsync"
)

// LoadAll walks resDir depth-first, parent-before-children, reconstructs
// device descriptors from meta.xml, and inserts their device.xml
// subtrees under the corresponding parent, per §4.2's startup load.
func (s *Subsystem) LoadAll() error {
	return s.loadDir(s.resDir, s.root)
}

var skipList = map[string]bool{"lost+found": true}

func (s *Subsystem) loadDir(dir string, parent *Descriptor) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && !skipList[e.Name()] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sub := filepath.Join(dir, name)
		ownerID, href, err := readMeta(filepath.Join(sub, metaFileName))
		if err != nil {
			// Not a device directory (no meta.xml); recurse in case
			// this is an intermediate path segment directory.
			if err := s.loadDir(sub, parent); err != nil {
				return err
			}
			continue
		}

		node, err := readDeviceFile(filepath.Join(sub, deviceFileName))
		if err != nil {
			return err
		}
		node.Href = lastSegment(href)

		d := &Descriptor{href: href, ownerID: ownerID, node: node, parent: parent, dir: sub, gate: tsync.New()}
		node.Device = d

		s.tree.Insert(parent.node, node)

		s.mu.Lock()
		parent.children = append(parent.children, d)
		s.byPath[href] = d
		s.mu.Unlock()

		if err := s.loadDir(sub, d); err != nil {
			return err
		}
	}
	return nil
}

func readMeta(path string) (ownerID, href string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	for {
		tok, terr := dec.Token()
		if terr == io.EOF {
			break
		}
		if terr != nil {
			return "", "", terr
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "str":
			for _, a := range se.Attr {
				if a.Name.Local == "name" && a.Value == "owner_id" {
					ownerID = attrVal(se, "val")
				}
			}
		case "uri":
			href = attrVal(se, "val")
		}
	}
	return ownerID, href, nil
}

func attrVal(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func readDeviceFile(path string) (*model.Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeOne(f)
}

// decodeOne parses a single-root XML document into a *model.Node tree.
func decodeOne(r io.Reader) (*model.Node, error) {
	dec := xml.NewDecoder(r)
	var root *model.Node
	var stack []*model.Node

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch tt := tok.(type) {
		case xml.StartElement:
			n := &model.Node{Kind: model.ParseKind(tt.Name.Local)}
			for _, a := range tt.Attr {
				switch a.Name.Local {
				case "name":
					n.Name = a.Value
				case "href":
					n.Href = a.Value
				case "val":
					n.Val = a.Value
				case "is":
					n.Is = a.Value
				case "writable":
					n.Writable = a.Value == "true"
				case "hidden":
					n.Hidden = a.Value == "true"
				}
			}
			if len(stack) == 0 {
				root = n
			} else {
				stack[len(stack)-1].AddChild(n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}
	if root == nil {
		return nil, os.ErrInvalid
	}
	return root, nil
}
