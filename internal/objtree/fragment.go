package objtree

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"obixd/internal/model"
)

// LoadDir reads every server_*.xml fragment from dir (in lexical order,
// matching the teacher's deterministic upgrade-hook ordering) and merges
// each into the tree under root. Comments are discarded during decode
// because encoding/xml does not surface them as tokens we keep.
func (t *Tree) LoadDir(dir string, root *model.Node) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		matched, _ := filepath.Match("server_*.xml", e.Name())
		if matched {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("objtree: open %s: %w", name, err)
		}
		frag, err := decodeFragment(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("objtree: parse %s: %w", name, err)
		}
		for _, child := range frag.Children {
			t.Insert(root, child)
		}
	}
	return nil
}

// decodeFragment parses a single XML document into a synthetic root
// whose children are the document's top-level elements, using
// encoding/xml's streaming tokenizer directly into the typed model.Node
// tree (no general-purpose DOM library, per the core's own boundary).
func decodeFragment(r io.Reader) (*model.Node, error) {
	dec := xml.NewDecoder(r)
	root := &model.Node{Kind: model.Obj, Href: "/"}
	stack := []*model.Node{root}

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
			for _, attr := range tt.Attr {
				switch attr.Name.Local {
				case "name":
					n.Name = attr.Value
				case "href":
					n.Href = attr.Value
				case "val":
					n.Val = attr.Value
				case "is":
					n.Is = attr.Value
				case "writable":
					n.Writable = attr.Value == "true"
				case "hidden":
					n.Hidden = attr.Value == "true"
				case "of":
					n.Of = model.ParseKind(attr.Value)
				}
			}
			top := stack[len(stack)-1]
			top.AddChild(n)
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}
	return root, nil
}
