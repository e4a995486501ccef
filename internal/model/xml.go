package model

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

// DecodeXML parses a single XML fragment (one top-level element) into a
// Node, using encoding/xml's streaming tokenizer directly — this is the
// same technique objtree.decodeFragment and device.readDeviceFile use,
// kept here so every caller that needs to turn an HTTP request body into
// a Node shares one implementation rather than re-deriving it.
func DecodeXML(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var root *Node
	var stack []*Node

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
			n := &Node{Kind: ParseKind(tt.Name.Local)}
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
					n.Of = ParseKind(attr.Value)
				}
			}
			if root == nil {
				root = n
			} else if len(stack) > 0 {
				stack[len(stack)-1].AddChild(n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}
	return root, nil
}

// EncodeXML serialises n and its descendants as an XML fragment. It
// mirrors device.encodeNode's attribute ordering but never filters
// device-root children, since callers outside the Device Subsystem have
// no notion of "skip the nested device".
func EncodeXML(n *Node) []byte {
	buf := &bytes.Buffer{}
	encodeNode(buf, n)
	return buf.Bytes()
}

func encodeNode(buf *bytes.Buffer, n *Node) {
	if n == nil {
		return
	}
	tag := n.Kind.String()
	buf.WriteByte('<')
	buf.WriteString(tag)
	if n.Name != "" {
		fmt.Fprintf(buf, ` name=%q`, n.Name)
	}
	if n.Href != "" {
		fmt.Fprintf(buf, ` href=%q`, n.Href)
	}
	if n.Is != "" {
		fmt.Fprintf(buf, ` is=%q`, n.Is)
	}
	if n.Kind != Obj && n.Kind != List {
		fmt.Fprintf(buf, ` val=%q`, n.Val)
	}
	if n.Writable {
		buf.WriteString(` writable="true"`)
	}
	if n.Hidden {
		buf.WriteString(` hidden="true"`)
	}

	if len(n.Children) == 0 {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')
	for _, c := range n.Children {
		encodeNode(buf, c)
	}
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteByte('>')
}
