package device

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"obixd/internal/model"
)

const (
	deviceFileName = "device.xml"
	metaFileName   = "meta.xml"
)

// deviceDir maps an absolute device href to its persistence directory,
// devices/<seg1>/<seg2>/…/<name>, relative to the subsystem's resource
// root.
func (s *Subsystem) deviceDir(href string) string {
	rel := strings.TrimPrefix(href, s.root.href)
	rel = strings.Trim(rel, "/")
	return filepath.Join(s.resDir, filepath.FromSlash(rel))
}

// writeInitial creates the device's directory and writes its initial
// device.xml and meta.xml.
func (d *Descriptor) writeInitial(resDir string) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("device: mkdir %s: %w", d.dir, err)
	}
	if err := d.writeMeta(); err != nil {
		return err
	}
	return d.writeDeviceFile(true)
}

func (d *Descriptor) writeMeta() error {
	var buf bytes.Buffer
	buf.WriteString(`<obj of="nextdc:device-meta">`)
	fmt.Fprintf(&buf, `<str name="owner_id" val=%q/>`, d.ownerID)
	fmt.Fprintf(&buf, `<uri val=%q/>`, d.href)
	buf.WriteString(`</obj>`)
	return atomicWrite(filepath.Join(d.dir, metaFileName), buf.Bytes())
}

// writeDeviceFile re-serialises the subtree excluding descendant device
// subtrees. It always writes; force is not consulted here, since
// WriteFile applies the backupPeriod rate limit before calling it.
func (d *Descriptor) writeDeviceFile(force bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := &bytes.Buffer{}
	encodeNode(buf, d.node, true)
	return atomicWrite(filepath.Join(d.dir, deviceFileName), buf.Bytes())
}

// WriteFile persists d to disk, subject to the subsystem's backup-period
// rate limit unless force is true.
func (s *Subsystem) WriteFile(d *Descriptor, force bool) error {
	if err := d.gate.WriterEntry(); err != nil {
		return err
	}
	defer d.gate.WriterExit()

	d.mu.Lock()
	elapsed := time.Since(d.lastWrite)
	due := force || d.lastWrite.IsZero() || elapsed >= s.backupPeriod
	d.mu.Unlock()
	if !due {
		return nil
	}

	if err := d.writeDeviceFile(force); err != nil {
		return err
	}
	d.mu.Lock()
	d.lastWrite = time.Now()
	d.mu.Unlock()
	return nil
}

func removeDeviceFiles(dir string) error {
	return os.RemoveAll(dir)
}

// atomicWrite renames any existing file aside before writing the new
// contents, grounded on ap.configd/file.go's rename-then-write pattern.
func atomicWrite(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".bak")
	}
	return os.WriteFile(path, data, 0o644)
}

// encodeNode writes n's XML serialisation to buf. When skipDeviceChildren
// is true, children that are themselves device roots are omitted (they
// persist to their own device.xml).
func encodeNode(buf *bytes.Buffer, n *model.Node, skipDeviceChildren bool) {
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
	if n.Kind != model.Obj && n.Kind != model.List {
		fmt.Fprintf(buf, ` val=%q`, n.Val)
	}
	if n.Writable {
		buf.WriteString(` writable="true"`)
	}
	if n.Hidden {
		buf.WriteString(` hidden="true"`)
	}

	children := n.Children
	if skipDeviceChildren {
		var filtered []*model.Node
		for _, c := range children {
			if c.IsDeviceRoot() {
				continue
			}
			filtered = append(filtered, c)
		}
		children = filtered
	}

	if len(children) == 0 {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')
	for _, c := range children {
		encodeNode(buf, c, skipDeviceChildren)
	}
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteByte('>')
}
