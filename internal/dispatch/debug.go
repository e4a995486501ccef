package dispatch

import (
	"obixd/internal/model"
	"obixd/internal/obixerr"
)

// dumpDebug serves the three ungrounded tree-dump endpoints used by
// operators to inspect live state: the whole object tree, and the
// device and device-lookup-cache views of it.
func (d *Dispatcher) dumpDebug(path string) (*model.Node, *obixerr.Error) {
	switch path {
	case "/obix-dump":
		cp := d.tree.Root().Clone(model.ExcludeMask{})
		return cp, nil
	case "/obix-dev-dump":
		return d.devices.Root().Node().Clone(model.ExcludeMask{}), nil
	case "/obix-dev-cache-dump":
		return d.devices.CacheDump(), nil
	}
	return d.errNode(obixerr.NoSuchURI, path, "no such debug endpoint"), nil
}
