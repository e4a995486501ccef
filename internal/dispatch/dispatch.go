// Package dispatch implements the Request Dispatcher of §4.5: path
// resolution against the Object Tree, per-verb handling, and the stable
// table of invoke handler ids. Grounded on the teacher's
// ap.configd/configd.go processOneEvent dispatch table, generalized from
// a single property-match table into the oBIX verb/handler design.
package dispatch

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"obixd/internal/device"
	"obixd/internal/history"
	"obixd/internal/metrics"
	"obixd/internal/model"
	"obixd/internal/obixerr"
	"obixd/internal/objtree"
	"obixd/internal/watch"
)

// Verb is one of the three oBIX REST verbs.
type Verb int

// The verbs the dispatcher handles.
const (
	Read Verb = iota
	Write
	Invoke
)

// Handler ids, stable and table-indexed per §4.5.
const (
	HandlerError = iota
	HandlerWatchMake
	HandlerWatchAdd
	HandlerWatchRemove
	HandlerWatchPollChanges
	HandlerWatchPollRefresh
	HandlerWatchDelete
	HandlerSignUp
	HandlerSignOff
	HandlerBatch
	HandlerHistoryGet
	HandlerHistoryQuery
	HandlerHistoryAppend
)

const (
	deviceRootHref     = "/obix/deviceRoot"
	historyServiceHref = "/obix/historyService"
	watchServiceHref   = "/obix/watchService"
)

// Dispatcher ties the Object Tree, Device, Watch, and History subsystems
// together behind the verb/handler interface §4.5 describes.
type Dispatcher struct {
	tree    *objtree.Tree
	devices *device.Subsystem
	watches *watch.Subsystem
	hist    *history.Subsystem
	log     *zap.SugaredLogger

	// BatchFunc is set by cmd/obixd after the batch package is wired, to
	// avoid an import cycle between dispatch and batch (batch imports
	// dispatch, not the reverse).
	BatchFunc func(d *Dispatcher, in *model.Node, requesterID string) *model.Node
}

// Devices returns the Device Subsystem, used by the Batch multiplexer to
// resolve and flush the device touched by a Write sub-request.
func (d *Dispatcher) Devices() *device.Subsystem { return d.devices }

// New constructs a Dispatcher.
func New(tree *objtree.Tree, devices *device.Subsystem, watches *watch.Subsystem, hist *history.Subsystem, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{tree: tree, devices: devices, watches: watches, hist: hist, log: log}
}

// PollResult is returned by Handle when a pollChanges call has parked;
// Reply receives the eventual watchOut contract.
type PollResult struct {
	Reply <-chan *model.Node
}

// Handle dispatches one (verb, path, body) request. A non-nil *PollResult
// means the caller must wait on Reply instead of using the returned node.
func (d *Dispatcher) Handle(verb Verb, path string, body *model.Node, requesterID string) (*model.Node, *PollResult, *obixerr.Error) {
	switch verb {
	case Read:
		n, err := d.handleRead(path)
		return n, nil, err
	case Write:
		n, err := d.handleWrite(path, body)
		return n, nil, err
	case Invoke:
		return d.handleInvoke(path, body, requesterID)
	}
	return nil, nil, obixerr.New(obixerr.InvalidArgument, path, "unknown verb")
}

func (d *Dispatcher) handleRead(path string) (*model.Node, *obixerr.Error) {
	if isDebugPath(path) {
		return d.dumpDebug(path)
	}
	if strings.HasPrefix(path, historyServiceHref+"/histories/") {
		return d.doHistoryGet(path)
	}

	node := d.tree.Get(path)
	if node == nil {
		return d.errNode(obixerr.NoSuchURI, path, "no such uri"), nil
	}

	if path == deviceRootHref {
		return d.deviceRootRefs(node), nil
	}

	owner := d.devices.Lookup(path)
	cp, oerr := d.devices.CopyNode(owner, node, model.DefaultExclude)
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}
	return cp, nil
}

func (d *Dispatcher) deviceRootRefs(root *model.Node) *model.Node {
	out := &model.Node{Kind: model.List, Is: "obix:Ref"}
	for _, c := range root.Children {
		if c.Hidden {
			continue
		}
		out.AddChild(&model.Node{Kind: model.Ref, Name: c.Name, Val: c.Path()})
	}
	return out
}

func (d *Dispatcher) handleWrite(path string, body *model.Node) (*model.Node, *obixerr.Error) {
	if strings.HasPrefix(path, historyServiceHref) {
		return d.errNode(obixerr.ReadonlyHref, path, "history service is read-only"), nil
	}

	target := d.tree.Get(path)
	if target == nil {
		return d.errNode(obixerr.NoSuchURI, path, "no such uri"), nil
	}
	if body == nil {
		return d.errNode(obixerr.NoInput, path, "no input"), nil
	}

	owner := d.devices.Lookup(path)
	changed, oerr := d.devices.UpdateNode(owner, target, body.Val)
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}
	if changed {
		d.watches.NotifyChange(target, watch.NodeChanged)
	}

	cp, oerr := d.devices.CopyNode(owner, target, model.DefaultExclude)
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}
	return cp, nil
}

// handleInvoke dispatches a POST. Watch and History sub-requests act on
// runtime state that is never materialized into the Object Tree (a
// watch's op children live on its *Watch, a history device's query/
// append live on its *Facility), so those two families are resolved by
// path convention before falling back to a real tree lookup for
// everything else (signUp, signOff, batch, and any device-owned op).
func (d *Dispatcher) handleInvoke(path string, body *model.Node, requesterID string) (*model.Node, *PollResult, *obixerr.Error) {
	if strings.HasPrefix(path, watchServiceHref+"/") {
		return d.handleWatchInvoke(path, body, requesterID)
	}
	if strings.HasPrefix(path, historyServiceHref+"/histories/") {
		return d.handleHistoryInvoke(path, body)
	}

	target := d.tree.Get(path)
	if target == nil {
		return d.errNode(obixerr.NoSuchURI, path, "no such uri"), nil, nil
	}
	if target.Kind != model.Op {
		return d.errNode(obixerr.NoOpNode, path, "not an operation node"), nil, nil
	}

	id := opHandlerID(target)
	switch id {
	case HandlerSignUp:
		n, err := d.doSignUp(body, requesterID)
		return n, nil, err
	case HandlerSignOff:
		n, err := d.doSignOff(path, requesterID)
		return n, nil, err
	case HandlerBatch:
		if d.BatchFunc == nil {
			return d.errNode(obixerr.InvalidState, path, "batch not wired"), nil, nil
		}
		return d.BatchFunc(d, body, requesterID), nil, nil
	default:
		return d.errNode(obixerr.NoMetaNode, path, "operation has no handler id"), nil, nil
	}
}

func (d *Dispatcher) handleWatchInvoke(path string, body *model.Node, requesterID string) (*model.Node, *PollResult, *obixerr.Error) {
	switch {
	case hasSuffixSeg(path, "make"):
		n, err := d.doWatchMake()
		return n, nil, err
	case hasSuffixSeg(path, "add"):
		n, err := d.doWatchOp(path, body, d.watches.Add)
		return n, nil, err
	case hasSuffixSeg(path, "remove"):
		n, err := d.doWatchOp(path, body, d.watches.Remove)
		return n, nil, err
	case hasSuffixSeg(path, "pollRefresh"):
		n, err := d.doWatchPollRefresh(path)
		return n, nil, err
	case hasSuffixSeg(path, "pollChanges"):
		return d.doWatchPollChanges(path)
	case hasSuffixSeg(path, "delete"):
		n, err := d.doWatchDelete(path, requesterID)
		return n, nil, err
	default:
		return d.errNode(obixerr.NoSuchURI, path, "no such watch operation"), nil, nil
	}
}

func (d *Dispatcher) handleHistoryInvoke(path string, body *model.Node) (*model.Node, *PollResult, *obixerr.Error) {
	switch {
	case hasSuffixSeg(path, "query"):
		n, err := d.doHistoryQuery(path, body)
		return n, nil, err
	case hasSuffixSeg(path, "append"):
		n, err := d.doHistoryAppend(path, body)
		return n, nil, err
	default:
		return d.errNode(obixerr.NoSuchURI, path, "no such history operation"), nil, nil
	}
}

func hasSuffixSeg(path, seg string) bool {
	trimmed := strings.TrimSuffix(path, "/")
	return trimmed == seg || strings.HasSuffix(trimmed, "/"+seg)
}

// opHandlerID reads the hidden meta op="<id>" attribute naming the
// handler, per §4.5.
func opHandlerID(op *model.Node) int {
	for _, c := range op.Children {
		if c.Kind == model.Meta && c.Name == "op" {
			id, err := strconv.Atoi(c.Val)
			if err != nil {
				return -1
			}
			return id
		}
	}
	return -1
}

func isDebugPath(path string) bool {
	switch path {
	case "/obix-dump", "/obix-dev-dump", "/obix-dev-cache-dump":
		return true
	}
	return false
}

func (d *Dispatcher) errNode(kind obixerr.Kind, href, display string) *model.Node {
	metrics.DispatchErrors.WithLabelValues(kind.ContractType()).Inc()
	return d.tree.DumpError(kind, href, display)
}
