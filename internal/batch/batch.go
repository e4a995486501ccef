// Package batch implements the Batch request multiplexer of §4.6:
// independent per-sub-request dispatch with a single device flush at the
// end. Grounded directly on the teacher's
// ap.configd/metrics.go:metricsPropHandler, which already implements
// "iterate a list of sub-operations in order, apply each independently,
// collect results" for its own domain; unlike that handler's
// changeset-commit-or-revert pattern, Batch does not roll back on a
// sub-request error (each sub-request carries its own error contract
// instead, per original_source/src/server/batch.c).
package batch

import (
	"obixd/internal/dispatch"
	"obixd/internal/metrics"
	"obixd/internal/model"
	"obixd/internal/obixerr"
)

// Execute runs every sub-request of in (an obix:BatchIn list) against d
// in order, appending each result (or error contract) to an
// obix:BatchOut list. If any Write sub-request touched a device, that
// first device is flushed once at the end, per §4.6.
func Execute(d *dispatch.Dispatcher, tree treeIface, in *model.Node, requesterID string) *model.Node {
	out := &model.Node{Kind: model.List, Is: "obix:BatchOut"}

	if in == nil {
		return out
	}

	var flushHref string
	for _, item := range in.Children {
		result, touchedHref, isWrite := processItem(d, tree, item, requesterID)
		out.AddChild(result)

		if isWrite && flushHref == "" {
			flushHref = touchedHref
		}
	}

	if flushHref != "" {
		if owner := d.Devices().Lookup(flushHref); owner != nil {
			_ = d.Devices().WriteFile(owner, false)
		}
	}
	return out
}

// treeIface is the minimal surface batch needs from the Object Tree for
// error-node construction, kept as an interface to avoid importing
// objtree directly (dispatch already wraps it).
type treeIface interface {
	DumpError(kind obixerr.Kind, href, display string) *model.Node
}

func processItem(d *dispatch.Dispatcher, tree treeIface, item *model.Node, requesterID string) (result *model.Node, href string, isWrite bool) {
	metrics.BatchSubRequests.Inc()
	href = item.Val
	verb, err := subRequestVerb(item.Is)
	if err != nil {
		return tree.DumpError(obixerr.InvalidInput, href, err.Error()), href, false
	}
	isWrite = verb == dispatch.Write

	if isRecursiveBatch(href) {
		return tree.DumpError(obixerr.BatchRecursive, href, "batch may not recurse into batch"), href, false
	}
	if isHistoryEndpoint(href) {
		return tree.DumpError(obixerr.BatchHistory, href, "batch may not recurse into history endpoints"), href, false
	}
	if isPollChanges(href) {
		return tree.DumpError(obixerr.BatchPollChanges, href, "batch may not recurse into pollChanges"), href, false
	}

	var body *model.Node
	if len(item.Children) > 0 {
		body = item.Children[0]
	}

	out, poll, oerr := d.Handle(verb, href, body, requesterID)
	if oerr != nil {
		return tree.DumpError(oerr.Kind, href, oerr.Display), href, false
	}
	if poll != nil {
		// pollChanges is excluded above, but guard defensively: a parked
		// task inside a batch would deadlock response multiplexing.
		return tree.DumpError(obixerr.BatchPollChanges, href, "unexpected parked poll inside batch"), href, false
	}
	return out, href, isWrite
}

func subRequestVerb(is string) (dispatch.Verb, error) {
	switch is {
	case "obix:Read":
		return dispatch.Read, nil
	case "obix:Write":
		return dispatch.Write, nil
	case "obix:Invoke":
		return dispatch.Invoke, nil
	default:
		return 0, errUnknownVerb(is)
	}
}

type errUnknownVerb string

func (e errUnknownVerb) Error() string { return "unknown batch sub-request verb: " + string(e) }

func isRecursiveBatch(href string) bool {
	return hasSuffixSeg(href, "batch")
}

func isHistoryEndpoint(href string) bool {
	return containsSeg(href, "historyService")
}

func isPollChanges(href string) bool {
	return hasSuffixSeg(href, "pollChanges")
}

func hasSuffixSeg(href, seg string) bool {
	return len(href) >= len(seg) && href[len(href)-len(seg):] == seg
}

func containsSeg(href, seg string) bool {
	for i := 0; i+len(seg) <= len(href); i++ {
		if href[i:i+len(seg)] == seg {
			return true
		}
	}
	return false
}
