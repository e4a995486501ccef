package dispatch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"obixd/internal/history"
	"obixd/internal/model"
	"obixd/internal/obixerr"
	"obixd/internal/watch"
)

func (d *Dispatcher) doSignUp(body *model.Node, requesterID string) (*model.Node, *obixerr.Error) {
	if requesterID == "" {
		return d.errNode(obixerr.NoRequesterID, "", "requester id required"), nil
	}
	if body == nil {
		return d.errNode(obixerr.NoInput, "", "signUp requires a body"), nil
	}

	body.Writable = false
	href := body.Href
	if !strings.HasPrefix(href, "/") {
		href = deviceRootHref + "/" + href
	}
	normalizeChildHrefs(body)

	desc, oerr := d.devices.Add(body, href, requesterID, true)
	if oerr != nil {
		return d.errNode(oerr.Kind, href, oerr.Display), nil
	}
	installSignOffOp(desc.Node())
	d.watches.NotifyChange(desc.Node().Parent, watch.NodeChanged)

	cp, oerr := d.devices.CopyNode(desc, desc.Node(), model.DefaultExclude)
	if oerr != nil {
		return d.errNode(oerr.Kind, href, oerr.Display), nil
	}
	cp.Href = href
	return cp, nil
}

// installSignOffOp attaches a hidden signOff invoke op to a newly
// signed-up device, so later signOff calls can be resolved purely from
// the request path by opParentDevicePath.
func installSignOffOp(device *model.Node) {
	device.AddChild(&model.Node{
		Kind: model.Op, Name: "signOff", Href: "signOff", Hidden: true,
		Children: []*model.Node{{Kind: model.Meta, Name: "op", Val: strconv.Itoa(HandlerSignOff)}},
	})
}

// normalizeChildHrefs rewrites absolute hrefs on direct children to
// single segments before insertion, per §4.5.
func normalizeChildHrefs(n *model.Node) {
	for _, c := range n.Children {
		if strings.HasPrefix(c.Href, "/") {
			segs := strings.Split(strings.Trim(c.Href, "/"), "/")
			c.Href = segs[len(segs)-1]
		}
	}
}

func (d *Dispatcher) doSignOff(path string, requesterID string) (*model.Node, *obixerr.Error) {
	if requesterID == "" {
		return d.errNode(obixerr.NoRequesterID, path, "requester id required"), nil
	}
	target := opParentDevicePath(path)
	desc := d.devices.Lookup(target)
	if desc == nil || desc.Href() != target {
		return d.errNode(obixerr.DeviceNoSuchURI, target, "no such device"), nil
	}

	parentNode := desc.Node().Parent
	if oerr := d.devices.Remove(desc, requesterID, true); oerr != nil {
		return d.errNode(oerr.Kind, target, oerr.Display), nil
	}
	d.watches.NotifyChange(parentNode, watch.NodeChanged)
	return &model.Node{Kind: model.Obj}, nil
}

// opParentDevicePath strips a trailing "/signOff" segment to recover the
// device path the op hangs off: signOff is a hidden op installed under
// each signed-up device (installSignOffOp), so the request path is
// /obix/deviceRoot/<...>/signOff.
func opParentDevicePath(path string) string {
	return strings.TrimSuffix(path, "/signOff")
}

func (d *Dispatcher) doWatchMake() (*model.Node, *obixerr.Error) {
	w, oerr := d.watches.Make()
	if oerr != nil {
		return d.errNode(oerr.Kind, "", oerr.Display), nil
	}
	return &model.Node{Kind: model.Ref, Name: "watch" + strconv.Itoa(w.ID), Val: w.Href}, nil
}

func (d *Dispatcher) watchFromPath(path string) (*watch.Watch, *obixerr.Error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for _, seg := range segs {
		if strings.HasPrefix(seg, "watch") {
			idStr := strings.TrimPrefix(seg, "watch")
			id, err := strconv.Atoi(idStr)
			if err != nil {
				continue
			}
			w := d.watches.Get(id)
			if w == nil {
				return nil, obixerr.New(obixerr.WatchNoSuchURI, path, "no such watch")
			}
			return w, nil
		}
	}
	return nil, obixerr.New(obixerr.WatchNoSuchURI, path, "no such watch")
}

func hrefsFromWatchIn(body *model.Node) []string {
	var out []string
	if body == nil {
		return out
	}
	for _, c := range body.Children {
		if c.Kind == model.URI {
			out = append(out, c.Val)
		} else if c.Kind == model.List && c.Name == "hrefs" {
			for _, u := range c.Children {
				if u.Kind == model.URI {
					out = append(out, u.Val)
				}
			}
		}
	}
	return out
}

func (d *Dispatcher) doWatchOp(path string, body *model.Node, op func(*watch.Watch, []string) (*model.Node, *obixerr.Error)) (*model.Node, *obixerr.Error) {
	w, oerr := d.watchFromPath(path)
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}

	out, oerr := op(w, hrefsFromWatchIn(body))
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}
	return out, nil
}

func (d *Dispatcher) doWatchPollRefresh(path string) (*model.Node, *obixerr.Error) {
	w, oerr := d.watchFromPath(path)
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}

	out, oerr := d.watches.PollRefresh(w)
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}
	return out, nil
}

func (d *Dispatcher) doWatchPollChanges(path string) (*model.Node, *PollResult, *obixerr.Error) {
	w, oerr := d.watchFromPath(path)
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil, nil
	}

	out, reply, oerr := d.watches.PollChanges(w)
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil, nil
	}
	if reply != nil {
		return nil, &PollResult{Reply: reply}, nil
	}
	return out, nil, nil
}

func (d *Dispatcher) doWatchDelete(path, requesterID string) (*model.Node, *obixerr.Error) {
	w, oerr := d.watchFromPath(path)
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}
	if oerr := d.watches.Delete(w, requesterID); oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}
	return &model.Node{Kind: model.Obj}, nil
}

func historyDevID(path string) string {
	trimmed := strings.TrimPrefix(path, historyServiceHref+"/histories/")
	trimmed = strings.Split(trimmed, "/")[0]
	return trimmed
}

func (d *Dispatcher) doHistoryGet(path string) (*model.Node, *obixerr.Error) {
	devID := historyDevID(path)
	f, oerr := d.hist.Get(devID)
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}
	node, oerr := d.tree.InsertTemplate("history-device")
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}
	node.Href = f.DevID()
	return node, nil
}

func (d *Dispatcher) doHistoryQuery(path string, body *model.Node) (*model.Node, *obixerr.Error) {
	devID := historyDevID(path)
	f, oerr := d.hist.Get(devID)
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}

	filter := parseHistoryFilter(body)
	res, oerr := f.Query(filter)
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}

	out, _ := d.tree.InsertTemplate("history-device")
	out.Is = "obix:HistoryQueryOut"
	out.AddChild(&model.Node{Kind: model.Int, Name: "count", Val: strconv.Itoa(res.Count)})
	out.AddChild(&model.Node{Kind: model.AbsTime, Name: "start", Val: res.Start.Format(timeLayoutUTC)})
	out.AddChild(&model.Node{Kind: model.AbsTime, Name: "end", Val: res.End.Format(timeLayoutUTC)})
	data := &model.Node{Kind: model.List, Name: "data"}
	for _, frag := range res.Body.Fragments() {
		data.AddChild(&model.Node{Kind: model.Obj, Val: string(frag)})
	}
	out.AddChild(data)
	return out, nil
}

const timeLayoutUTC = "2006-01-02T15:04:05Z07:00"

func parseHistoryFilter(body *model.Node) history.Filter {
	f := history.Filter{Limit: -1}
	if body == nil {
		return f
	}
	for _, c := range body.Children {
		switch c.Name {
		case "limit":
			if n, err := strconv.Atoi(c.Val); err == nil {
				f.Limit = n
			}
		case "start":
			if t, err := time.Parse(timeLayoutUTC, c.Val); err == nil {
				f.HasStart, f.Start = true, t
			}
		case "end":
			if t, err := time.Parse(timeLayoutUTC, c.Val); err == nil {
				f.HasEnd, f.End = true, t
			}
		}
	}
	return f
}

func (d *Dispatcher) doHistoryAppend(path string, body *model.Node) (*model.Node, *obixerr.Error) {
	devID := historyDevID(path)
	f, oerr := d.hist.Get(devID)
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}

	records, err := recordsFromAppendIn(body)
	if err != nil {
		return d.errNode(obixerr.InvalidInput, path, err.Error()), nil
	}

	res, oerr := f.Append(records)
	if oerr != nil {
		return d.errNode(oerr.Kind, path, oerr.Display), nil
	}

	out, _ := d.tree.InsertTemplate("history-append-out")
	for _, c := range out.Children {
		switch c.Name {
		case "numAdded":
			c.Val = strconv.Itoa(res.NumAdded)
		case "newCount":
			c.Val = strconv.Itoa(res.NewCount)
		case "newStart":
			c.Val = res.NewStart.Format(timeLayoutUTC)
		case "newEnd":
			c.Val = res.NewEnd.Format(timeLayoutUTC)
		}
	}
	return out, nil
}

func recordsFromAppendIn(body *model.Node) ([]history.Record, error) {
	var out []history.Record
	if body == nil {
		return out, nil
	}
	for _, c := range body.Children {
		ts, err := parseRecordTimestamp(c)
		if err != nil {
			return nil, err
		}
		out = append(out, history.Record{Timestamp: ts, XML: encodeRecord(c)})
	}
	return out, nil
}

func parseRecordTimestamp(rec *model.Node) (time.Time, error) {
	for _, c := range rec.Children {
		if c.Name == "timestamp" {
			return time.Parse(timeLayoutUTC, c.Val)
		}
	}
	return time.Time{}, fmt.Errorf("history record missing timestamp")
}

func encodeRecord(rec *model.Node) string {
	var sb strings.Builder
	sb.WriteString(`<obj is="obix:HistoryRecord">`)
	for _, c := range rec.Children {
		fmt.Fprintf(&sb, `<%s name=%q val=%q/>`, c.Kind.String(), c.Name, c.Val)
	}
	sb.WriteString(`</obj>`)
	return sb.String()
}
