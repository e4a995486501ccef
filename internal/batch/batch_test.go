package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"obixd/internal/device"
	"obixd/internal/dispatch"
	"obixd/internal/history"
	"obixd/internal/model"
	"obixd/internal/objtree"
	"obixd/internal/ptask"
	"obixd/internal/watch"
)

func newTestDispatcher(t *testing.T) (*dispatch.Dispatcher, *objtree.Tree) {
	tr := objtree.New()
	tr.InstallDefaultTemplates()
	deviceRoot, watchService, _ := tr.InstallLobby()

	devices := device.New(tr, deviceRoot, device.Config{
		ResourceDir: t.TempDir(), BackupPeriod: time.Hour, CacheSize: 16,
	}, zap.NewNop().Sugar())

	sched := ptask.New()
	t.Cleanup(sched.Stop)

	watches := watch.New(tr, sched, watch.Config{
		ServiceNode: watchService, DefaultLease: time.Hour, BacklogWorkers: 2,
	}, zap.NewNop().Sugar())

	hist := history.New(t.TempDir(), zap.NewNop().Sugar())

	d := dispatch.New(tr, devices, watches, hist, zap.NewNop().Sugar())
	d.BatchFunc = func(d *dispatch.Dispatcher, in *model.Node, requesterID string) *model.Node {
		return Execute(d, tr, in, requesterID)
	}
	return d, tr
}

func subReq(is, href string, body *model.Node) *model.Node {
	n := &model.Node{Kind: model.Obj, Is: is, Val: href}
	if body != nil {
		n.AddChild(body)
	}
	return n
}

func TestExecuteRunsReadAndWriteInOrder(t *testing.T) {
	assert := require.New(t)
	d, _ := newTestDispatcher(t)

	devBody := &model.Node{Kind: model.Obj, Href: "/obix/deviceRoot/dev1", Is: "obix:Device"}
	devBody.AddChild(&model.Node{Kind: model.Str, Name: "name", Href: "name", Val: "old"})
	_, _, err := d.Handle(dispatch.Invoke, "/obix/signUp", devBody, "alice")
	assert.Nil(err)

	in := &model.Node{Kind: model.List, Is: "obix:BatchIn"}
	in.AddChild(subReq("obix:Read", "/obix/deviceRoot/dev1", nil))
	in.AddChild(subReq("obix:Write", "/obix/deviceRoot/dev1/name", &model.Node{Kind: model.Str, Val: "new"}))

	out, _, oerr := d.Handle(dispatch.Invoke, "/obix/batch", in, "alice")
	assert.Nil(oerr)
	assert.Equal("obix:BatchOut", out.Is)
	assert.Len(out.Children, 2)
}

func TestExecuteRejectsRecursiveBatch(t *testing.T) {
	assert := require.New(t)
	d, _ := newTestDispatcher(t)

	in := &model.Node{Kind: model.List, Is: "obix:BatchIn"}
	in.AddChild(subReq("obix:Invoke", "/obix/batch", nil))

	out, _, oerr := d.Handle(dispatch.Invoke, "/obix/batch", in, "alice")
	assert.Nil(oerr)
	assert.Len(out.Children, 1)
	assert.Contains(out.Children[0].Is, "Batch")
}

func TestExecuteRejectsUnknownVerb(t *testing.T) {
	assert := require.New(t)
	d, _ := newTestDispatcher(t)

	in := &model.Node{Kind: model.List, Is: "obix:BatchIn"}
	in.AddChild(subReq("obix:Bogus", "/obix/about", nil))

	out, _, oerr := d.Handle(dispatch.Invoke, "/obix/batch", in, "alice")
	assert.Nil(oerr)
	assert.Len(out.Children, 1)
}

func TestExecuteWriteSubRequestWithNoBodyReturnsErrorInsteadOfPanicking(t *testing.T) {
	assert := require.New(t)
	d, _ := newTestDispatcher(t)

	devBody := &model.Node{Kind: model.Obj, Href: "/obix/deviceRoot/dev1", Is: "obix:Device"}
	devBody.AddChild(&model.Node{Kind: model.Str, Name: "name", Href: "name", Val: "old"})
	_, _, err := d.Handle(dispatch.Invoke, "/obix/signUp", devBody, "alice")
	assert.Nil(err)

	in := &model.Node{Kind: model.List, Is: "obix:BatchIn"}
	in.AddChild(subReq("obix:Write", "/obix/deviceRoot/dev1/name", nil))

	out, _, oerr := d.Handle(dispatch.Invoke, "/obix/batch", in, "alice")
	assert.Nil(oerr)
	assert.Len(out.Children, 1)
	assert.Equal("obix:NoInputContract", out.Children[0].Is)
}

func TestExecuteEmptyBatch(t *testing.T) {
	assert := require.New(t)
	d, _ := newTestDispatcher(t)

	out, _, oerr := d.Handle(dispatch.Invoke, "/obix/batch", nil, "alice")
	assert.Nil(oerr)
	assert.Len(out.Children, 0)
}
