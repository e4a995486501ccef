package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"obixd/internal/device"
	"obixd/internal/history"
	"obixd/internal/model"
	"obixd/internal/objtree"
	"obixd/internal/ptask"
	"obixd/internal/watch"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
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

	return New(tr, devices, watches, hist, zap.NewNop().Sugar())
}

func TestHandleReadUnknownPath(t *testing.T) {
	assert := require.New(t)
	d := newTestDispatcher(t)

	n, poll, err := d.Handle(Read, "/nope", nil, "alice")
	assert.Nil(poll)
	assert.Nil(err)
	assert.Equal("obix:BadUriContract", n.Is)
}

func TestHandleWriteNilBodyReturnsErrorInsteadOfPanicking(t *testing.T) {
	assert := require.New(t)
	d := newTestDispatcher(t)

	body := &model.Node{Kind: model.Obj, Href: "/obix/deviceRoot/dev1", Is: "obix:Device"}
	body.AddChild(&model.Node{Kind: model.Bool, Name: "point1", Href: "point1", Val: "false"})
	_, _, err := d.Handle(Invoke, "/obix/signUp", body, "alice")
	assert.Nil(err)

	n, _, err := d.Handle(Write, "/obix/deviceRoot/dev1/point1", nil, "alice")
	assert.Nil(err)
	assert.Equal("obix:NoInputContract", n.Is)
}

func TestSignUpThenSignOff(t *testing.T) {
	assert := require.New(t)
	d := newTestDispatcher(t)

	body := &model.Node{Kind: model.Obj, Href: "/obix/deviceRoot/dev1", Is: "obix:Device"}
	n, _, err := d.Handle(Invoke, "/obix/signUp", body, "alice")
	assert.Nil(err)
	assert.Equal("/obix/deviceRoot/dev1", n.Href)

	got, _, err := d.Handle(Read, "/obix/deviceRoot/dev1", nil, "alice")
	assert.Nil(err)
	assert.Equal("obix:Device", got.Is)

	_, _, err = d.Handle(Invoke, "/obix/deviceRoot/dev1/signOff", nil, "alice")
	assert.Nil(err)

	_, _, err = d.Handle(Read, "/obix/deviceRoot/dev1", nil, "alice")
	assert.Nil(err)
}

func TestSignUpRequiresRequesterID(t *testing.T) {
	assert := require.New(t)
	d := newTestDispatcher(t)

	body := &model.Node{Kind: model.Obj, Href: "/obix/deviceRoot/dev1"}
	n, _, err := d.Handle(Invoke, "/obix/signUp", body, "")
	assert.Nil(err)
	assert.Equal("obix:NoRequesterIdContract", n.Is)
}

func TestWatchMakeAddAndPollRefresh(t *testing.T) {
	assert := require.New(t)
	d := newTestDispatcher(t)

	body := &model.Node{Kind: model.Obj, Href: "/obix/deviceRoot/dev1", Is: "obix:Device"}
	body.AddChild(&model.Node{Kind: model.Bool, Name: "point1", Href: "point1", Val: "false"})
	_, _, err := d.Handle(Invoke, "/obix/signUp", body, "alice")
	assert.Nil(err)

	made, _, err := d.Handle(Invoke, "/obix/watchService/make", nil, "alice")
	assert.Nil(err)
	assert.Equal(model.Ref, made.Kind)

	watchPath := made.Val

	addIn := &model.Node{Kind: model.Obj}
	addIn.AddChild(&model.Node{Kind: model.URI, Val: "/obix/deviceRoot/dev1/point1"})
	addOut, _, err := d.Handle(Invoke, watchPath+"add", addIn, "alice")
	assert.Nil(err)
	assert.Len(addOut.Children, 1)

	refreshOut, _, err := d.Handle(Invoke, watchPath+"pollRefresh", nil, "alice")
	assert.Nil(err)
	assert.Len(refreshOut.Children, 1)
}

func TestHistoryAppendThenQuery(t *testing.T) {
	assert := require.New(t)
	d := newTestDispatcher(t)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Format(timeLayoutUTC)
	appendIn := &model.Node{Kind: model.List}
	rec := &model.Node{Kind: model.Obj}
	rec.AddChild(&model.Node{Kind: model.AbsTime, Name: "timestamp", Val: ts})
	appendIn.AddChild(rec)

	out, _, err := d.Handle(Invoke, "/obix/historyService/histories/dev1/append", appendIn, "alice")
	assert.Nil(err)
	assert.NotNil(out)

	queryOut, _, err := d.Handle(Invoke, "/obix/historyService/histories/dev1/query", nil, "alice")
	assert.Nil(err)
	assert.Equal("obix:HistoryQueryOut", queryOut.Is)
}
