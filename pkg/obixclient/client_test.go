package obixclient

import (
	"context"
	"net/http/httptest"
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
	obixhttp "obixd/internal/transport/http"
	"obixd/internal/watch"
)

func newTestHandle(t *testing.T) *Handle {
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
	transport := obixhttp.New(d, obixhttp.Config{Prefix: "/obix", PollTimeout: 500 * time.Millisecond}, zap.NewNop().Sugar())

	srv := httptest.NewServer(transport.Handler())
	t.Cleanup(srv.Close)

	return New(srv.URL, WithRequesterID("alice"))
}

func TestSignUpReadSignOff(t *testing.T) {
	assert := require.New(t)
	h := newTestHandle(t)
	ctx := context.Background()

	dev := &model.Node{Kind: model.Obj, Href: "/obix/deviceRoot/dev1", Is: "obix:Device"}
	_, err := h.SignUp(ctx, dev)
	assert.Nil(err)

	got, err := h.Read(ctx, "/obix/deviceRoot/dev1")
	assert.Nil(err)
	assert.Equal("obix:Device", got.Is)

	err = h.SignOff(ctx, "/obix/deviceRoot/dev1")
	assert.Nil(err)
}

func TestReadUnknownPathReturnsContractError(t *testing.T) {
	assert := require.New(t)
	h := newTestHandle(t)
	ctx := context.Background()

	_, err := h.Read(ctx, "/obix/no-such-path")
	assert.NotNil(err)
	cerr, ok := err.(*ContractError)
	assert.True(ok)
	assert.NotEmpty(cerr.Display)
}

func TestWatchMakeAddAndPollRefresh(t *testing.T) {
	assert := require.New(t)
	h := newTestHandle(t)
	ctx := context.Background()

	dev := &model.Node{Kind: model.Obj, Href: "/obix/deviceRoot/dev1", Is: "obix:Device"}
	dev.AddChild(&model.Node{Kind: model.Bool, Name: "point1", Href: "point1", Val: "false"})
	_, err := h.SignUp(ctx, dev)
	assert.Nil(err)

	watchHref, err := h.WatchMake(ctx)
	assert.Nil(err)
	assert.NotEmpty(watchHref)

	_, err = h.WatchAdd(ctx, watchHref, []string{"/obix/deviceRoot/dev1/point1"})
	assert.Nil(err)

	out, err := h.WatchPollRefresh(ctx, watchHref)
	assert.Nil(err)
	assert.Len(out.Children, 1)

	err = h.WatchDelete(ctx, watchHref)
	assert.Nil(err)
}
