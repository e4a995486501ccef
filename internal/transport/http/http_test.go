package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"obixd/internal/device"
	"obixd/internal/dispatch"
	"obixd/internal/history"
	"obixd/internal/objtree"
	"obixd/internal/ptask"
	"obixd/internal/watch"
)

func newTestServer(t *testing.T) *httptest.Server {
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

	transport := New(d, Config{Prefix: "/obix", PollTimeout: time.Second}, zap.NewNop().Sugar())
	srv := httptest.NewServer(transport.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleGETReturnsOKEvenForUnknownPath(t *testing.T) {
	assert := require.New(t)
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/obix/no-such-path")
	assert.Nil(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)
}

func TestHandlePOSTSignUpRoundTrips(t *testing.T) {
	assert := require.New(t)
	srv := newTestServer(t)

	body := `<obj href="/obix/deviceRoot/dev1" is="obix:Device"/>`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/obix/signUp", strings.NewReader(body))
	assert.Nil(err)
	req.Header.Set("X-Requester-Id", "alice")

	resp, err := http.DefaultClient.Do(req)
	assert.Nil(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)

	getResp, err := http.Get(srv.URL + "/obix/deviceRoot/dev1")
	assert.Nil(err)
	defer getResp.Body.Close()
	assert.Equal(http.StatusOK, getResp.StatusCode)
}

func TestHandlePUTEmptyBodyReturnsErrorInsteadOfPanicking(t *testing.T) {
	assert := require.New(t)
	srv := newTestServer(t)

	signUp := `<obj href="/obix/deviceRoot/dev1" is="obix:Device"><bool name="point1" href="point1" val="false"/></obj>`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/obix/signUp", strings.NewReader(signUp))
	assert.Nil(err)
	req.Header.Set("X-Requester-Id", "alice")
	resp, err := http.DefaultClient.Do(req)
	assert.Nil(err)
	resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)

	putReq, err := http.NewRequest(http.MethodPut, srv.URL+"/obix/deviceRoot/dev1/point1", nil)
	assert.Nil(err)
	putResp, err := http.DefaultClient.Do(putReq)
	assert.Nil(err)
	defer putResp.Body.Close()
	assert.Equal(http.StatusOK, putResp.StatusCode)

	out, err := io.ReadAll(putResp.Body)
	assert.Nil(err)
	assert.Contains(string(out), "obix:NoInputContract")
}

func TestHandleLogLevelUpdatesAtomicLevel(t *testing.T) {
	assert := require.New(t)
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/debug/loglevel?level=debug", "", nil)
	assert.Nil(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)

	resp2, err := http.Post(srv.URL+"/debug/loglevel?level=bogus", "", nil)
	assert.Nil(err)
	defer resp2.Body.Close()
	assert.Equal(http.StatusBadRequest, resp2.StatusCode)
}
