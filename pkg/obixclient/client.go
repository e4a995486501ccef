// Package obixclient is the client-facing contract of §6.4: a small
// HTTP wrapper offering signUp/signOff/read/write/invoke/watch/history
// operations against a running obixd, without requiring callers to
// build oBIX XML themselves. Grounded on common/cfgapi.Handle: an opaque
// handle wrapping a transport-specific executor, with context.Context
// on every blocking call.
package obixclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"obixd/internal/model"
)

// Handle is a connection to a running obixd instance.
type Handle struct {
	baseURL      string
	requesterID  string
	requesterHdr string
	hc           *http.Client
}

// Option configures a Handle.
type Option func(*Handle)

// WithRequesterID overrides the generated requester id sent with every
// request; by default a random one is generated once per Handle.
func WithRequesterID(id string) Option {
	return func(h *Handle) { h.requesterID = id }
}

// WithHTTPClient overrides the underlying *http.Client, e.g. to set
// timeouts or transport-level TLS config.
func WithHTTPClient(hc *http.Client) Option {
	return func(h *Handle) { h.hc = hc }
}

// New constructs a Handle talking to the obixd instance at baseURL
// (e.g. "http://localhost:8080"); request paths are absolute hrefs such
// as "/obix/signUp".
func New(baseURL string, opts ...Option) *Handle {
	h := &Handle{
		baseURL:      baseURL,
		requesterID:  uuid.NewString(),
		requesterHdr: "X-Requester-Id",
		hc:           &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handle) do(ctx context.Context, method, path string, body *model.Node) (*model.Node, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(model.EncodeXML(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, rdr)
	if err != nil {
		return nil, errors.Wrap(err, "obixclient: build request")
	}
	req.Header.Set(h.requesterHdr, h.requesterID)
	if body != nil {
		req.Header.Set("Content-Type", "text/xml")
	}

	resp, err := h.hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "obixclient: request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "obixclient: read response")
	}
	if len(data) == 0 {
		return nil, nil
	}
	n, err := model.DecodeXML(data)
	if err != nil {
		return nil, errors.Wrap(err, "obixclient: decode response")
	}
	if n != nil && strings.HasSuffix(n.Is, "Contract") {
		return nil, &ContractError{Display: errDisplay(n), Href: n.Href}
	}
	return n, nil
}

// ContractError wraps an oBIX err contract returned by the server.
type ContractError struct {
	Href    string
	Display string
}

// errDisplay extracts the "display" child's value from an error contract
// node, falling back to the node's own Is if no such child is present.
func errDisplay(n *model.Node) string {
	for _, c := range n.Children {
		if c.Name == "display" {
			return c.Val
		}
	}
	return n.Is
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("obix error at %s: %s", e.Href, e.Display)
}

// Read performs a GET against href.
func (h *Handle) Read(ctx context.Context, href string) (*model.Node, error) {
	return h.do(ctx, http.MethodGet, href, nil)
}

// Write performs a PUT against href with the given value node.
func (h *Handle) Write(ctx context.Context, href string, value *model.Node) (*model.Node, error) {
	return h.do(ctx, http.MethodPut, href, value)
}

// Invoke performs a POST against an operation href, optionally with an
// input contract.
func (h *Handle) Invoke(ctx context.Context, href string, in *model.Node) (*model.Node, error) {
	return h.do(ctx, http.MethodPost, href, in)
}

// SignUp registers device as a new subtree of /obix/deviceRoot.
func (h *Handle) SignUp(ctx context.Context, device *model.Node) (*model.Node, error) {
	return h.Invoke(ctx, "/obix/signUp", device)
}

// SignOff removes the device at deviceHref.
func (h *Handle) SignOff(ctx context.Context, deviceHref string) error {
	_, err := h.Invoke(ctx, deviceHref+"/signOff", nil)
	return err
}

// WatchMake creates a new watch and returns its href.
func (h *Handle) WatchMake(ctx context.Context) (string, error) {
	ref, err := h.Invoke(ctx, "/obix/watchService/make", nil)
	if err != nil {
		return "", err
	}
	return ref.Val, nil
}

// WatchAdd adds hrefs to the watch at watchHref.
func (h *Handle) WatchAdd(ctx context.Context, watchHref string, hrefs []string) (*model.Node, error) {
	return h.Invoke(ctx, watchHref+"add", hrefsIn(hrefs))
}

// WatchRemove removes hrefs from the watch at watchHref.
func (h *Handle) WatchRemove(ctx context.Context, watchHref string, hrefs []string) (*model.Node, error) {
	return h.Invoke(ctx, watchHref+"remove", hrefsIn(hrefs))
}

// WatchPollChanges long-polls for a change notification.
func (h *Handle) WatchPollChanges(ctx context.Context, watchHref string) (*model.Node, error) {
	return h.Invoke(ctx, watchHref+"pollChanges", nil)
}

// WatchPollRefresh returns the watch's full current state.
func (h *Handle) WatchPollRefresh(ctx context.Context, watchHref string) (*model.Node, error) {
	return h.Invoke(ctx, watchHref+"pollRefresh", nil)
}

// WatchDelete tears down the watch at watchHref.
func (h *Handle) WatchDelete(ctx context.Context, watchHref string) error {
	_, err := h.Invoke(ctx, watchHref+"delete", nil)
	return err
}

func hrefsIn(hrefs []string) *model.Node {
	in := &model.Node{Kind: model.Obj, Is: "obix:WatchIn"}
	hrefsList := &model.Node{Kind: model.List, Name: "hrefs", Of: model.URI}
	for _, href := range hrefs {
		hrefsList.AddChild(&model.Node{Kind: model.URI, Val: href})
	}
	in.AddChild(hrefsList)
	return in
}

// HistoryAppend appends records to devID's history facility.
func (h *Handle) HistoryAppend(ctx context.Context, devID string, records *model.Node) (*model.Node, error) {
	return h.Invoke(ctx, "/obix/historyService/histories/"+devID+"/append", records)
}

// HistoryQuery queries devID's history facility.
func (h *Handle) HistoryQuery(ctx context.Context, devID string, filter *model.Node) (*model.Node, error) {
	return h.Invoke(ctx, "/obix/historyService/histories/"+devID+"/query", filter)
}
