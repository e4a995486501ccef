// Package http is the ambient HTTP transport adaptor of SPEC_FULL.md's
// transport section: it turns GET/PUT/POST under the configured prefix
// into Dispatcher.Handle calls. Grounded on ap.httpd/ap.httpd.go's
// gorilla/mux router construction; FastCGI itself remains out of scope
// per spec.md §1.
package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"obixd/internal/dispatch"
	"obixd/internal/model"
	"obixd/internal/obixutil"
)

// Server wraps a Dispatcher behind an HTTP transport.
type Server struct {
	d            *dispatch.Dispatcher
	router       *mux.Router
	requesterHdr string
	log          *zap.SugaredLogger
	pollTimeout  time.Duration
}

// Config configures the HTTP transport.
type Config struct {
	Prefix          string // typically "/obix"
	RequesterHeader string // header carrying the transport-supplied requester id
	PollTimeout     time.Duration
}

// New constructs the HTTP transport and wires its routes.
func New(d *dispatch.Dispatcher, cfg Config, log *zap.SugaredLogger) *Server {
	if cfg.RequesterHeader == "" {
		cfg.RequesterHeader = "X-Requester-Id"
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 2 * time.Minute
	}

	s := &Server{d: d, router: mux.NewRouter(), requesterHdr: cfg.RequesterHeader, log: log, pollTimeout: cfg.PollTimeout}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/obix"
	}

	s.router.PathPrefix(prefix).Methods(http.MethodGet).HandlerFunc(s.handleGET)
	s.router.PathPrefix(prefix).Methods(http.MethodPut).HandlerFunc(s.handlePUT)
	s.router.PathPrefix(prefix).Methods(http.MethodPost).HandlerFunc(s.handlePOST)
	s.router.HandleFunc("/debug/loglevel", s.handleLogLevel).Methods(http.MethodPost)

	return s
}

// Handler returns the root http.Handler for this transport.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requesterID(r *http.Request) string {
	return r.Header.Get(s.requesterHdr)
}

// writeResult replies 200 with the serialised node, per §6.1: the core
// never emits HTTP 4xx/5xx, even for an err contract body.
func (s *Server) writeResult(w http.ResponseWriter, path string, n *model.Node) {
	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set("Content-Location", path)
	body := encodeXML(n)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleGET(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	n, _, oerr := s.d.Handle(dispatch.Read, path, nil, s.requesterID(r))
	if oerr != nil {
		s.log.Errorw("read failed", "path", path, "err", oerr)
	}
	s.writeResult(w, path, n)
}

func (s *Server) handlePUT(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	body, err := decodeXMLBody(r.Body)
	if err != nil {
		s.writeResult(w, path, &model.Node{Kind: model.Obj, Is: "obix:err", Val: "invalid-input"})
		return
	}
	n, _, oerr := s.d.Handle(dispatch.Write, path, body, s.requesterID(r))
	if oerr != nil {
		s.log.Errorw("write failed", "path", path, "err", oerr)
	}
	s.writeResult(w, path, n)
}

func (s *Server) handlePOST(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	body, _ := decodeXMLBody(r.Body)

	n, poll, oerr := s.d.Handle(dispatch.Invoke, path, body, s.requesterID(r))
	if oerr != nil {
		s.log.Errorw("invoke failed", "path", path, "err", oerr)
	}
	if poll != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.pollTimeout)
		defer cancel()
		select {
		case result := <-poll.Reply:
			s.writeResult(w, path, result)
		case <-ctx.Done():
			s.writeResult(w, path, &model.Node{Kind: model.List, Name: "values"})
		}
		return
	}
	s.writeResult(w, path, n)
}

func (s *Server) handleLogLevel(w http.ResponseWriter, r *http.Request) {
	level := r.URL.Query().Get("level")
	if err := obixutil.SetLevel(level); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func decodeXMLBody(r io.Reader) (*model.Node, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	if buf.Len() == 0 {
		return nil, nil
	}
	return model.DecodeXML(buf.Bytes())
}

func encodeXML(n *model.Node) []byte {
	if n == nil {
		return nil
	}
	return model.EncodeXML(n)
}

