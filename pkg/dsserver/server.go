package dsserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"skyclaw/pkg/ds"
)

const streamPathPrefix = "/v1/stream/"

// Server exposes a Store over HTTP:
//
//	PUT  /v1/stream/{path}           create (409 when it exists)
//	POST /v1/stream/{path}           append raw JSON body (404 unknown)
//	GET  /v1/stream/{path}?offset=N  newline-delimited records after N,
//	                                 next offset in X-Stream-Next-Offset
type Server struct {
	store *Store
	log   *slog.Logger

	httpServer *http.Server
	baseURL    string
}

// NewServer wraps a store. The server is not listening until Start.
func NewServer(store *Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store: store,
		log:   log.With("component", "dsserver"),
	}
}

// Handler returns the HTTP handler, also usable when mounted in-process.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.PathPrefix(streamPathPrefix).Methods(http.MethodPut).HandlerFunc(s.handleCreate)
	router.PathPrefix(streamPathPrefix).Methods(http.MethodPost).HandlerFunc(s.handleAppend)
	router.PathPrefix(streamPathPrefix).Methods(http.MethodGet).HandlerFunc(s.handleRead)
	return router
}

// Start listens on addr (host:port) and serves until ctx is canceled.
// It returns once the listener is bound; serve errors are reported on errCh.
func (s *Server) Start(ctx context.Context, addr string, errCh chan<- error) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind stream server: %w", err)
	}

	s.baseURL = "http://" + listener.Addr().String()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if errCh != nil {
				errCh <- fmt.Errorf("stream server: %w", err)
			}
		}
	}()

	s.log.Info("Stream server started", "address", s.baseURL)
	return nil
}

// BaseURL returns the listening address, valid after Start.
func (s *Server) BaseURL() string {
	return s.baseURL
}

// streamPath recovers the full logical stream path ("v1/stream/...") from
// the request URL, matching what clients pass to the mailbox client.
func streamPath(r *http.Request) string {
	return strings.TrimPrefix(r.URL.Path, "/")
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	path := streamPath(r)
	err := s.store.CreateStream(path)
	switch {
	case errors.Is(err, ErrStreamExists):
		http.Error(w, "stream exists", http.StatusConflict)
	case err != nil:
		s.log.Error("Stream create failed", "path", path, "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
	default:
		s.log.Debug("Stream created", "path", path)
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	path := streamPath(r)
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	err = s.store.Append(path, body)
	switch {
	case errors.Is(err, ErrStreamNotFound):
		http.Error(w, "unknown stream", http.StatusNotFound)
	case err != nil:
		s.log.Error("Stream append failed", "path", path, "error", err)
		http.Error(w, "append failed", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	path := streamPath(r)
	records, nextOffset, err := s.store.ReadSince(path, r.URL.Query().Get("offset"))
	switch {
	case errors.Is(err, ErrStreamNotFound):
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	case err != nil:
		s.log.Error("Stream read failed", "path", path, "error", err)
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set(ds.NextOffsetHeader, nextOffset)
	for _, record := range records {
		_, _ = w.Write(record)
		_, _ = w.Write([]byte("\n"))
	}
}
