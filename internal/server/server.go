// Package server exposes the point lookups of a store over HTTP.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dacapoday/btslice/btree"
	"github.com/dacapoday/btslice/store"
)

// FlagsHeader carries the flags word of a value.
const FlagsHeader = "X-Btslice-Flags"

// Store is the part of store.Store the handlers use.
type Store interface {
	Fetch(key []byte) (btree.Result, error)
	Stat() ([]btree.Stat, error)
}

var _ Store = (*store.Store)(nil)

type Server struct {
	addr   string
	engine *chi.Mux
	store  Store
	log    *slog.Logger
}

func New(addr string, st Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{
		addr:   addr,
		engine: chi.NewRouter(),
		store:  st,
		log:    log,
	}
	srv.engine.Use(middleware.RequestID, srv.logRequest, middleware.Recoverer)
	srv.registerRoutes()
	return srv
}

func (srv *Server) registerRoutes() {
	srv.engine.Get("/health", srv.health)
	srv.engine.Get("/stat", srv.stat)
	srv.engine.Get("/db/{key}", srv.get)
}

// Handler returns the router, for tests and embedding.
func (srv *Server) Handler() http.Handler {
	return srv.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context) error {
	hs := &http.Server{
		Addr:              srv.addr,
		Handler:           srv.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		done <- hs.Shutdown(shutdown)
	}()

	srv.log.Info("server running", "addr", srv.addr)
	if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen")
	}
	return <-done
}

func (srv *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		srv.log.Debug("request",
			"id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start))
	})
}

func (srv *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (srv *Server) get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	// chi matches against the escaped path when the request carries one
	if r.URL.RawPath != "" {
		if k, err := url.PathUnescape(key); err == nil {
			key = k
		}
	}
	res, err := srv.store.Fetch([]byte(key))
	if err != nil {
		srv.log.Error("get", "key", key, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !res.Found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(res.Size()))
	w.Header().Set(FlagsHeader, strconv.FormatUint(uint64(res.Flags), 10))
	for _, buf := range res.Buffers {
		if _, err = w.Write(buf); err != nil {
			return
		}
	}
}

func (srv *Server) stat(w http.ResponseWriter, r *http.Request) {
	stats, err := srv.store.Stat()
	if err != nil {
		srv.log.Error("stat", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
