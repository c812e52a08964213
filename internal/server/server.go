// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

// Package server serves an annotated page and the JSON API its script
// talks to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mtreilly/arc-marginalia/internal/anchor"
	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/capture"
	"github.com/mtreilly/arc-marginalia/internal/content"
	"github.com/mtreilly/arc-marginalia/internal/engine"
	"github.com/mtreilly/arc-marginalia/internal/surface"
)

// Server exposes one engine over HTTP. Every request holds mu, so the
// engine and the passes triggered by store mutations never interleave.
type Server struct {
	mu      sync.Mutex
	engine  *engine.Engine
	store   annotation.Store
	capture *capture.Capture
	surface *surface.Surface
	logger  *slog.Logger

	contextLen, minLen int
}

// New returns a server over e and store.
func New(e *engine.Engine, store annotation.Store, contextLen, minLen int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  e,
		store:   store,
		capture: capture.New(e.Root, store, contextLen, minLen, logger),
		surface: surface.New(store, logger),
		logger:  logger.With("component", "server"),

		contextLen: contextLen,
		minLen:     minLen,
	}
	e.OnPass(func(engine.Result) {
		if err := s.surface.Sync(); err != nil {
			s.logger.Warn("panel sync failed", "error", err)
		}
	})
	return s
}

// Handler returns the router with every route registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP registers the page and API routes on r.
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Get("/", s.handlePage)
	r.Get("/api/annotations", s.handleList)
	r.Post("/api/annotations", s.handleCreate)
	r.Delete("/api/annotations", s.handleClear)
	r.Patch("/api/annotations/{id}", s.handleUpdate)
	r.Delete("/api/annotations/{id}", s.handleDelete)
	r.Get("/api/spans", s.handleSpans)
	r.Get("/api/markers/{id}/preview", s.handlePreview)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// CreateRequest is the body of POST /api/annotations. Either SelectedText
// (with the context the page captured) or a Start/End plain-text range is
// given; for a range the server cuts the context itself.
type CreateRequest struct {
	SelectedText string `json:"selectedText"`
	Prefix       string `json:"prefix"`
	Suffix       string `json:"suffix"`
	Start        *int   `json:"start,omitempty"`
	End          *int   `json:"end,omitempty"`
	Note         string `json:"note"`
}

type updateRequest struct {
	Note string `json:"note"`
}

type previewResponse struct {
	Count int    `json:"count"`
	Text  string `json:"text"`
	HTML  string `json:"html,omitempty"`
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	doc := content.Clone(s.engine.Document())
	s.mu.Unlock()

	injectAssets(doc, script(s.contextLen, s.minLen))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := content.Render(w, doc); err != nil {
		s.logger.Error("failed to render page", "error", err)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list, err := s.store.List()
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		a   *annotation.Annotation
		err error
	)
	switch {
	case req.SelectedText != "":
		a, err = s.store.Create(annotation.Draft{
			SelectedText: req.SelectedText,
			Note:         req.Note,
			Prefix:       req.Prefix,
			Suffix:       req.Suffix,
		})
	case req.Start != nil && req.End != nil:
		var p *capture.Popover
		p, err = s.capture.SelectRange(s.engine.Text(), *req.Start, *req.End)
		if err == nil {
			s.capture.Open(p)
			s.capture.SetInput(req.Note)
			a, err = s.capture.Save()
			s.capture.Close()
		}
	default:
		http.Error(w, "selectedText or start/end required", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	err := s.store.ClearAll()
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Update(id, req.Note); err != nil {
		s.writeError(w, err)
		return
	}
	a, err := s.store.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	err := s.surface.Remove(id)
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpans(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	res := s.engine.Last()
	s.mu.Unlock()
	if res.Spans == nil {
		res.Spans = []anchor.Span{}
	}
	if res.Unanchored == nil {
		res.Unanchored = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.engine.MarkerFor(id)
	if m == nil {
		http.Error(w, "Marker not found", http.StatusNotFound)
		return
	}
	p, err := s.surface.PreviewFor(m.IDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if p == nil {
		http.Error(w, "Marker not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Count: p.Count, Text: p.Text, HTML: p.HTML})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, annotation.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, annotation.ErrInvalid),
		errors.Is(err, capture.ErrSelectionTooShort),
		errors.Is(err, capture.ErrEmptyNote),
		errors.Is(err, content.ErrOutOfRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// injectAssets appends the page style and js to doc's body.
func injectAssets(doc *html.Node, js string) {
	body := findBody(doc)
	if body == nil {
		return
	}
	for _, el := range []struct {
		a    atom.Atom
		text string
	}{{atom.Style, pageStyle}, {atom.Script, js}} {
		n := &html.Node{Type: html.ElementNode, DataAtom: el.a, Data: el.a.String()}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: el.text})
		body.AppendChild(n)
	}
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
