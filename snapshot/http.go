// CLAUDE:SUMMARY HTTP front-end on chi: synchronous capture returning image bytes, job queue endpoints, health.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/html2png/capture"
	"github.com/hazyhaar/html2png/encode"
	"github.com/hazyhaar/html2png/snapshot/internal/guard"
	"github.com/hazyhaar/html2png/snapshot/internal/kit"
)

// Handler returns a router with every endpoint and the standard middleware.
func (s *Snapper) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the capture endpoints on r.
func (s *Snapper) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/v1/formats", s.handleFormats)
	r.Post("/v1/capture", s.handleCapture)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", s.handleEnqueue)
		r.Get("/", s.handleJobs)
		r.Get("/{id}", s.handleJob)
	})
	r.Get("/v1/runs", s.handleRuns)
}

func (s *Snapper) decode(w http.ResponseWriter, r *http.Request) (Request, bool) {
	var req Request
	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return req, false
	}
	return req, true
}

// FormatInfo describes one output format.
type FormatInfo struct {
	Name        string `json:"name"`
	Ext         string `json:"ext"`
	ContentType string `json:"content_type"`
}

func formatList() []FormatInfo {
	var out []FormatInfo
	for _, f := range encode.Formats() {
		out = append(out, FormatInfo{Name: f.String(), Ext: f.Ext(), ContentType: f.ContentType()})
	}
	return out
}

func (s *Snapper) handleFormats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, formatList())
}

func (s *Snapper) handleCapture(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	ctx := kit.WithRequestID(kit.WithTransport(r.Context(), "http"), middleware.GetReqID(r.Context()))
	if req.URL != "" {
		if err := s.CheckURL(ctx, req.URL); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}

	res, err := s.Capture(ctx, req)
	if err != nil && res == nil {
		writeError(w, statusFor(err), err)
		return
	}
	if err != nil {
		// Rendered but a sink failed; the caller still gets the bytes.
		w.Header().Set("X-Html2png-Warning", err.Error())
	}

	h := w.Header()
	h.Set("Content-Type", res.Artifact.Format.ContentType())
	h.Set("Content-Length", strconv.Itoa(len(res.Artifact.Data)))
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", res.Name))
	h.Set("X-Html2png-Width", strconv.Itoa(res.Artifact.Size.X))
	h.Set("X-Html2png-Height", strconv.Itoa(res.Artifact.Size.Y))
	h.Set("X-Html2png-Tiles", strconv.Itoa(res.Capture.Tiles))
	if res.Capture.LoadTimedOut {
		h.Set("X-Html2png-Load-Timeout", "true")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(res.Artifact.Data)
}

func (s *Snapper) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	job, created, err := s.Enqueue(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, job)
}

func (s *Snapper) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Jobs(r.Context(), r.URL.Query().Get("status"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if jobs == nil {
		jobs = []*Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Snapper) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Snapper) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.Runs(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if runs == nil {
		runs = []*Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, capture.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, guard.ErrSSRF), errors.Is(err, guard.ErrUnsafeScheme):
		return http.StatusForbidden
	case errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	case capture.IsDetection(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, capture.ErrCaptureFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrRenderer), errors.Is(err, ErrNoStore):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
