// Package server exposes the assessment pipeline over HTTP.
//
// Routes:
//
//	POST /v1/assessments              multipart upload, returns the result
//	GET  /v1/assessments/{id}         stored result
//	GET  /v1/users/{user}/assessments recent results of a learner
//	POST /v1/references/generate      LLM-written reading passage
//	GET  /healthz, /readyz, /metrics
//
// Every route runs behind [observe.Middleware].
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/MrWong99/elocute/internal/assessment"
	"github.com/MrWong99/elocute/internal/health"
	"github.com/MrWong99/elocute/internal/observe"
	"github.com/MrWong99/elocute/internal/reference"
	"github.com/MrWong99/elocute/internal/score"
	"github.com/MrWong99/elocute/pkg/audio"
	"github.com/MrWong99/elocute/pkg/provider/assess"
	"github.com/MrWong99/elocute/pkg/store"
	"github.com/MrWong99/elocute/pkg/types"
)

// DefaultMaxUploadBytes caps the request body of an assessment upload.
const DefaultMaxUploadBytes = 25 << 20

// multipartMemory is the part of a multipart body kept in memory before the
// rest spills to temporary files.
const multipartMemory = 8 << 20

// Assessor runs one assessment. Implemented by [assessment.Assessor].
type Assessor interface {
	Assess(ctx context.Context, req assessment.Request) (*types.AssessmentResult, error)
}

// Generator writes reading passages. Implemented by [reference.Generator].
type Generator interface {
	Generate(ctx context.Context, req reference.GenerateRequest) (store.Reference, error)
}

// Option configures a [Server].
type Option func(*Server)

// WithResults enables the result lookup routes.
func WithResults(st store.ResultStore) Option {
	return func(s *Server) { s.results = st }
}

// WithGenerator enables POST /v1/references/generate.
func WithGenerator(g Generator) Option {
	return func(s *Server) { s.generator = g }
}

// WithHealth mounts the probe routes of h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the instruments used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMaxUploadBytes caps assessment uploads. Non-positive values keep
// [DefaultMaxUploadBytes].
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// Server holds the HTTP handlers. Optional routes answer 404 when their
// collaborator is not configured.
type Server struct {
	assessor       Assessor
	results        store.ResultStore
	generator      Generator
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	maxUpload      int64
}

// New creates a Server around a.
func New(a Assessor, opts ...Option) *Server {
	s := &Server{
		assessor:  a,
		maxUpload: DefaultMaxUploadBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/assessments", s.createAssessment)
	if s.results != nil {
		mux.HandleFunc("GET /v1/assessments/{id}", s.getAssessment)
		mux.HandleFunc("GET /v1/users/{user}/assessments", s.listAssessments)
	}
	if s.generator != nil {
		mux.HandleFunc("POST /v1/references/generate", s.generateReference)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

// ── assessments ──────────────────────────────────────────────────────────────

func (s *Server) createAssessment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, `missing "audio" file part`)
		return
	}
	defer file.Close()

	src, err := audio.NewWAVSource(file, audio.Speech)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := assessment.Request{
		UserID:        r.FormValue("user_id"),
		Language:      r.FormValue("language"),
		ReferenceText: r.FormValue("reference_text"),
		ReferenceID:   r.FormValue("reference_id"),
		Audio:         src,
	}
	if v := r.FormValue("miscue"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, `"miscue" must be a boolean`)
			return
		}
		req.EnableMiscue = &b
	}

	res, err := s.assessor.Assess(r.Context(), req)
	if err != nil {
		status, msg := assessmentStatus(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// assessmentStatus maps an [assessment.Assessor.Assess] error to an HTTP
// status and a client-facing message.
func assessmentStatus(err error) (int, string) {
	switch {
	case errors.Is(err, assessment.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, assessment.ErrTimeout):
		return http.StatusGatewayTimeout, "speech service timed out"
	case errors.Is(err, assess.ErrMalformedEvent), errors.Is(err, assess.ErrRecognitionCanceled):
		return http.StatusBadGateway, "speech service error"
	case errors.Is(err, assessment.ErrNoSpeech):
		return http.StatusUnprocessableEntity, "no speech detected"
	case errors.Is(err, score.ErrInsufficientData):
		return http.StatusUnprocessableEntity, "insufficient data to score"
	case errors.Is(err, context.Canceled):
		return 499, "request canceled"
	default:
		return http.StatusInternalServerError, "assessment failed"
	}
}

func (s *Server) getAssessment(w http.ResponseWriter, r *http.Request) {
	res, err := s.results.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listAssessments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, `"limit" must be a non-negative integer`)
			return
		}
		limit = n
	}
	res, err := s.results.ListResults(r.Context(), r.PathValue("user"), limit)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	observe.Logger(r.Context()).Error("store lookup failed", "err", err)
	writeError(w, http.StatusInternalServerError, "store error")
}

// ── references ───────────────────────────────────────────────────────────────

type generateBody struct {
	Language string `json:"language"`
	Level    string `json:"level"`
	Topic    string `json:"topic"`
	Words    int    `json:"words"`
}

func (s *Server) generateReference(w http.ResponseWriter, r *http.Request) {
	var body generateBody
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ref, err := s.generator.Generate(r.Context(), reference.GenerateRequest{
		Language: body.Language,
		Level:    body.Level,
		Topic:    body.Topic,
		Words:    body.Words,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ref)
	case errors.Is(err, reference.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		observe.Logger(r.Context()).Warn("reference generation failed", "err", err)
		writeError(w, http.StatusBadGateway, "passage generation failed")
	}
}

// ── helpers ──────────────────────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
