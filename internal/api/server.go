// Package api exposes calibration sessions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/calibration-cli/internal/calibration"
	"github.com/sells-group/calibration-cli/internal/criteria"
	"github.com/sells-group/calibration-cli/internal/model"
)

const maxBodyBytes = 1 << 20

// Options configures the router.
type Options struct {
	// Criteria returns the active criteria table for GET /v1/criteria.
	Criteria func() criteria.Table
	// AllowedOrigins for CORS. Empty allows none.
	AllowedOrigins []string
	// ValidationTimeout bounds how long a request waits for RunValidation.
	// Zero waits for the request context only.
	ValidationTimeout time.Duration
}

type server struct {
	svc  *calibration.Service
	opts Options
}

// NewRouter builds the HTTP handler for svc.
func NewRouter(svc *calibration.Service, opts Options) http.Handler {
	s := &server{svc: svc, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/criteria", s.getCriteria)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listActive)
			r.Post("/", s.openSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Post("/readiness", s.confirmReadiness)
				r.Post("/environmental", s.recordEnvironmental)
				r.Post("/measurements", s.recordMeasurements)
				r.Post("/validation", s.runValidation)
				r.Post("/abort", s.abort)
			})
		})
	})
	return r
}

type openRequest struct {
	EquipmentID    string `json:"equipment_id"`
	EquipmentClass string `json:"equipment_class"`
}

type stateResponse struct {
	SessionID string             `json:"session_id"`
	State     model.SessionState `json:"state"`
}

func (s *server) getCriteria(w http.ResponseWriter, _ *http.Request) {
	table := criteria.DefaultTable()
	if s.opts.Criteria != nil {
		table = s.opts.Criteria()
	}
	writeJSON(w, http.StatusOK, table)
}

func (s *server) listActive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.svc.Active()})
}

func (s *server) openSession(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !decodeBody(w, r, &req) {
		return
	}
	class, err := model.ParseEquipmentClass(req.EquipmentClass)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := s.svc.Open(req.EquipmentID, class)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stateResponse{SessionID: id, State: model.SessionStatePrecheck})
}

func (s *server) getSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) confirmReadiness(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.svc.ConfirmReadiness(id)
	s.writeState(w, id, state, err)
}

func (s *server) recordEnvironmental(w http.ResponseWriter, r *http.Request) {
	var env model.EnvironmentalConditions
	if !decodeBody(w, r, &env) {
		return
	}
	id := chi.URLParam(r, "id")
	state, err := s.svc.RecordEnvironmental(id, env)
	s.writeState(w, id, state, err)
}

func (s *server) recordMeasurements(w http.ResponseWriter, r *http.Request) {
	var m model.Measurements
	if !decodeBody(w, r, &m) {
		return
	}
	id := chi.URLParam(r, "id")
	state, err := s.svc.RecordMeasurements(id, m)
	s.writeState(w, id, state, err)
}

func (s *server) runValidation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.opts.ValidationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ValidationTimeout)
		defer cancel()
	}
	res, err := s.svc.RunValidation(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) abort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	state, err := s.svc.Abort(r.Context(), id, req.Reason)
	s.writeState(w, id, state, err)
}

func (s *server) writeState(w http.ResponseWriter, id string, state model.SessionState, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{SessionID: id, State: state})
}

// decodeBody reads a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    string(model.CodeInvalidInput),
			Message: "invalid request body: " + err.Error(),
		}})
		return false
	}
	return true
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Set     string `json:"set,omitempty"`
	Field   string `json:"field,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// StatusFor maps a domain error code to its HTTP status.
func StatusFor(code model.ErrorCode) int {
	switch code {
	case model.CodeInvalidInput, model.CodeMeasurementError:
		return http.StatusUnprocessableEntity
	case model.CodeInvalidTransition, model.CodeEquipmentBusy:
		return http.StatusConflict
	case model.CodeSessionClosed:
		return http.StatusGone
	case model.CodeSessionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	var me *model.Error
	switch {
	case errors.As(err, &me):
		writeJSON(w, StatusFor(me.Code), errorBody{Error: errorDetail{
			Code:    string(me.Code),
			Message: me.Message,
			Set:     me.Set,
			Field:   me.Field,
		}})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: errorDetail{
			Code:    "TIMEOUT",
			Message: "validation still running; retry the request",
		}})
	default:
		zap.L().Error("api: internal error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Code:    "INTERNAL",
			Message: "internal error",
		}})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
