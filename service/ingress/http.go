package ingress

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/delivery/webhook"
	"github.com/viant/hitloop/service/metrics"
	"github.com/viant/hitloop/service/store"
	"github.com/viant/hitloop/tracing"
)

const maxBodySize = 1 << 20

var (
	errBadRequest   = errors.New("ingress: bad request")
	errUnauthorized = errors.New("ingress: invalid signature")
)

// HealthFunc reports readiness; a non nil error yields 503
type HealthFunc func() error

// ErrorResponse is written for every non 2xx response
type ErrorResponse struct {
	Error       string `json:"error"`
	Status      string `json:"status,omitempty"`
	DecidedBy   string `json:"decidedBy,omitempty"`
	SameOutcome *bool  `json:"sameOutcome,omitempty"`
}

// Handler serves decision callbacks and record queries over HTTP
type Handler struct {
	decider Decider
	secret  string
	health  HealthFunc
	logger  *slog.Logger
	mux     *http.ServeMux
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "ingress.callback", "SERVER")
	id := r.PathValue("id")
	span.WithAttributes(map[string]string{"id": id})
	callback, err := h.decodeCallback(r)
	var record *model.Record
	if err == nil {
		record, err = h.decider.HandleCallback(ctx, id, callback.Approved, callback.DecidedBy, callback.Reason)
	}
	metrics.CallbacksTotal.WithLabelValues("http", resultLabel(err)).Inc()
	if err != nil {
		code := h.writeError(w, err)
		span.SetStatusFromHTTPCode(code)
		tracing.EndSpan(span, nil)
		return
	}
	writeJSON(w, http.StatusOK, record)
	tracing.EndSpan(span, nil)
}

func (h *Handler) decodeCallback(r *http.Request) (*Callback, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if h.secret != "" && !webhook.Verify(h.secret, body, r.Header.Get(webhook.SignatureHeader)) {
		return nil, errUnauthorized
	}
	callback := &Callback{}
	if err := json.Unmarshal(body, callback); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if callback.DecidedBy == "" {
		return nil, fmt.Errorf("%w: decidedBy is required", errBadRequest)
	}
	return callback, nil
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	record, err := h.decider.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	records, err := h.decider.ListPending(r.Context(), r.URL.Query().Get("thread"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) int {
	response := &ErrorResponse{Error: err.Error()}
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, store.ErrInvalidID):
		code = http.StatusBadRequest
	case errors.Is(err, errUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		code = http.StatusConflict
		if conflict, ok := store.AsConflict(err); ok {
			same := conflict.SameOutcome()
			response.Status = conflict.Existing.String()
			response.DecidedBy = conflict.DecidedBy
			response.SameOutcome = &same
		}
	default:
		h.logger.Error("request failed", "error", err)
	}
	writeJSON(w, code, response)
	return code
}

func writeJSON(w http.ResponseWriter, code int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(value)
}

// HandlerOption customises Handler
type HandlerOption func(h *Handler)

// WithSecret requires callbacks signed with secret
func WithSecret(secret string) HandlerOption {
	return func(h *Handler) { h.secret = secret }
}

// WithHealth sets readiness check
func WithHealth(fn HealthFunc) HandlerOption {
	return func(h *Handler) { h.health = fn }
}

// WithLogger sets logger
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// NewHandler creates an HTTP handler
func NewHandler(decider Decider, options ...HandlerOption) *Handler {
	h := &Handler{decider: decider, logger: slog.Default(), mux: http.NewServeMux()}
	for _, opt := range options {
		opt(h)
	}
	h.mux.HandleFunc("POST /callback/{id}", h.handleCallback)
	h.mux.HandleFunc("GET /records/{id}", h.handleRecord)
	h.mux.HandleFunc("GET /pending", h.handlePending)
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux.Handle("GET /metrics", promhttp.Handler())
	return h
}
