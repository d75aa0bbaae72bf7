package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cekresi/internal/bulk"
	"github.com/noah-isme/cekresi/internal/common"
	"github.com/noah-isme/cekresi/internal/courier"
	"github.com/noah-isme/cekresi/internal/input"
	"github.com/noah-isme/cekresi/internal/resilience"
	"github.com/noah-isme/cekresi/internal/shipping"
)

// Handler exposes the bulk job API and single lookups.
type Handler struct {
	registry      *Registry
	provider      shipping.Provider
	validate      *validator.Validate
	rules         input.Rules
	lookupTimeout time.Duration
	logger        zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Registry      *Registry
	Provider      shipping.Provider
	Validator     *validator.Validate
	Rules         input.Rules
	LookupTimeout time.Duration
	Logger        *zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	v := cfg.Validator
	if v == nil {
		v = NewValidator()
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "tracking_handler").Logger()
	}
	return &Handler{
		registry:      cfg.Registry,
		provider:      cfg.Provider,
		validate:      v,
		rules:         cfg.Rules,
		lookupTimeout: cfg.LookupTimeout,
		logger:        logger,
	}
}

// NewValidator returns a validator that reports JSON field names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type bulkRequest struct {
	Input           string   `json:"input" validate:"required_without=TrackingNumbers,max=20000"`
	TrackingNumbers []string `json:"trackingNumbers" validate:"required_without=Input,max=100,dive,min=8,max=64"`
	Courier         string   `json:"courier" validate:"omitempty,max=32"`
}

type bulkAccepted struct {
	Snapshot
	Rejected   []string `json:"rejected,omitempty"`
	Duplicates []string `json:"duplicates,omitempty"`
}

// SubmitBulk handles POST /api/v1/tracking/bulk.
func (h *Handler) SubmitBulk(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "tracking registry not configured", nil)
		return
	}
	var req bulkRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, validationError(err))
		return
	}

	var opts []bulk.Option
	if hint := strings.TrimSpace(req.Courier); hint != "" && !strings.EqualFold(hint, "auto") {
		code, err := courier.Parse(hint)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "UNSUPPORTED_COURIER", "unsupported courier", map[string]any{"courier": hint})
			return
		}
		opts = append(opts, bulk.WithCourier(code))
	}

	var (
		parsed input.Parsed
		err    error
	)
	if len(req.TrackingNumbers) > 0 {
		parsed, err = input.Normalise(req.TrackingNumbers, h.rules)
	} else {
		parsed, err = input.Parse(req.Input, h.rules)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	snap, err := h.registry.Start(r.Context(), parsed.IDs, opts...)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/tracking/bulk/"+snap.ID)
	common.JSONData(w, http.StatusAccepted, bulkAccepted{
		Snapshot:   snap,
		Rejected:   parsed.Rejected,
		Duplicates: parsed.Duplicates,
	})
}

// GetBulk handles GET /api/v1/tracking/bulk/{id}.
func (h *Handler) GetBulk(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.lookupJob(w, r, h.registry.Get)
	if !ok {
		return
	}
	common.JSONData(w, http.StatusOK, snap)
}

// AbortBulk handles DELETE /api/v1/tracking/bulk/{id}.
func (h *Handler) AbortBulk(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.lookupJob(w, r, h.registry.Abort)
	if !ok {
		return
	}
	common.JSONData(w, http.StatusAccepted, snap)
}

// ListBulk handles GET /api/v1/tracking/bulk.
func (h *Handler) ListBulk(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "tracking registry not configured", nil)
		return
	}
	common.JSONData(w, http.StatusOK, h.registry.List())
}

type singleResult struct {
	TrackingNumber string                `json:"trackingNumber"`
	Courier        courier.Code          `json:"courier"`
	CourierName    string                `json:"courierName"`
	InferredBy     string                `json:"inferredBy,omitempty"`
	Status         string                `json:"status"`
	Date           string                `json:"date"`
	Description    string                `json:"description,omitempty"`
	Events         []shipping.TrackEvent `json:"events"`
}

// Track handles GET /api/v1/tracking/{courier}/{number}. The courier segment
// may be "auto" to infer the carrier from the number.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "tracking provider not configured", nil)
		return
	}
	number := strings.TrimSpace(chi.URLParam(r, "number"))
	minLength := h.rules.MinLength
	if minLength <= 0 {
		minLength = input.DefaultMinLength
	}
	if len(number) < minLength {
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_TRACKING_NUMBER", "tracking number is too short", map[string]any{"min": minLength})
		return
	}

	var (
		code courier.Code
		rule string
	)
	hint := chi.URLParam(r, "courier")
	if strings.EqualFold(hint, "auto") {
		code, rule = courier.NewInferrer(courier.DefaultRules, courier.Default).Explain(number)
	} else {
		parsed, err := courier.Parse(hint)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "UNSUPPORTED_COURIER", "unsupported courier", map[string]any{"courier": hint})
			return
		}
		code = parsed
	}

	ctx := r.Context()
	if h.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.lookupTimeout)
		defer cancel()
	}
	res, err := h.provider.Track(ctx, shipping.TrackReq{Courier: code, TrackingNumber: number})
	if err != nil {
		h.logger.Warn().Err(err).Str("courier", code.String()).Msg("single lookup failed")
		h.writeError(w, err)
		return
	}
	if !res.Found {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "tracking number not found", map[string]any{
			"trackingNumber": number,
			"courier":        code,
		})
		return
	}
	date := strings.TrimSpace(res.Date)
	if date == "" {
		date = bulk.DateUnavailable
	}
	events := res.Events
	if events == nil {
		events = []shipping.TrackEvent{}
	}
	common.JSONData(w, http.StatusOK, singleResult{
		TrackingNumber: number,
		Courier:        code,
		CourierName:    code.Name(),
		InferredBy:     rule,
		Status:         shipping.NormaliseStatus(res.Status),
		Date:           date,
		Description:    res.Description,
		Events:         events,
	})
}

func (h *Handler) lookupJob(w http.ResponseWriter, r *http.Request, find func(string) (Snapshot, bool)) (Snapshot, bool) {
	if h.registry == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "tracking registry not configured", nil)
		return Snapshot{}, false
	}
	id := chi.URLParam(r, "id")
	snap, ok := find(id)
	if !ok {
		common.JSONError(w, http.StatusNotFound, "JOB_NOT_FOUND", "bulk job not found", map[string]any{"id": id})
		return Snapshot{}, false
	}
	return snap, true
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return common.NewAppError("VALIDATION_FAILED", "invalid request", http.StatusUnprocessableEntity, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	appErr := common.NewAppError("VALIDATION_FAILED", "invalid request", http.StatusUnprocessableEntity, err)
	appErr.Details = map[string]any{"fields": fields}
	return appErr
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	switch {
	case errors.As(err, &appErr):
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
	case errors.Is(err, input.ErrEmpty):
		common.JSONError(w, http.StatusUnprocessableEntity, "EMPTY_INPUT", "no valid tracking numbers supplied", nil)
	case errors.Is(err, input.ErrTooMany), errors.Is(err, bulk.ErrTooManyItems):
		common.JSONError(w, http.StatusUnprocessableEntity, "TOO_MANY_ITEMS", "too many tracking numbers", err.Error())
	case errors.Is(err, ErrTooManyJobs):
		common.JSONError(w, http.StatusServiceUnavailable, "BUSY", "too many bulk jobs in progress", nil)
	case errors.Is(err, shipping.ErrUpstreamBusy), errors.Is(err, resilience.ErrOpenCircuit):
		common.JSONError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "tracking provider temporarily unavailable", nil)
	case errors.Is(err, context.DeadlineExceeded):
		common.JSONError(w, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "tracking provider timed out", nil)
	default:
		common.JSONError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "tracking provider failed", nil)
	}
}

// Routes registers the tracking endpoints. submitLimit wraps bulk submissions
// and lookupLimit wraps single lookups; either may be nil.
func (h *Handler) Routes(r chi.Router, submitLimit, lookupLimit func(http.Handler) http.Handler) {
	r.Route("/tracking", func(r chi.Router) {
		r.Route("/bulk", func(r chi.Router) {
			r.Get("/", h.ListBulk)
			if submitLimit != nil {
				r.With(submitLimit).Post("/", h.SubmitBulk)
			} else {
				r.Post("/", h.SubmitBulk)
			}
			r.Get("/{id}", h.GetBulk)
			r.Delete("/{id}", h.AbortBulk)
		})
		if lookupLimit != nil {
			r.With(lookupLimit).Get("/{courier}/{number}", h.Track)
		} else {
			r.Get("/{courier}/{number}", h.Track)
		}
	})
}
