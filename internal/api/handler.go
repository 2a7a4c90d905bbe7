package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bidflow/ai-gateway/internal/auth"
	"github.com/bidflow/ai-gateway/internal/gateway"
	"github.com/bidflow/ai-gateway/internal/quota"
	"github.com/bidflow/ai-gateway/internal/stats"
	"github.com/bidflow/ai-gateway/internal/usagelog"
	"github.com/bidflow/ai-gateway/internal/validate"
	"github.com/bidflow/ai-gateway/pkg/ratelimit"
)

// Gateway is the processing surface the handlers sit on.
type Gateway interface {
	Process(ctx context.Context, req *gateway.Request) (*gateway.Response, error)
	UsageStats(ctx context.Context, userID string) *stats.Usage
}

type Handler struct {
	gw      Gateway
	usage   usagelog.Store
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
}

func NewHandler(gw Gateway, usage usagelog.Store, limiter *ratelimit.Limiter, tracer trace.Tracer) *Handler {
	return &Handler{
		gw:      gw,
		usage:   usage,
		limiter: limiter,
		tracer:  tracer,
	}
}

type processBody struct {
	Task       string          `json:"task"`
	Data       json.RawMessage `json:"data"`
	Complexity string          `json:"complexity,omitempty"`
}

func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	requestID := auth.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	allowed, err := h.limiter.Allow(ctx, userID)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return
	}

	var body processBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ctx, span := h.tracer.Start(ctx, "api.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("request_id", requestID),
		attribute.String("task", body.Task),
	)

	resp, err := h.gw.Process(ctx, &gateway.Request{
		Task:       body.Task,
		Data:       body.Data,
		Complexity: body.Complexity,
		UserID:     userID,
		RequestID:  requestID,
	})
	if err != nil {
		writeProcessError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeProcessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, validate.ErrPayloadTooLarge),
		errors.Is(err, validate.ErrUnsafeContent),
		errors.Is(err, validate.ErrUnknownTask),
		errors.Is(err, validate.ErrInvalidData):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, quota.ErrQuotaExceeded):
		w.Header().Set("Retry-After", secondsToNextUTCDay())
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	case errors.Is(err, validate.ErrDisallowedFunction):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// The daily quota resets when the UTC day key rolls over.
func secondsToNextUTCDay() string {
	now := time.Now().UTC()
	midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	secs := int(time.Until(midnight).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	u := h.gw.UsageStats(ctx, userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"stats":   u,
	})
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	// Parse query parameters
	now := time.Now()
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")

	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'from' date format (use RFC3339)"})
			return
		}
	}

	if toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'to' date format (use RFC3339)"})
			return
		}
	}

	records, err := h.usage.GetByUser(ctx, userID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	totalCost, err := h.usage.GetTotalCostByUser(ctx, userID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":        userID,
		"total_requests": len(records),
		"total_cost_usd": totalCost,
		"logs":           records,
		"from":           from,
		"to":             to,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
