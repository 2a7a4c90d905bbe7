package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/bidflow/ai-gateway/internal/auth"
	"github.com/bidflow/ai-gateway/internal/gateway"
	"github.com/bidflow/ai-gateway/internal/quota"
	"github.com/bidflow/ai-gateway/internal/stats"
	"github.com/bidflow/ai-gateway/internal/usagelog"
	"github.com/bidflow/ai-gateway/internal/validate"
	"github.com/bidflow/ai-gateway/pkg/ratelimit"
)

// Mock gateway
type mockGateway struct {
	processFunc func(ctx context.Context, req *gateway.Request) (*gateway.Response, error)
	statsFunc   func(ctx context.Context, userID string) *stats.Usage
}

func (m *mockGateway) Process(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	if m.processFunc != nil {
		return m.processFunc(ctx, req)
	}
	return &gateway.Response{
		Result:   json.RawMessage(`{"insights":["ok"]}`),
		Provider: "sonnet",
		Cost:     0.01,
		Tokens:   gateway.Tokens{Input: 100, Output: 50},
	}, nil
}

func (m *mockGateway) UsageStats(ctx context.Context, userID string) *stats.Usage {
	if m.statsFunc != nil {
		return m.statsFunc(ctx, userID)
	}
	return &stats.Usage{}
}

// Mock usage log store
type mockUsageStore struct {
	getByUserFunc    func(ctx context.Context, userID string, from, to time.Time) ([]*usagelog.Record, error)
	getTotalCostFunc func(ctx context.Context, userID string, from, to time.Time) (float64, error)
}

func (m *mockUsageStore) Log(ctx context.Context, rec *usagelog.Record) error { return nil }

func (m *mockUsageStore) GetByUser(ctx context.Context, userID string, from, to time.Time) ([]*usagelog.Record, error) {
	if m.getByUserFunc != nil {
		return m.getByUserFunc(ctx, userID, from, to)
	}
	return nil, nil
}

func (m *mockUsageStore) GetTotalCostByUser(ctx context.Context, userID string, from, to time.Time) (float64, error) {
	if m.getTotalCostFunc != nil {
		return m.getTotalCostFunc(ctx, userID, from, to)
	}
	return 0, nil
}

// Mock limiter store
type mockLimiterStore struct {
	allowed bool
	err     error
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func setupTest(gw *mockGateway, limiterAllowed bool) (*Handler, *mockUsageStore) {
	if gw == nil {
		gw = &mockGateway{}
	}
	usage := &mockUsageStore{}
	limiter := ratelimit.NewTestLimiter(&mockLimiterStore{allowed: limiterAllowed})
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewHandler(gw, usage, limiter, tracer), usage
}

func processRequest(t *testing.T, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}
	req := httptest.NewRequest("POST", "/v1/ai/process", bytes.NewReader(raw))
	return req.WithContext(auth.WithUserID(req.Context(), "test-user"))
}

func TestHandleProcess_Unauthorized(t *testing.T) {
	h, _ := setupTest(nil, true)
	req := httptest.NewRequest("POST", "/v1/ai/process", nil)
	w := httptest.NewRecorder()

	h.HandleProcess(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestHandleProcess_InvalidBody(t *testing.T) {
	h, _ := setupTest(nil, true)
	req := httptest.NewRequest("POST", "/v1/ai/process", strings.NewReader(`{invalid json}`))
	req = req.WithContext(auth.WithUserID(req.Context(), "test-user"))
	w := httptest.NewRecorder()

	h.HandleProcess(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleProcess_RateLimited(t *testing.T) {
	h, _ := setupTest(nil, false)
	req := processRequest(t, map[string]any{"task": "analyze", "data": []any{}})
	w := httptest.NewRecorder()

	h.HandleProcess(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
}

func TestHandleProcess_Success(t *testing.T) {
	var gotUserID string
	gw := &mockGateway{
		processFunc: func(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
			gotUserID = req.UserID
			if req.RequestID == "" {
				t.Error("Expected a request ID to be assigned")
			}
			return &gateway.Response{
				Result:   json.RawMessage(`{"insights":["rising budgets"]}`),
				Provider: "sonnet",
				Cost:     0.01,
				Tokens:   gateway.Tokens{Input: 100, Output: 50},
			}, nil
		},
	}
	h, _ := setupTest(gw, true)
	req := processRequest(t, map[string]any{
		"task":       "analyze",
		"data":       []map[string]any{{"title": "Bid 1", "budget": 1000000}},
		"complexity": "medium",
	})
	w := httptest.NewRecorder()

	h.HandleProcess(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotUserID != "test-user" {
		t.Errorf("Expected user from auth context, got %q", gotUserID)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["provider"] != "sonnet" {
		t.Errorf("Expected provider sonnet, got %v", resp["provider"])
	}
	if resp["cached"] != false {
		t.Errorf("Expected cached false, got %v", resp["cached"])
	}
}

func TestHandleProcess_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"payload too large", fmt.Errorf("%w: 120000 bytes", validate.ErrPayloadTooLarge), http.StatusBadRequest},
		{"unsafe content", fmt.Errorf("%w: contains %q", validate.ErrUnsafeContent, "drop table"), http.StatusBadRequest},
		{"unknown task", fmt.Errorf("%w: %q", validate.ErrUnknownTask, "translate"), http.StatusBadRequest},
		{"quota exceeded", fmt.Errorf("%w: spent $1.50 of $1.00", quota.ErrQuotaExceeded), http.StatusTooManyRequests},
		{"disallowed function", fmt.Errorf("%w: EXECUTE", validate.ErrDisallowedFunction), http.StatusUnprocessableEntity},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			gw := &mockGateway{
				processFunc: func(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
					return nil, c.err
				},
			}
			h, _ := setupTest(gw, true)
			req := processRequest(t, map[string]any{"task": "analyze", "data": []any{}})
			w := httptest.NewRecorder()

			h.HandleProcess(w, req)

			if w.Code != c.want {
				t.Errorf("Expected %d, got %d", c.want, w.Code)
			}
			if c.want == http.StatusTooManyRequests && w.Header().Get("Retry-After") == "" {
				t.Error("Expected Retry-After on quota rejection")
			}
		})
	}
}

func TestHandleStats_Success(t *testing.T) {
	gw := &mockGateway{
		statsFunc: func(ctx context.Context, userID string) *stats.Usage {
			return &stats.Usage{TotalRequests: 10, TotalCost: 0.42, CacheHits: 4, CacheHitRate: 0.4}
		},
	}
	h, _ := setupTest(gw, true)
	req := httptest.NewRequest("GET", "/v1/ai/stats", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), "test-user"))
	w := httptest.NewRecorder()

	h.HandleStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		UserID string      `json:"user_id"`
		Stats  stats.Usage `json:"stats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Stats.TotalRequests != 10 || resp.Stats.CacheHitRate != 0.4 {
		t.Errorf("Unexpected stats: %+v", resp.Stats)
	}
}

func TestHandleStats_Unauthorized(t *testing.T) {
	h, _ := setupTest(nil, true)
	req := httptest.NewRequest("GET", "/v1/ai/stats", nil)
	w := httptest.NewRecorder()

	h.HandleStats(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestHandleUsage_InvalidDateFormat(t *testing.T) {
	h, _ := setupTest(nil, true)
	req := httptest.NewRequest("GET", "/v1/ai/usage?from=not-a-date", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), "test-user"))
	w := httptest.NewRecorder()

	h.HandleUsage(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleUsage_Success(t *testing.T) {
	h, usage := setupTest(nil, true)
	usage.getByUserFunc = func(ctx context.Context, userID string, from, to time.Time) ([]*usagelog.Record, error) {
		return []*usagelog.Record{
			{UserID: "test-user", Task: "analyze", Provider: "sonnet"},
			{UserID: "test-user", Task: "formula", Provider: "haiku", Cached: true},
		}, nil
	}
	usage.getTotalCostFunc = func(ctx context.Context, userID string, from, to time.Time) (float64, error) {
		return 0.005, nil
	}

	req := httptest.NewRequest("GET", "/v1/ai/usage", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), "test-user"))
	w := httptest.NewRecorder()

	h.HandleUsage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["total_requests"].(float64) != 2 {
		t.Errorf("Expected total_requests == 2, got %v", resp["total_requests"])
	}
	if resp["total_cost_usd"].(float64) != 0.005 {
		t.Errorf("Expected total_cost_usd == 0.005, got %v", resp["total_cost_usd"])
	}
}
