package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bidflow/ai-gateway/internal/cache"
	"github.com/bidflow/ai-gateway/internal/fallback"
	"github.com/bidflow/ai-gateway/internal/provider"
	"github.com/bidflow/ai-gateway/internal/quota"
	"github.com/bidflow/ai-gateway/internal/stats"
	"github.com/bidflow/ai-gateway/internal/task"
	"github.com/bidflow/ai-gateway/internal/tier"
	"github.com/bidflow/ai-gateway/internal/usagelog"
	"github.com/bidflow/ai-gateway/internal/validate"
)

// FallbackProvider marks responses synthesized locally, so callers can tell
// a degraded answer from a full-fidelity one.
const FallbackProvider = "fallback"

type Request struct {
	Task       string          `json:"task"`
	Data       json.RawMessage `json:"data"`
	Complexity string          `json:"complexity,omitempty"`
	UserID     string          `json:"-"`
	RequestID  string          `json:"-"`
}

type Tokens struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

type Response struct {
	Result     json.RawMessage `json:"result"`
	Provider   string          `json:"provider"` // tier name or "fallback"
	Cost       float64         `json:"cost"`
	Tokens     Tokens          `json:"tokens"`
	Cached     bool            `json:"cached"`
	DurationMs int64           `json:"duration_ms"`
}

// Deps are the gateway's collaborators, passed in explicitly so tests can
// substitute doubles without global state.
type Deps struct {
	Validator *validate.Validator
	Selector  *tier.Selector
	Cache     cache.Store
	Quota     quota.Tracker
	Stats     stats.Recorder
	Provider  provider.Client
	UsageLog  usagelog.Store // optional; nil disables durable logging
	Tracer    trace.Tracer

	ProviderTimeout time.Duration
	CacheTTL        time.Duration
}

type Gateway struct {
	validator *validate.Validator
	selector  *tier.Selector
	cache     cache.Store
	quota     quota.Tracker
	stats     stats.Recorder
	provider  provider.Client
	usage     usagelog.Store
	tracer    trace.Tracer
	breaker   *gobreaker.CircuitBreaker
	timeout   time.Duration
	cacheTTL  time.Duration
}

func New(deps Deps) *Gateway {
	settings := gobreaker.Settings{
		Name:        deps.Provider.Name(),
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Gateway{
		validator: deps.Validator,
		selector:  deps.Selector,
		cache:     deps.Cache,
		quota:     deps.Quota,
		stats:     deps.Stats,
		provider:  deps.Provider,
		usage:     deps.UsageLog,
		tracer:    deps.Tracer,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		timeout:   deps.ProviderTimeout,
		cacheTTL:  deps.CacheTTL,
	}
}

// Process runs one request through the pipeline: validate, cache lookup,
// quota check, tier selection, upstream call. Exactly one of cache, upstream
// or fallback produces the result. Only validation, quota and formula-safety
// failures surface as errors; upstream failures degrade to a fallback
// response.
func (g *Gateway) Process(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	ctx, span := g.tracer.Start(ctx, "gateway.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("task", req.Task),
		attribute.String("complexity", req.Complexity),
	)

	if err := g.validator.Validate(req.Task, req.Data); err != nil {
		return nil, err
	}
	tk, _ := task.Parse(req.Task)

	fp, err := cache.Fingerprint(tk, req.Data, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", validate.ErrInvalidData, err)
	}

	if entry := g.cacheLookup(ctx, fp); entry != nil {
		span.SetAttributes(attribute.Bool("cached", true))
		g.record(ctx, req.UserID, true, 0)
		resp := &Response{
			Result:     entry.Result,
			Provider:   entry.Tier,
			Cost:       entry.CostUSD,
			Tokens:     Tokens{Input: entry.InputTokens, Output: entry.OutputTokens},
			Cached:     true,
			DurationMs: time.Since(start).Milliseconds(),
		}
		g.logUsage(&usagelog.Record{
			UserID:    req.UserID,
			RequestID: req.RequestID,
			Task:      req.Task,
			Provider:  entry.Tier,
			Cached:    true,
			LatencyMs: resp.DurationMs,
		})
		return resp, nil
	}

	if err := g.quota.Check(ctx, req.UserID); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return nil, err
		}
		// The quota store being down must not take the gateway down with it.
		log.Printf("gateway: quota check unavailable, admitting request: %v", err)
	}

	t := g.selector.Select(tk, req.Complexity)
	span.SetAttributes(attribute.String("tier", t.Name))

	// Detached from the caller: an abandoned request still runs to its
	// timeout so cache and quota state stays consistent for later requests.
	bgCtx := context.WithoutCancel(ctx)

	res, err := g.invoke(bgCtx, t, tk, req.Data)
	if err != nil {
		log.Printf("gateway: upstream failed, serving fallback: %v", err)
		span.SetAttributes(attribute.Bool("fallback", true))
		g.record(bgCtx, req.UserID, false, 0)
		resp := &Response{
			Result:     fallback.Build(tk, req.Data),
			Provider:   FallbackProvider,
			Cached:     false,
			DurationMs: time.Since(start).Milliseconds(),
		}
		g.logUsage(&usagelog.Record{
			UserID:    req.UserID,
			RequestID: req.RequestID,
			Task:      req.Task,
			Provider:  FallbackProvider,
			LatencyMs: resp.DurationMs,
		})
		return resp, nil
	}

	if tk == task.Formula {
		if ferr := g.validator.CheckFormula(res.Result); ferr != nil {
			// The upstream call did happen; its token spend is real, so it
			// is committed even though the result is rejected and never
			// cached.
			g.commit(bgCtx, req.UserID, res.CostUSD)
			g.record(bgCtx, req.UserID, false, res.CostUSD)
			g.logUsage(&usagelog.Record{
				UserID:       req.UserID,
				RequestID:    req.RequestID,
				Task:         req.Task,
				Provider:     t.Name,
				Model:        res.Model,
				InputTokens:  res.InputTokens,
				OutputTokens: res.OutputTokens,
				CostUSD:      res.CostUSD,
				LatencyMs:    time.Since(start).Milliseconds(),
			})
			return nil, ferr
		}
	}

	entry := &cache.Entry{
		Result:       res.Result,
		Tier:         t.Name,
		CostUSD:      res.CostUSD,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
	}
	if err := g.cache.Set(bgCtx, fp, entry, g.cacheTTL); err != nil {
		log.Printf("gateway: cache set failed: %v", err)
	}
	g.commit(bgCtx, req.UserID, res.CostUSD)
	g.record(bgCtx, req.UserID, false, res.CostUSD)

	resp := &Response{
		Result:     res.Result,
		Provider:   t.Name,
		Cost:       res.CostUSD,
		Tokens:     Tokens{Input: res.InputTokens, Output: res.OutputTokens},
		Cached:     false,
		DurationMs: time.Since(start).Milliseconds(),
	}
	g.logUsage(&usagelog.Record{
		UserID:       req.UserID,
		RequestID:    req.RequestID,
		Task:         req.Task,
		Provider:     t.Name,
		Model:        res.Model,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		CostUSD:      res.CostUSD,
		LatencyMs:    resp.DurationMs,
	})
	return resp, nil
}

// UsageStats never fails; a broken stats store degrades to all-zero stats.
func (g *Gateway) UsageStats(ctx context.Context, userID string) *stats.Usage {
	u, err := g.stats.Stats(ctx, userID)
	if err != nil {
		log.Printf("gateway: stats read failed: %v", err)
		return &stats.Usage{}
	}
	return u
}

func (g *Gateway) invoke(ctx context.Context, t tier.Tier, tk task.Task, data json.RawMessage) (*provider.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.breaker.Execute(func() (any, error) {
		return g.provider.Invoke(ctx, t, tk, data)
	})
	if err != nil {
		return nil, err
	}
	return out.(*provider.Result), nil
}

func (g *Gateway) cacheLookup(ctx context.Context, fp string) *cache.Entry {
	entry, ok, err := g.cache.Get(ctx, fp)
	if err != nil {
		// A broken cache is a miss, not an outage.
		log.Printf("gateway: cache get failed: %v", err)
		return nil
	}
	if !ok {
		return nil
	}
	return entry
}

func (g *Gateway) commit(ctx context.Context, userID string, costUSD float64) {
	if err := g.quota.Commit(ctx, userID, costUSD); err != nil {
		log.Printf("gateway: quota commit failed for %s: %v", userID, err)
	}
}

func (g *Gateway) record(ctx context.Context, userID string, cached bool, costUSD float64) {
	if err := g.stats.Record(ctx, userID, cached, costUSD); err != nil {
		log.Printf("gateway: stats record failed for %s: %v", userID, err)
	}
}

func (g *Gateway) logUsage(rec *usagelog.Record) {
	if g.usage == nil {
		return
	}
	go func() {
		if err := g.usage.Log(context.Background(), rec); err != nil {
			log.Printf("gateway: usage log failed: %v", err)
		}
	}()
}
