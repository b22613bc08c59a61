package api

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/linerpc/linerpc"
)

// outcome classifies a finished request for logs and metrics.
func outcome(result any, err error) string {
	if err != nil {
		var perr *linerpc.Error
		if errors.As(err, &perr) {
			return "error"
		}
		return "fatal"
	}
	switch result.(type) {
	case AppError, *AppError:
		return "rejected"
	}
	return "ok"
}

// RequestLog records every request with its latency and outcome.
func RequestLog(logger *slog.Logger) linerpc.Layer {
	return linerpc.Layer{
		Name:  "request_log",
		Label: "request log",
		Doc:   "Writes one log record per request: method, id, latency and outcome.",
		Middleware: func(next linerpc.Handler) linerpc.Handler {
			return func(ctx context.Context, req *linerpc.Request) (any, error) {
				start := time.Now()
				result, err := next(ctx, req)
				attrs := []any{
					"method", linerpc.RoutePathFromContext(ctx),
					"id", req.ID.String(),
					"latency_ms", time.Since(start).Milliseconds(),
					"outcome", outcome(result, err),
				}
				if err != nil {
					logger.Warn("request failed", append(attrs, "error", err)...)
				} else {
					logger.Info("request", attrs...)
				}
				return result, err
			}
		},
	}
}

// Instrument counts requests and observes their duration.
func Instrument(m *Metrics) linerpc.Layer {
	return linerpc.Layer{
		Name:  "metrics",
		Label: "metrics",
		Doc:   "Counts requests by method and outcome and observes their duration.",
		Middleware: func(next linerpc.Handler) linerpc.Handler {
			return func(ctx context.Context, req *linerpc.Request) (any, error) {
				method := linerpc.RoutePathFromContext(ctx)
				timer := time.Now()
				result, err := next(ctx, req)
				m.Duration.WithLabelValues(method).Observe(time.Since(timer).Seconds())
				m.Requests.WithLabelValues(method, outcome(result, err)).Inc()
				return result, err
			}
		},
	}
}

// methodLimiter applies a token bucket per method and evicts idle entries.
type methodLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	byMethod map[string]*limiterEntry
	hits     uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newMethodLimiter(rps float64, burst int) *methodLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &methodLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
		byMethod: make(map[string]*limiterEntry),
	}
}

func (l *methodLimiter) allow(method string) bool {
	if l == nil {
		return true
	}
	method = strings.TrimSpace(method)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byMethod[method]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byMethod[method] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byMethod {
			if v.lastSeen.Before(cutoff) {
				delete(l.byMethod, k)
			}
		}
	}
	return allowed
}

// RateLimit rejects calls beyond rps per method with a CodeRateLimited
// error. rps <= 0 disables it.
func RateLimit(rps float64, burst int) linerpc.Layer {
	return rateLimitLayer(newMethodLimiter(rps, burst))
}

func rateLimitLayer(l *methodLimiter) linerpc.Layer {
	return linerpc.Layer{
		Name:  "rate_limit",
		Label: "rate limit",
		Doc:   "Token bucket per method. Calls over the limit fail with code -32003.",
		Middleware: func(next linerpc.Handler) linerpc.Handler {
			return func(ctx context.Context, req *linerpc.Request) (any, error) {
				method := linerpc.RoutePathFromContext(ctx)
				if !l.allow(method) {
					return nil, linerpc.NewError(CodeRateLimited, "rate limited: "+method)
				}
				return next(ctx, req)
			}
		},
	}
}
