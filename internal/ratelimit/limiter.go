// Package ratelimit counts requests per client in fixed redis windows.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-account/internal/httpx"
)

// Rule is a named budget of Limit hits per Window.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Limiter enforces rules against redis counters. A nil client disables it,
// and redis faults let the request through.
type Limiter struct {
	client redis.UniversalClient
	ips    *httpx.IPResolver
	log    *zap.SugaredLogger
}

// NewLimiter keys Middleware on the address ips resolves; a nil resolver
// uses the socket peer.
func NewLimiter(client redis.UniversalClient, ips *httpx.IPResolver, log *zap.SugaredLogger) *Limiter {
	return &Limiter{client: client, ips: ips, log: log}
}

func key(rule Rule, subject string) string {
	return "ratelimit:" + rule.Name + ":" + subject
}

// Allow records one hit for subject and returns apperr.RateLimited with a
// retry_after detail once the rule's budget is spent.
func (l *Limiter) Allow(ctx context.Context, rule Rule, subject string) error {
	if l == nil || l.client == nil || rule.Limit <= 0 {
		return nil
	}
	k := key(rule, subject)
	// one MULTI/EXEC: the window is armed in the same step as the first hit, and
	// a counter that somehow lost its TTL gets one back on the next hit
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, rule.Window)
		ttl = pipe.TTL(ctx, k)
		return nil
	})
	if err != nil {
		l.log.Warnw("rate limiter unavailable, allowing request", "rule", rule.Name, "error", err)
		return nil
	}
	count := incr.Val()
	if count <= int64(rule.Limit) {
		return nil
	}

	retry := rule.Window
	if d := ttl.Val(); d > 0 {
		retry = d
	}
	l.log.Warnw("rate limit exceeded", "rule", rule.Name, "subject", subject, "count", count)
	return apperr.RateLimited.WithDetail("retry_after", int(math.Ceil(retry.Seconds())))
}

// Middleware applies rule per client IP.
func (l *Limiter) Middleware(rule Rule) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := l.Allow(r.Context(), rule, l.ips.ClientIP(r)); err != nil {
				if ae, ok := apperr.As(err); ok {
					if secs, ok := ae.Details["retry_after"].(int); ok {
						w.Header().Set("Retry-After", strconv.Itoa(secs))
					}
				}
				httpx.Error(w, l.log, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
