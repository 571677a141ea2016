package router

import (
	"context"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-account/internal/auth"
	"github.com/ovaphlow/pitchfork/service-account/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-account/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-account/internal/postal"
	"github.com/ovaphlow/pitchfork/service-account/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-account/internal/user"
	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

const RequestIDHeader = "X-Request-ID"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

func (lrw *loggingResponseWriter) statusCode() int {
	if lrw.status == 0 {
		return http.StatusOK
	}
	return lrw.status
}

type requestIDKey struct{}

// RequestID returns the id RequestIDMiddleware attached to ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware keeps an incoming X-Request-ID or mints a snowflake id,
// and echoes it on the response.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 64 {
				id = utilities.NewSnowflakeID()
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// LoggingMiddleware logs every request and records the HTTP metrics.
func LoggingMiddleware(logger *zap.SugaredLogger, ips *httpx.IPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.statusCode()

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(dur.Seconds())

			log := logger.Debugw
			if status >= http.StatusInternalServerError {
				log = logger.Warnw
			}
			log("http request",
				"request_id", RequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", ips.ClientIP(r),
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// RecoverMiddleware turns a panic into a 500 error body.
func RecoverMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logger.Errorw("handler panic", "request_id", RequestID(r.Context()), "panic", v, "stack", string(debug.Stack()))
					httpx.Error(w, logger, apperr.Internal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			// HSTS only over TLS, 30 days
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Deps are the handlers and policies the routes are built from.
type Deps struct {
	Logger    *zap.SugaredLogger
	Prefix    string
	Users     *user.Handler
	Auth      *auth.Handler
	Postal    *postal.Handler
	Limiter   *ratelimit.Limiter
	LoginRule ratelimit.Rule
	ResetRule ratelimit.Rule
	// ClientIPs resolves the client address for logs; nil uses the socket peer.
	ClientIPs *httpx.IPResolver
	// Health reports readiness of the backing services; nil means always healthy.
	Health func(ctx context.Context) error
}

// RegisterRoutes mounts every endpoint on a http.ServeMux under d.Prefix.
func RegisterRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()
	p := d.Prefix
	bearer := d.Auth.RequireBearer
	limit := func(rule ratelimit.Rule, h http.HandlerFunc) http.Handler {
		return d.Limiter.Middleware(rule)(h)
	}

	mux.HandleFunc("GET "+p+"/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				d.Logger.Warnw("health check failed", "error", err)
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	// session
	mux.Handle("POST "+p+"/users/login", limit(d.LoginRule, d.Auth.Login))
	mux.HandleFunc("POST "+p+"/users/refresh", d.Auth.Refresh)
	mux.Handle("POST "+p+"/users/logout", bearer(http.HandlerFunc(d.Auth.Logout)))
	mux.Handle("POST "+p+"/users/password-reset/request", limit(d.ResetRule, d.Auth.RequestPasswordReset))
	mux.HandleFunc("POST "+p+"/users/password-reset/confirm", d.Auth.ConfirmPasswordReset)
	mux.HandleFunc("POST "+p+"/users/introspect", d.Auth.Introspect)

	// accounts
	mux.HandleFunc("POST "+p+"/users", d.Users.Register)
	mux.Handle("GET "+p+"/users", bearer(http.HandlerFunc(d.Users.List)))
	mux.Handle("GET "+p+"/users/me", bearer(http.HandlerFunc(d.Users.Me)))
	mux.Handle("GET "+p+"/users/by-name/{name}", bearer(http.HandlerFunc(d.Users.FindByName)))
	mux.Handle("GET "+p+"/users/by-email/{email}", bearer(http.HandlerFunc(d.Users.FindByEmail)))
	mux.Handle("PUT "+p+"/users/{id}", bearer(http.HandlerFunc(d.Users.Update)))
	mux.Handle("DELETE "+p+"/users/{id}", bearer(http.HandlerFunc(d.Users.Delete)))

	mux.HandleFunc("GET "+p+"/postal-codes/{code}", d.Postal.Lookup)

	// security headers innermost, then panic recovery, logging and request ids
	var h http.Handler = mux
	h = SecurityHeadersMiddleware()(h)
	h = RecoverMiddleware(d.Logger)(h)
	h = LoggingMiddleware(d.Logger, d.ClientIPs)(h)
	h = RequestIDMiddleware()(h)
	return h
}
