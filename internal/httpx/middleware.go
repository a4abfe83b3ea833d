package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/identity"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/ariefcatur/storefront-checkout/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	HeaderUserID    = "X-User-Id"
	HeaderUserRole  = "X-User-Role"
	HeaderSignature = "Gateway-Signature"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// observe puts a request-scoped logger in the context, then records an
// access log line and the HTTP metrics once the handler returns.
func observe(base *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	if base == nil {
		base = zap.NewNop()
	}
	prop := otel.GetTextMapPropagator()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			fields := []zap.Field{zap.String("request_id", middleware.GetReqID(ctx))}
			if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
				fields = append(fields, zap.String("trace_id", sc.TraceID().String()), zap.String("span_id", sc.SpanID().String()))
			}
			log := base.With(fields...)
			ctx = logging.ContextWithLogger(ctx, log)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			route := "unmatched"
			if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			m.HTTP(r.Method, route, rec.status, start)
			log.Info("http_request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// requireActor resolves the caller from the identity headers set by the
// upstream identity provider.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing identity"})
			return
		}
		a := identity.Actor{UserID: userID, Role: strings.TrimSpace(r.Header.Get(HeaderUserRole))}
		ctx := identity.WithActor(r.Context(), a)
		ctx = logging.ContextWithLogger(ctx, logging.FromContext(ctx).With(zap.String("user_id", userID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actor(r *http.Request) identity.Actor {
	a, _ := identity.FromContext(r.Context())
	return a
}
