package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/docvisionai/backend/pkg/logger"
)

// RequestLogger 为每个请求注入带 request_id 的 slog 记录器，并在结束时输出访问日志。
// 健康检查路径不记录访问日志。
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := logger.WithRequestID(base, chimw.GetReqID(r.Context()))
			ctx := logger.WithContext(r.Context(), reqLogger)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
				return
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"latency_ms", time.Since(start).Milliseconds(),
			}
			switch {
			case status >= 500:
				reqLogger.Error("request completed with server error", attrs...)
			case status >= 400:
				reqLogger.Warn("request completed with client error", attrs...)
			default:
				reqLogger.Info("request completed", attrs...)
			}
		})
	}
}
