package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/concurseiro/internal/logger"
)

type requestInfoKey struct{}

// requestInfo は内側のミドルウェアが判明した情報をアクセスログへ渡すための入れ物。
type requestInfo struct {
	userID string
}

func requestInfoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*requestInfo)
	return info
}

// NewLoggingMiddleware はリクエストごとに http_request ログを出力する。
// method、path、status、duration_ms、request_id、認証済みなら user_id を含む。
// 4xxはWARN、5xxはERRORで出力する。
// リクエストIDを付与したロガーをコンテキストに入れる。
func NewLoggingMiddleware(base *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			info := &requestInfo{}
			reqID := chimw.GetReqID(r.Context())

			reqLogger := base
			if reqID != "" {
				reqLogger = base.With(slog.String("request_id", reqID))
			}
			ctx := context.WithValue(r.Context(), requestInfoKey{}, info)
			ctx = logger.WithLogger(ctx, reqLogger)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000.0),
			}
			if info.userID != "" {
				args = append(args, slog.String("user_id", info.userID))
			}

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			reqLogger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
