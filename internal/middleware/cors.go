package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// NewCORSMiddleware は指定オリジンからのcredentials付きリクエストを許可する。
// 条件付きGETのためETagとLast-Modifiedをクライアントに公開する。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{allowedOrigin},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Content-Type", CSRFHeaderName, "If-None-Match", "If-Modified-Since"},
		ExposedHeaders:   []string{"ETag", "Last-Modified", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	})
}
