package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/hitoshi/concurseiro/internal/httpjson"
	"github.com/hitoshi/concurseiro/internal/model"
)

// PathPrefix は転送対象のパスプレフィックス。転送先では取り除かれる。
const PathPrefix = "/api/backend"

// IdentityFunc はリクエストから認証済みユーザーのIDとロールを取り出す。
type IdentityFunc func(r *http.Request) (userID string, role model.Role, ok bool)

type tokenKey struct{}

// Proxy はバックエンドAPIへのリバースプロキシ。
type Proxy struct {
	issuer   *TokenIssuer
	identity IdentityFunc
	rp       *httputil.ReverseProxy
}

// New はProxyを生成する。targetURLが空の場合はnilを返し、呼び出し側は未設定として扱う。
func New(targetURL string, issuer *TokenIssuer, identity IdentityFunc) (*Proxy, error) {
	if targetURL == "" {
		return nil, nil
	}
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url scheme: %s", target.Scheme)
	}

	p := &Proxy{issuer: issuer, identity: identity}
	p.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = strings.TrimPrefix(pr.Out.URL.Path, PathPrefix)
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.SetXForwarded()

			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("X-CSRF-Token")
			if token, ok := pr.In.Context().Value(tokenKey{}).(string); ok {
				pr.Out.Header.Set("Authorization", "Bearer "+token)
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			// バックエンドのCookieはこのオリジンに設定させない
			resp.Header.Del("Set-Cookie")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Warn("backend proxy error",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			httpjson.WriteError(w, model.NewBackendUnavailableError())
		},
	}
	return p, nil
}

// ServeHTTP は認証済みユーザーのトークンを付与して転送する。
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := p.identity(r)
	if !ok {
		httpjson.WriteError(w, model.NewUnauthorizedError())
		return
	}
	token, err := p.issuer.Issue(userID, role)
	if err != nil {
		httpjson.HandleError(slog.Default(), w, r, err)
		return
	}
	ctx := context.WithValue(r.Context(), tokenKey{}, token)
	p.rp.ServeHTTP(w, r.WithContext(ctx))
}

// Handler はProxyをハンドラとして返す。pがnilの場合は未設定エラーを返すハンドラとなる。
func Handler(p *Proxy) http.Handler {
	if p == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			httpjson.WriteError(w, model.NewBackendNotConfiguredError())
		})
	}
	return p
}
