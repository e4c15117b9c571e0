// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/concurseiro/internal/httpjson"
	"github.com/hitoshi/concurseiro/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey = contextKey("user_id")
	roleContextKey   = contextKey("role")
)

// ErrNoUser はコンテキストに認証済みユーザーがいないことを表す。
var ErrNoUser = errors.New("user ID not found in context")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware はCookieのセッションを検証し、ユーザーIDとロールを
// コンテキストに注入する。未認証なら401のエンベロープを返す。
func NewSessionMiddleware(finder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				httpjson.WriteError(w, model.NewUnauthorizedError())
				return
			}

			session, err := finder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.ErrorContext(r.Context(), "failed to find session", slog.String("error", err.Error()))
				httpjson.WriteError(w, model.NewUnauthorizedError())
				return
			}
			if session == nil {
				httpjson.WriteError(w, model.NewUnauthorizedError())
				return
			}

			if info := requestInfoFrom(r.Context()); info != nil {
				info.userID = session.UserID
			}
			ctx := ContextWithUser(r.Context(), session.UserID, session.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewAdminOnlyMiddleware は管理者以外を403で拒否する。セッションミドルウェアの後に置く。
func NewAdminOnlyMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := UserIDFromContext(r.Context()); err != nil {
				httpjson.WriteError(w, model.NewUnauthorizedError())
				return
			}
			if RoleFromContext(r.Context()) != model.RoleAdmin {
				slog.WarnContext(r.Context(), "admin route denied",
					slog.String("path", r.URL.Path),
				)
				httpjson.WriteError(w, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext はセッションミドルウェアが注入したユーザーIDを返す。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", ErrNoUser
	}
	return userID, nil
}

// RoleFromContext はユーザーのロールを返す。未認証なら空文字。
func RoleFromContext(ctx context.Context) model.Role {
	role, _ := ctx.Value(roleContextKey).(model.Role)
	return role
}

// ContextWithUser はコンテキストにユーザーIDとロールを注入する。
func ContextWithUser(ctx context.Context, userID string, role model.Role) context.Context {
	ctx = context.WithValue(ctx, userIDContextKey, userID)
	return context.WithValue(ctx, roleContextKey, role)
}
