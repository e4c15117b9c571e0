package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/concurseiro/internal/httpjson"
	"github.com/hitoshi/concurseiro/internal/middleware"
	"github.com/hitoshi/concurseiro/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はパスワードを確認したうえで退会処理を実行する。
	Withdraw(ctx context.Context, userID, password string) error
}

// PreferenceServiceInterface はユーザー設定ハンドラーが必要とするサービスインターフェース。
type PreferenceServiceInterface interface {
	Get(ctx context.Context, userID string) (*model.UserPreference, error)
	SelectConcurso(ctx context.Context, userID, concursoID string) (*model.UserPreference, error)
}

// UserHandler はユーザー管理とユーザー設定のHTTPハンドラー。
type UserHandler struct {
	service     UserServiceInterface
	preferences PreferenceServiceInterface
	authConfig  AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
// authConfigは退会時にセッションCookieを削除するために使う。
func NewUserHandler(service UserServiceInterface, preferences PreferenceServiceInterface, authConfig AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service:     service,
		preferences: preferences,
		authConfig:  authConfig,
	}
}

type withdrawRequest struct {
	Password string `json:"password"`
}

type preferenceRequest struct {
	SelectedConcursoID string `json:"selected_concurso_id"`
}

type preferenceResponse struct {
	SelectedConcursoID string     `json:"selected_concurso_id,omitempty"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

func toPreferenceResponse(p *model.UserPreference) preferenceResponse {
	resp := preferenceResponse{SelectedConcursoID: p.SelectedConcursoID}
	if !p.UpdatedAt.IsZero() {
		t := p.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID, req.Password); err != nil {
		handleServiceError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.authConfig.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.authConfig.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	httpjson.WriteNoContent(w)
}

// GetPreferences はユーザー設定を返す。
// GET /api/me/preferences
func (h *UserHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	pref, err := h.preferences.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteSuccess(w, http.StatusOK, toPreferenceResponse(pref))
}

// UpdatePreferences は選択中の concurso を更新する。
// PUT /api/me/preferences
func (h *UserHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req preferenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pref, err := h.preferences.SelectConcurso(r.Context(), userID, req.SelectedConcursoID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteSuccess(w, http.StatusOK, toPreferenceResponse(pref))
}
