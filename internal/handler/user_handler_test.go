package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/concurseiro/internal/middleware"
	"github.com/hitoshi/concurseiro/internal/model"
)

func TestUserHandler_Withdraw(t *testing.T) {
	var gotUser, gotPassword string
	svc := &mockUserService{
		withdrawFn: func(_ context.Context, userID, password string) error {
			gotUser, gotPassword = userID, password
			return nil
		},
	}
	h := NewUserHandler(svc, &mockPreferenceService{}, testAuthConfig)

	w := httptest.NewRecorder()
	h.Withdraw(w, withUser(httptest.NewRequest(http.MethodDelete, "/api/users/me", strings.NewReader(`{"password":"s3nh4"}`)), "user-1"))

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if gotUser != "user-1" || gotPassword != "s3nh4" {
		t.Errorf("user = %q password = %q", gotUser, gotPassword)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != middleware.SessionCookieName || cookies[0].MaxAge != -1 {
		t.Errorf("セッションCookieを削除すべき: %+v", cookies)
	}
}

func TestUserHandler_Withdraw_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"パスワード誤り", model.NewInvalidCredentialsError(), http.StatusUnauthorized, model.ErrCodeInvalidCredentials},
		{"ロックアウト", model.NewAccountLockedError(time.Minute), http.StatusTooManyRequests, model.ErrCodeAccountLocked},
		{"パスワード未入力", model.NewValidationError("Confirme sua senha para excluir a conta."), http.StatusBadRequest, model.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockUserService{withdrawFn: func(context.Context, string, string) error { return tt.err }}
			w := httptest.NewRecorder()
			NewUserHandler(svc, &mockPreferenceService{}, testAuthConfig).Withdraw(w,
				withUser(httptest.NewRequest(http.MethodDelete, "/", strings.NewReader(`{"password":"x"}`)), "user-1"))

			assertErrorCode(t, w, tt.status, tt.code)
			if len(w.Result().Cookies()) != 0 {
				t.Error("失敗時にCookieを変更してはならない")
			}
		})
	}
}

func TestUserHandler_Preferences(t *testing.T) {
	updated := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	prefs := &mockPreferenceService{
		getFn: func(_ context.Context, userID string) (*model.UserPreference, error) {
			return &model.UserPreference{UserID: userID}, nil
		},
		selectConcursoFn: func(_ context.Context, userID, concursoID string) (*model.UserPreference, error) {
			if concursoID == "missing" {
				return nil, model.NewConcursoNotFoundError(concursoID)
			}
			return &model.UserPreference{UserID: userID, SelectedConcursoID: concursoID, UpdatedAt: updated}, nil
		},
	}
	h := NewUserHandler(&mockUserService{}, prefs, testAuthConfig)

	w := httptest.NewRecorder()
	h.GetPreferences(w, withUser(httptest.NewRequest(http.MethodGet, "/", nil), "user-1"))
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), "updated_at") {
		t.Errorf("未設定: status = %d body = %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.UpdatePreferences(w, withUser(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"selected_concurso_id":"c1"}`)), "user-1"))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"selected_concurso_id":"c1"`) {
		t.Errorf("status = %d body = %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.UpdatePreferences(w, withUser(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"selected_concurso_id":"missing"}`)), "user-1"))
	assertErrorCode(t, w, http.StatusNotFound, model.ErrCodeConcursoNotFound)
}
