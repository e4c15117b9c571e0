// Package httpjson は /api/* の統一JSONエンベロープ
// { "success": bool, "data"?: any, "error"?: {code, message, category, action} } を提供する。
package httpjson

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/hitoshi/concurseiro/internal/model"
)

// ErrorBody はエンベロープのerrorフィールド。
type ErrorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// Envelope はすべてのAPIレスポンスの外枠。
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// DataEnvelope は Data を型付きで読み出すための受信用エンベロープ。
type DataEnvelope[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// MarshalSuccess は成功エンベロープをJSONにエンコードする。
// 条件付きGETのETag計算とペイロードキャッシュに使うため、バイト列で返す。
func MarshalSuccess(data any) ([]byte, error) {
	return json.Marshal(Envelope{Success: true, Data: data})
}

// WriteSuccess は成功エンベロープを書き込む。
func WriteSuccess(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Envelope{Success: true, Data: data})
}

// WriteNoContent は本文なしの204を書き込む。
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError はAPIErrorをエンベロープとして書き込む。
// ステータスコードはエラーコードから決定し、RetryAfterが設定されていればRetry-Afterヘッダーを付与する。
func WriteError(w http.ResponseWriter, apiErr *model.APIError) {
	if apiErr.RetryAfter > 0 {
		seconds := int(math.Ceil(apiErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(apiErr.Code))
	json.NewEncoder(w).Encode(Envelope{
		Success: false,
		Error: &ErrorBody{
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
		},
	})
}

// HandleError はサービス層のエラーをレスポンスに変換する。
// APIError以外のエラーは詳細をログのみに記録し、INTERNAL_ERRORを返す。
func HandleError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteError(w, apiErr)
		return
	}
	logger.ErrorContext(r.Context(), "internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	WriteError(w, model.NewInternalError())
}

// StatusFor はエラーコードをHTTPステータスコードに変換する。
func StatusFor(code string) int {
	switch code {
	case model.ErrCodeValidation, model.ErrCodeInvalidURL, model.ErrCodeSSRFBlocked:
		return http.StatusBadRequest
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeCSRFInvalid:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeConcursoNotFound, model.ErrCodeCategoryNotFound,
		model.ErrCodeSimuladoNotFound, model.ErrCodeFlashcardNotFound, model.ErrCodeEditalFeedNotFound,
		model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmailAlreadyRegistered, model.ErrCodeSlugConflict, model.ErrCodeSimuladoFinished,
		model.ErrCodeDuplicateEditalFeed, model.ErrCodeFeedNotStopped:
		return http.StatusConflict
	case model.ErrCodeFeedNotDetected, model.ErrCodeParseFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodeAccountLocked, model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeFetchFailed, model.ErrCodeBackendUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeBackendNotConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
