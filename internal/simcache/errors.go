package simcache

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hitoshi/concurseiro/internal/model"
)

// Error はAPI呼び出しの失敗を表す。Categoryはサーバーと同じ4分類。
type Error struct {
	Category string
	Status   int // 通信エラーの場合は0
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("simcache: %s: %v", e.Category, e.Err)
	case e.Code != "":
		return fmt.Sprintf("simcache: %s: [%s] %s (status %d)", e.Category, e.Code, e.Message, e.Status)
	default:
		return fmt.Sprintf("simcache: %s: status %d", e.Category, e.Status)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClassifyStatus はHTTPステータスをエラーカテゴリに分類する。
// エンベロープにカテゴリが含まれない場合に使う。
func ClassifyStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.CategoryAuth
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return model.CategoryNetwork
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return model.CategoryNetwork
	case status >= 400 && status < 500:
		return model.CategoryValidation
	default:
		return model.CategoryServer
	}
}

// isNetwork はキャッシュへのフォールバック対象かを判定する。
func isNetwork(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Category == model.CategoryNetwork
}

func networkError(err error) *Error {
	return &Error{Category: model.CategoryNetwork, Err: err}
}
