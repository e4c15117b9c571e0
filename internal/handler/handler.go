// Package handler はHTTPハンドラーとルーティングを提供する。
// すべての /api/* レスポンスは httpjson の統一エンベロープで返す。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/concurseiro/internal/httpjson"
	"github.com/hitoshi/concurseiro/internal/logger"
	"github.com/hitoshi/concurseiro/internal/middleware"
	"github.com/hitoshi/concurseiro/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限。設問の一括差し替えを考慮して大きめに取る。
const maxRequestBodySize = 2 << 20

// decodeJSON はリクエストボディをJSONとしてデコードする。
// 失敗した場合はバリデーションエラーを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			httpjson.WriteError(w, model.NewValidationError("O corpo da requisição é grande demais."))
		case errors.Is(err, io.EOF):
			httpjson.WriteError(w, model.NewValidationError("O corpo da requisição está vazio."))
		default:
			httpjson.WriteError(w, model.NewValidationError("Não foi possível interpretar o JSON enviado."))
		}
		return false
	}
	return true
}

// requireUser はコンテキストから認証済みユーザーIDを取り出す。
// 未認証の場合は401を書き込みfalseを返す。
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		httpjson.WriteError(w, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層のエラーをレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httpjson.HandleError(logger.FromContext(r.Context()), w, r, err)
}

// parseLimit はクエリパラメータ limit を解釈する。未指定・不正な値は0を返す。
func parseLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// parseDate は YYYY-MM-DD 形式の日付を解釈する。空文字列はnilを返す。
func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, model.NewValidationError("Data inválida. Use o formato AAAA-MM-DD.")
	}
	return &t, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}
