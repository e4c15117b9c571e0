package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/concurseiro/internal/httpjson"
	"github.com/hitoshi/concurseiro/internal/model"
)

// AdminServiceInterface は管理ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	DBUsage(ctx context.Context) (*model.DBUsageReport, error)
}

// AdminHandler は管理者向けのHTTPハンドラー。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// DBUsage はデータベース使用状況レポートを返す。
// GET /api/admin/db-usage
func (h *AdminHandler) DBUsage(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.DBUsage(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteSuccess(w, http.StatusOK, report)
}
