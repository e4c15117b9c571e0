// Package admin は管理パネル向けの運用情報を提供する。
package admin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/repository"
)

// reportTTL は同じレポートを返す期間。
const reportTTL = 30 * time.Second

// Service は管理パネルのサービス層。
type Service struct {
	stats repository.StatsRepository
	now   func() time.Time

	mu     sync.Mutex
	cached *model.DBUsageReport
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(stats repository.StatsRepository) *Service {
	return &Service{stats: stats, now: time.Now}
}

// DBUsage はデータベース使用状況をテーブルサイズの大きい順で返す。
func (s *Service) DBUsage(ctx context.Context) (*model.DBUsageReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.cached.GeneratedAt) < reportTTL {
		return s.cached, nil
	}

	report, err := s.stats.DBUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("データベース使用状況の取得に失敗しました: %w", err)
	}
	sort.SliceStable(report.Tables, func(i, j int) bool {
		return report.Tables[i].TotalBytes > report.Tables[j].TotalBytes
	})
	s.cached = report
	return report, nil
}
