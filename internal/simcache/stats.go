package simcache

import "sync"

// SectionStats はセクションごとの集計値。
type SectionStats struct {
	Hits        int64 `json:"hits"`         // TTL内でネットワークを使わずに返した回数
	OK          int64 `json:"ok"`           // 200で更新した回数
	NotModified int64 `json:"not_modified"` // 304で鮮度を確認した回数
	Degraded    int64 `json:"degraded"`     // 一覧から再構築した回数
	Fallbacks   int64 `json:"fallbacks"`    // 通信失敗時にキャッシュで応答した回数
	Errors      int64 `json:"errors"`
}

// Stats は診断用のカウンター。
type Stats struct {
	mu       sync.Mutex
	sections map[string]*SectionStats
}

func newStats() *Stats {
	return &Stats{sections: make(map[string]*SectionStats)}
}

func (s *Stats) record(section string, f func(*SectionStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sections[section]
	if !ok {
		st = &SectionStats{}
		s.sections[section] = st
	}
	f(st)
}

// Snapshot は現在の集計値のコピーを返す。
func (s *Stats) Snapshot() map[string]SectionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]SectionStats, len(s.sections))
	for k, v := range s.sections {
		out[k] = *v
	}
	return out
}
