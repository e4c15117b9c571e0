package edital

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/repository"
	"github.com/hitoshi/concurseiro/internal/security"
)

// Upserter はフィードから取得した公示を同一性判定のうえ保存する。
type Upserter struct {
	editais   repository.EditalRepository
	sanitizer security.HTMLSanitizer
	now       func() time.Time
}

// NewUpserter はUpserterを生成する。
func NewUpserter(editais repository.EditalRepository, sanitizer security.HTMLSanitizer) *Upserter {
	return &Upserter{editais: editais, sanitizer: sanitizer, now: time.Now}
}

// Upsert は公示をフィード単位で保存する。既存判定の優先順位は
// (feed_id, guid_or_id) > (feed_id, link) > content_hash。
// 戻り値は挿入数、更新数、エラー。
func (u *Upserter) Upsert(ctx context.Context, feed *model.EditalFeed, items []model.ParsedEdital) (inserted, updated int, err error) {
	if len(items) == 0 {
		return 0, 0, nil
	}

	now := u.now()
	for _, parsed := range items {
		title := u.sanitizer.Plain(parsed.Title)
		summary := u.sanitizer.Rich(parsed.Summary)
		hash := ContentHash(title, parsed.PublishedAt, summary)

		existing, err := u.find(ctx, feed.ID, parsed, hash)
		if err != nil {
			return inserted, updated, fmt.Errorf("公示の同一性判定に失敗: %w", err)
		}

		if existing != nil {
			existing.GuidOrID = parsed.GuidOrID
			existing.Title = title
			existing.Link = parsed.Link
			existing.Summary = summary
			existing.ContentHash = hash
			existing.ConcursoID = feed.ConcursoID
			if parsed.PublishedAt != nil {
				existing.PublishedAt = parsed.PublishedAt
			}
			existing.FetchedAt = now
			existing.UpdatedAt = now
			if err := u.editais.Update(ctx, existing); err != nil {
				return inserted, updated, fmt.Errorf("公示の更新に失敗: %w", err)
			}
			updated++
			continue
		}

		e := &model.Edital{
			ID:          uuid.New().String(),
			FeedID:      feed.ID,
			ConcursoID:  feed.ConcursoID,
			GuidOrID:    parsed.GuidOrID,
			Title:       title,
			Link:        parsed.Link,
			Summary:     summary,
			PublishedAt: parsed.PublishedAt,
			ContentHash: hash,
			FetchedAt:   now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := u.editais.Create(ctx, e); err != nil {
			return inserted, updated, fmt.Errorf("公示の挿入に失敗: %w", err)
		}
		inserted++
	}

	slog.Info("公示UPSERT完了",
		"feed_id", feed.ID,
		"inserted", inserted,
		"updated", updated,
	)
	return inserted, updated, nil
}

func (u *Upserter) find(ctx context.Context, feedID string, parsed model.ParsedEdital, hash string) (*model.Edital, error) {
	if parsed.GuidOrID != "" {
		e, err := u.editais.FindByFeedAndGUID(ctx, feedID, parsed.GuidOrID)
		if err != nil || e != nil {
			return e, err
		}
	}
	if parsed.Link != "" {
		e, err := u.editais.FindByFeedAndLink(ctx, feedID, parsed.Link)
		if err != nil || e != nil {
			return e, err
		}
	}
	return u.editais.FindByContentHash(ctx, feedID, hash)
}

// ContentHash は title|published|summary のSHA-256を16進で返す。
func ContentHash(title string, publishedAt *time.Time, summary string) string {
	pub := ""
	if publishedAt != nil {
		pub = publishedAt.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(title + "|" + pub + "|" + summary))
	return hex.EncodeToString(sum[:])
}
