package simcache

import (
	"context"
	"fmt"

	"github.com/hitoshi/concurseiro/internal/realtime"
	"github.com/hitoshi/concurseiro/internal/simulado"
)

// Invalidate は変更通知の影響を受けるエントリを検証子ごと削除する。
func (c *Client) Invalidate(ctx context.Context, ev realtime.ChangeEvent) error {
	concursoID := ev.Concurso()
	if concursoID == "" {
		return nil
	}

	switch ev.Table {
	case realtime.TableConcursos:
		return c.dropConcurso(ctx, concursoID)

	case realtime.TableSimulados:
		if ev.Slug == "" {
			return c.dropConcurso(ctx, concursoID)
		}
		return c.drop(ctx,
			Key(simulado.SectionIndex, concursoID, ""),
			Key(simulado.SectionMeta, concursoID, ev.Slug),
			Key(simulado.SectionQuestions, concursoID, ev.Slug),
			Key(simulado.SectionProgress, concursoID, ev.Slug),
		)

	case realtime.TableProgress:
		if ev.Slug == "" {
			return c.dropSection(ctx, simulado.SectionProgress, concursoID)
		}
		return c.drop(ctx, Key(simulado.SectionProgress, concursoID, ev.Slug))
	}
	return nil
}

// Handler はSubscriberに渡すハンドラを返す。
func (c *Client) Handler() realtime.Handler {
	return func(ctx context.Context, ev realtime.ChangeEvent) {
		if err := c.Invalidate(ctx, ev); err != nil {
			c.stats.record("invalidate", func(s *SectionStats) { s.Errors++ })
		}
	}
}

func (c *Client) drop(ctx context.Context, keys ...string) error {
	all := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		all = append(all, k, validatorKey(k))
	}
	if err := c.store.Delete(ctx, all...); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

func (c *Client) dropConcurso(ctx context.Context, concursoID string) error {
	for section := range DefaultTTLs {
		if err := c.dropSection(ctx, section, concursoID); err != nil {
			return err
		}
	}
	return nil
}

// dropSection はセクション内の concurso に属するエントリをすべて削除する。
func (c *Client) dropSection(ctx context.Context, section, concursoID string) error {
	base := Key(section, concursoID, "")
	if err := c.drop(ctx, base); err != nil {
		return err
	}
	for _, prefix := range []string{base + ":", validatorKey(base) + ":"} {
		if err := c.store.DeletePrefix(ctx, prefix); err != nil {
			return fmt.Errorf("failed to invalidate cache: %w", err)
		}
	}
	return nil
}
