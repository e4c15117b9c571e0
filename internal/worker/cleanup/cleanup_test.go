package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type execCall struct {
	query string
	args  []any
}

// mockExecutor は実行されたSQLと引数を記録する。
type mockExecutor struct {
	calls  []execCall
	failOn string
	rows   int64
}

func (m *mockExecutor) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	m.calls = append(m.calls, execCall{query: query, args: args})
	if m.failOn != "" && strings.Contains(query, m.failOn) {
		return nil, errors.New("permission denied")
	}
	return &fakeResult{rowsAffected: m.rows}, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func TestNewCleanupJob_Defaults(t *testing.T) {
	job := NewCleanupJob(&mockExecutor{}, nil, 0)
	if job.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", job.RetentionDays)
	}
	if job.EditalRetentionDays != 365 {
		t.Errorf("EditalRetentionDays = %d, want 365", job.EditalRetentionDays)
	}
}

func TestRun_DeletesAllTargets(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{rows: 2}
	job := NewCleanupJob(mock, newTestLogger(&buf), 45)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(mock.calls) != len(steps) {
		t.Fatalf("実行数 = %d, want %d", len(mock.calls), len(steps))
	}

	for _, c := range mock.calls {
		switch {
		case strings.Contains(c.query, "FROM sessions"):
			if len(c.args) != 0 {
				t.Errorf("sessions に引数は不要: %v", c.args)
			}
		case strings.Contains(c.query, "FROM editais"):
			if len(c.args) != 1 || c.args[0] != "365 days" {
				t.Errorf("editais args = %v", c.args)
			}
		default:
			if !strings.Contains(c.query, "deleted_at IS NOT NULL") {
				t.Errorf("論理削除済みの行のみを対象にすべき: %s", c.query)
			}
			if len(c.args) != 1 || c.args[0] != "45 days" {
				t.Errorf("args = %v", c.args)
			}
		}
	}

	if !strings.Contains(buf.String(), `"deleted_count":12`) {
		t.Errorf("合計削除件数がログに出ていない: %s", buf.String())
	}
}

func TestRun_ContinuesAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{failOn: "FROM simulados"}
	job := NewCleanupJob(mock, newTestLogger(&buf), 30)

	err := job.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "simulados") {
		t.Fatalf("simulados の失敗を返すべき: %v", err)
	}
	if len(mock.calls) != len(steps) {
		t.Errorf("失敗後も残りを実行すべき: %d", len(mock.calls))
	}
}

func TestRun_Idempotent(t *testing.T) {
	job := NewCleanupJob(&mockExecutor{}, nil, 30)
	for range 2 {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	}
}
