package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/concurseiro/internal/metrics"
)

// NotifyChannel はマイグレーションのトリガーが NOTIFY するチャンネル名。
// トリガー側に埋め込まれているため設定では変更できない。
const NotifyChannel = "concurseiro_changes"

// Handler は変更通知を処理する関数。
type Handler func(ctx context.Context, ev ChangeEvent)

// ListenerConfig はListenerの設定。
type ListenerConfig struct {
	DSN string
	// Channel が空の場合は NotifyChannel を購読する。
	Channel string

	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	// PingInterval の間に通知がなければ接続を確認する。
	PingInterval time.Duration
}

// Listener はPostgreSQLのNOTIFYを受信してハンドラに配送する。
type Listener struct {
	config   ListenerConfig
	handlers []Handler
	metrics  metrics.RealtimeMetrics
}

// NewListener はListenerを生成する。mがnilの場合はメトリクスを記録しない。
func NewListener(config ListenerConfig, m metrics.RealtimeMetrics, handlers ...Handler) *Listener {
	if config.Channel == "" {
		config.Channel = NotifyChannel
	}
	if config.MinReconnectInterval <= 0 {
		config.MinReconnectInterval = 10 * time.Second
	}
	if config.MaxReconnectInterval <= 0 {
		config.MaxReconnectInterval = time.Minute
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 90 * time.Second
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Listener{config: config, handlers: handlers, metrics: m}
}

// Run はコンテキストがキャンセルされるまで通知を受信し続ける。
// 再接続はpq.Listenerに任せ、再接続直後は取りこぼしがあり得ることをログに残す。
func (l *Listener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.config.DSN, l.config.MinReconnectInterval, l.config.MaxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventConnected:
				slog.Info("realtime listener connected", slog.String("channel", l.config.Channel))
			case pq.ListenerEventDisconnected:
				slog.Warn("realtime listener disconnected", slog.Any("error", err))
			case pq.ListenerEventReconnected:
				slog.Warn("realtime listener reconnected; notifications may have been missed")
			case pq.ListenerEventConnectionAttemptFailed:
				slog.Error("realtime listener connection attempt failed", slog.Any("error", err))
			}
		})
	defer listener.Close()

	if err := listener.Listen(l.config.Channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.config.Channel, err)
	}

	slog.Info("realtime listener started", slog.String("channel", l.config.Channel))

	for {
		select {
		case <-ctx.Done():
			slog.Info("realtime listener stopped")
			return nil

		case n := <-listener.Notify:
			if n == nil {
				// 再接続時にnilが届く
				continue
			}
			l.dispatch(ctx, []byte(n.Extra))

		case <-time.After(l.config.PingInterval):
			if err := listener.Ping(); err != nil {
				slog.Warn("realtime listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, payload []byte) {
	ev, err := ParseChangeEvent(payload)
	if err != nil {
		slog.Warn("ignoring malformed change event", slog.String("error", err.Error()))
		return
	}
	l.metrics.RecordChangeEvent(ev.Table)
	slog.Debug("change event received",
		slog.String("table", ev.Table),
		slog.String("action", ev.Action),
		slog.String("id", ev.ID),
	)
	for _, h := range l.handlers {
		h(ctx, ev)
	}
}
