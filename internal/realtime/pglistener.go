package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Refresher は一覧の再読み込み要求を受け付けるインターフェース。
type Refresher interface {
	RequestRefresh()
}

const (
	// listenerMinReconnect は再接続間隔の初期値。
	listenerMinReconnect = 10 * time.Second
	// listenerMaxReconnect は再接続間隔の上限。
	listenerMaxReconnect = time.Minute
	// listenerPingInterval は通知がない間に接続を確認する間隔。
	listenerPingInterval = 90 * time.Second
)

// PGListener はPostgreSQLのNOTIFYを受信して一覧の再読み込みを要求する。
// 再接続した場合は切断中の通知を取りこぼしている可能性があるため、再読み込みを要求する。
type PGListener struct {
	databaseURL  string
	channel      string
	refresher    Refresher
	logger       *slog.Logger
	pingInterval time.Duration
}

// NewPGListener はPGListenerの新しいインスタンスを生成する。
func NewPGListener(databaseURL, channel string, refresher Refresher, logger *slog.Logger) *PGListener {
	return &PGListener{
		databaseURL:  databaseURL,
		channel:      channel,
		refresher:    refresher,
		logger:       logger,
		pingInterval: listenerPingInterval,
	}
}

// Run はLISTENを開始し、コンテキストがキャンセルされるまで通知を処理する。
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.databaseURL, listenerMinReconnect, listenerMaxReconnect, l.handleEvent)
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("LISTEN %s の開始に失敗しました: %w", l.channel, err)
	}

	l.logger.Info("変更通知の受信を開始しました",
		slog.String("channel", l.channel),
	)

	return l.consume(ctx, listener.Notify, listener.Ping)
}

// consume は通知チャネルを読み続ける。
// nilの通知は再接続を表す。
func (l *PGListener) consume(ctx context.Context, notify <-chan *pq.Notification, ping func() error) error {
	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("変更通知の受信を停止しました")
			return nil
		case n, ok := <-notify:
			if !ok {
				return errors.New("通知チャネルが閉じられました")
			}
			if n == nil {
				l.logger.Info("再接続したため課題一覧を再読み込みします")
			} else {
				l.logger.Debug("変更通知を受信しました",
					slog.String("channel", n.Channel),
					slog.String("issue_id", n.Extra),
				)
			}
			l.refresher.RequestRefresh()
		case <-ticker.C:
			if err := ping(); err != nil {
				l.logger.Warn("通知用接続の確認に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// handleEvent は接続状態の変化をログに記録する。
func (l *PGListener) handleEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.logger.Debug("通知用接続を確立しました")
	case pq.ListenerEventDisconnected:
		l.logger.Warn("通知用接続が切断されました", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		l.logger.Info("通知用接続を再確立しました")
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Warn("通知用接続の再試行に失敗しました", slog.Any("error", err))
	}
}
