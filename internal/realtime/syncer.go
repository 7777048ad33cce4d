package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hitoshi/issuetracker/internal/model"
)

// IssueLister は課題一覧の取得インターフェース。
type IssueLister interface {
	ListAll(ctx context.Context) ([]model.Issue, error)
}

// Syncer はリポジトリの課題一覧をPublisherへ反映する。
// 再読み込み要求は1件にまとめられ、処理中に届いた要求は処理後に1回だけ実行される。
type Syncer struct {
	lister     IssueLister
	publisher  *Publisher
	logger     *slog.Logger
	requests   chan struct{}
	newBackOff func() backoff.BackOff
}

// NewSyncer はSyncerの新しいインスタンスを生成する。
func NewSyncer(lister IssueLister, publisher *Publisher, logger *slog.Logger) *Syncer {
	return &Syncer{
		lister:     lister,
		publisher:  publisher,
		logger:     logger,
		requests:   make(chan struct{}, 1),
		newBackOff: defaultBackOff,
	}
}

// defaultBackOff は一覧取得失敗時の再試行間隔。200msから始めて最大30秒まで再試行する。
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// RequestRefresh は一覧の再読み込みを要求する。ブロックしない。
func (s *Syncer) RequestRefresh() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// Run は起動直後に一覧を読み込み、以降は要求があるたびに再読み込みする。
// コンテキストがキャンセルされるまで実行を継続し、キャンセル時はnilを返す。
func (s *Syncer) Run(ctx context.Context) error {
	s.logger.Info("課題一覧の同期を開始しました")

	if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("課題一覧の初回読み込みに失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("課題一覧の同期を停止しました")
			return nil
		case <-s.requests:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("課題一覧の再読み込みに失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Refresh は課題一覧を読み込んでPublisherへ配信する。
// 読み込みに失敗した場合は指数バックオフで再試行し、最終的に失敗すれば直前のスナップショットを維持する。
func (s *Syncer) Refresh(ctx context.Context) error {
	var issues []model.Issue
	attempt := 0
	op := func() error {
		attempt++
		list, err := s.lister.ListAll(ctx)
		if err != nil {
			s.logger.Warn("課題一覧の読み込みに失敗しました。再試行します",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}
		issues = list
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		return fmt.Errorf("課題一覧の同期に失敗しました: %w", err)
	}

	snap := s.publisher.Publish(issues)
	s.logger.Debug("課題一覧を配信しました",
		slog.Uint64("version", snap.Version),
		slog.Int("issue_count", len(snap.Issues)),
	)
	return nil
}
