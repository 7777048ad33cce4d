// Package notify は課題イベントの外部Webhook通知を提供する。
// イベントは有界キューに積まれ、固定数のワーカーがJSONでPOSTする。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hitoshi/issuetracker/internal/model"
)

// Recorder はWebhook送信結果のメトリクス記録インターフェース。
type Recorder interface {
	RecordWebhookDelivery(success bool)
}

// Config はDispatcherの設定値。
type Config struct {
	URL        string
	Timeout    time.Duration // 1リクエストあたりのタイムアウト
	Workers    int
	QueueSize  int
	MaxElapsed time.Duration // 1イベントあたりの再試行の上限時間
}

const (
	defaultWorkers    = 4
	defaultQueueSize  = 256
	defaultTimeout    = 10 * time.Second
	defaultMaxElapsed = 2 * time.Minute
)

// Payload はWebhookで送信するJSON本文。
type Payload struct {
	Event          string       `json:"event"`
	Issue          IssuePayload `json:"issue"`
	PreviousStatus string       `json:"previousStatus,omitempty"`
	Actor          string       `json:"actor"`
	OccurredAt     time.Time    `json:"occurredAt"`
}

// IssuePayload はWebhook本文に含める課題情報。
type IssuePayload struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	AssignedTo  string    `json:"assignedTo"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewPayload は課題イベントから送信用の本文を組み立てる。
func NewPayload(ev model.IssueEvent) Payload {
	return Payload{
		Event: string(ev.Type),
		Issue: IssuePayload{
			ID:          ev.Issue.ID,
			Title:       ev.Issue.Title,
			Description: ev.Issue.Description,
			Priority:    string(ev.Issue.Priority),
			Status:      string(ev.Issue.Status),
			AssignedTo:  ev.Issue.AssignedTo,
			CreatedBy:   ev.Issue.CreatedBy,
			CreatedAt:   ev.Issue.CreatedAt,
		},
		PreviousStatus: string(ev.PreviousStatus),
		Actor:          ev.Actor,
		OccurredAt:     ev.OccurredAt,
	}
}

// Dispatcher は課題イベントをWebhookへ非同期に送信する。
type Dispatcher struct {
	cfg        Config
	client     *http.Client
	logger     *slog.Logger
	recorder   Recorder
	queue      chan model.IssueEvent
	newBackOff func() backoff.BackOff
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// clientにはSSRF防止機能付きのクライアントを渡す。recorderはnilでもよい。
func NewDispatcher(cfg Config, client *http.Client, logger *slog.Logger, recorder Recorder) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = defaultMaxElapsed
	}

	d := &Dispatcher{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		recorder: recorder,
		queue:    make(chan model.IssueEvent, cfg.QueueSize),
	}
	d.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxInterval = 30 * time.Second
		b.MaxElapsedTime = d.cfg.MaxElapsed
		return b
	}
	return d
}

// Publish はイベントを送信キューに積む。ブロックしない。
// キューが満杯の場合はイベントを破棄して警告を記録する。
func (d *Dispatcher) Publish(ctx context.Context, ev model.IssueEvent) {
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn("Webhook送信キューが満杯のためイベントを破棄しました",
			slog.String("event", string(ev.Type)),
			slog.String("issue_id", ev.Issue.ID),
		)
		if d.recorder != nil {
			d.recorder.RecordWebhookDelivery(false)
		}
	}
}

// Run はワーカーを起動し、コンテキストがキャンセルされるまで送信を続ける。
// キャンセル時はキューに残ったイベントを破棄してnilを返す。
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Webhook送信を開始しました",
		slog.Int("workers", d.cfg.Workers),
		slog.Int("queue_size", d.cfg.QueueSize),
	)

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-d.queue:
					d.deliver(ctx, ev)
				}
			}
		}()
	}
	wg.Wait()

	if n := len(d.queue); n > 0 {
		d.logger.Warn("未送信のWebhookイベントを破棄しました", slog.Int("count", n))
	}
	d.logger.Info("Webhook送信を停止しました")
	return nil
}

// deliver は1件のイベントを再試行付きで送信する。
func (d *Dispatcher) deliver(ctx context.Context, ev model.IssueEvent) {
	body, err := json.Marshal(NewPayload(ev))
	if err != nil {
		d.logger.Error("Webhook本文の生成に失敗しました", slog.String("error", err.Error()))
		return
	}

	attempt := 0
	op := func() error {
		attempt++
		return d.post(ctx, body)
	}

	err = backoff.Retry(op, backoff.WithContext(d.newBackOff(), ctx))
	if d.recorder != nil {
		d.recorder.RecordWebhookDelivery(err == nil)
	}
	if err != nil {
		d.logger.Error("Webhookの送信に失敗しました",
			slog.String("event", string(ev.Type)),
			slog.String("issue_id", ev.Issue.ID),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)
		return
	}
	d.logger.Debug("Webhookを送信しました",
		slog.String("event", string(ev.Type)),
		slog.String("issue_id", ev.Issue.ID),
		slog.Int("attempts", attempt),
	)
}

// errTransient は再試行対象の応答を表す。
var errTransient = errors.New("transient webhook response")

// post は1回分のPOSTを行う。
// 429と5xxは再試行対象、それ以外の4xxは再試行しない。
func (d *Dispatcher) post(ctx context.Context, body []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("リクエストの生成に失敗しました: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "issuetracker-webhook/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("Webhookへの接続に失敗しました: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", errTransient, resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("Webhookが拒否しました: status %d", resp.StatusCode))
	}
}
