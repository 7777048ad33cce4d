package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/issuetracker/internal/realtime"
)

// defaultKeepAliveInterval はSSEのキープアライブコメントの送信間隔。
const defaultKeepAliveInterval = 25 * time.Second

// SnapshotSource はリアルタイム一覧の購読を提供するインターフェース。
type SnapshotSource interface {
	Subscribe() *realtime.Subscription
}

// StreamHandler は課題一覧のスナップショットをServer-Sent Eventsで配信するHTTPハンドラー。
type StreamHandler struct {
	source    SnapshotSource
	keepAlive time.Duration
}

// NewStreamHandler はStreamHandlerを生成する。
func NewStreamHandler(source SnapshotSource) *StreamHandler {
	return &StreamHandler{
		source:    source,
		keepAlive: defaultKeepAliveInterval,
	}
}

// snapshotResponse はスナップショットイベントのデータ部。
type snapshotResponse struct {
	Version uint64          `json:"version"`
	TakenAt time.Time       `json:"takenAt"`
	Issues  []issueResponse `json:"issues"`
}

// Stream は課題一覧のスナップショットを配信する。
// GET /api/issues/stream
// 接続直後に現在のスナップショットを送り、以降は変更のたびに最新のものを送る。
// クライアントが切断するか配信元が停止すると終了する。
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// サーバーのWriteTimeoutでストリームが切れないようにする
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Warn("failed to clear write deadline", slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Error("streaming not supported", slog.String("error", err.Error()))
		return
	}

	sub := h.source.Subscribe()
	defer sub.Unsubscribe()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeSnapshotEvent(w, snap); err != nil {
				slog.Debug("stream write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// writeSnapshotEvent はスナップショットを1件のSSEイベントとして書き込む。
func writeSnapshotEvent(w http.ResponseWriter, snap realtime.Snapshot) error {
	data, err := json.Marshal(snapshotResponse{
		Version: snap.Version,
		TakenAt: snap.TakenAt,
		Issues:  toIssueResponses(snap.Issues),
	})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: snapshot\nid: %d\ndata: %s\n\n", snap.Version, data)
	return err
}
