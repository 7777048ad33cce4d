// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、通知ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordIssueCreated()
	RecordDuplicateWarning()
	RecordTransition(accepted bool)
	RecordWebhookDelivery(success bool)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	SetStreamSubscribers(n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	issuesCreated     prometheus.Counter
	duplicateWarnings prometheus.Counter
	transitions       *prometheus.CounterVec
	webhookDeliveries *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	requestLatency    prometheus.Histogram
	streamSubscribers prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		issuesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "issuetracker_issues_created_total",
			Help: "作成された課題の合計数",
		}),
		duplicateWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "issuetracker_duplicate_warnings_total",
			Help: "類似課題の警告により作成を保留した回数",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "issuetracker_status_transitions_total",
			Help: "ステータス遷移の結果別の合計数",
		}, []string{"result"}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "issuetracker_webhook_deliveries_total",
			Help: "Webhook配信の結果別の合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "issuetracker_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "issuetracker_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		streamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "issuetracker_stream_subscribers",
			Help: "接続中のリアルタイム一覧の購読者数",
		}),
	}

	reg.MustRegister(
		c.issuesCreated,
		c.duplicateWarnings,
		c.transitions,
		c.webhookDeliveries,
		c.httpStatus,
		c.requestLatency,
		c.streamSubscribers,
	)

	return c
}

// RecordIssueCreated は課題の作成を記録する。
func (c *Collector) RecordIssueCreated() {
	c.issuesCreated.Inc()
}

// RecordDuplicateWarning は類似課題の警告を記録する。
func (c *Collector) RecordDuplicateWarning() {
	c.duplicateWarnings.Inc()
}

// RecordTransition はステータス遷移の受理・拒否を記録する。
func (c *Collector) RecordTransition(accepted bool) {
	c.transitions.WithLabelValues(resultLabel(accepted, "accepted", "rejected")).Inc()
}

// RecordWebhookDelivery はWebhook配信の成否を記録する。
func (c *Collector) RecordWebhookDelivery(success bool) {
	c.webhookDeliveries.WithLabelValues(resultLabel(success, "success", "failure")).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はHTTPリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// SetStreamSubscribers は購読者数を設定する。
func (c *Collector) SetStreamSubscribers(n int) {
	c.streamSubscribers.Set(float64(n))
}

func resultLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
