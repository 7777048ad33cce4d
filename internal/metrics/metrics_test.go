package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findFamily はレジストリから指定名のメトリクスファミリーを取得する。
func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labeledCounter はラベル値ごとのカウンタ値を返す。
func labeledCounter(mf *dto.MetricFamily) map[string]float64 {
	out := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		out[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	return out
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordIssueCreated_IncrementsCounter は課題作成カウンタが増加することを検証する。
func TestRecordIssueCreated_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordIssueCreated()
	c.RecordIssueCreated()

	mf := findFamily(t, reg, "issuetracker_issues_created_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 2 {
		t.Errorf("issues_created_total = %v, want 2", val)
	}
}

// TestRecordDuplicateWarning_IncrementsCounter は重複警告カウンタが増加することを検証する。
func TestRecordDuplicateWarning_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDuplicateWarning()

	mf := findFamily(t, reg, "issuetracker_duplicate_warnings_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 1 {
		t.Errorf("duplicate_warnings_total = %v, want 1", val)
	}
}

// TestRecordTransition_LabelsByResult は遷移結果がラベル別に記録されることを検証する。
func TestRecordTransition_LabelsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTransition(true)
	c.RecordTransition(true)
	c.RecordTransition(false)

	got := labeledCounter(findFamily(t, reg, "issuetracker_status_transitions_total"))
	if got["accepted"] != 2 {
		t.Errorf("transitions{result=accepted} = %v, want 2", got["accepted"])
	}
	if got["rejected"] != 1 {
		t.Errorf("transitions{result=rejected} = %v, want 1", got["rejected"])
	}
}

// TestRecordWebhookDelivery_LabelsByResult はWebhook配信結果がラベル別に記録されることを検証する。
func TestRecordWebhookDelivery_LabelsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordWebhookDelivery(false)
	c.RecordWebhookDelivery(true)
	c.RecordWebhookDelivery(false)

	got := labeledCounter(findFamily(t, reg, "issuetracker_webhook_deliveries_total"))
	if got["success"] != 1 || got["failure"] != 2 {
		t.Errorf("webhook_deliveries_total = %v, want success=1 failure=2", got)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(409)

	got := labeledCounter(findFamily(t, reg, "issuetracker_http_status_total"))
	if len(got) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(got))
	}
	if got["200"] != 2 {
		t.Errorf("http_status_total{status_code=200} = %v, want 2", got["200"])
	}
	if got["409"] != 1 {
		t.Errorf("http_status_total{status_code=409} = %v, want 1", got["409"])
	}
}

// TestRecordRequestLatency_ObservesHistogram はリクエスト処理時間のヒストグラムに値が記録されることを検証する。
func TestRecordRequestLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequestLatency(100 * time.Millisecond)
	c.RecordRequestLatency(2 * time.Second)

	h := findFamily(t, reg, "issuetracker_http_request_duration_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

// TestSetStreamSubscribers_SetsGauge は購読者数ゲージが最新値を保持することを検証する。
func TestSetStreamSubscribers_SetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetStreamSubscribers(3)
	c.SetStreamSubscribers(1)

	mf := findFamily(t, reg, "issuetracker_stream_subscribers")
	if val := mf.GetMetric()[0].GetGauge().GetValue(); val != 1 {
		t.Errorf("stream_subscribers = %v, want 1", val)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	// いくつかのメトリクスを記録
	c.RecordIssueCreated()
	c.RecordTransition(false)
	c.RecordHTTPStatus(200)
	c.RecordRequestLatency(500 * time.Millisecond)
	c.SetStreamSubscribers(2)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"issuetracker_issues_created_total",
		"issuetracker_status_transitions_total",
		"issuetracker_http_status_total",
		"issuetracker_http_request_duration_seconds",
		"issuetracker_stream_subscribers",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordIssueCreated()
	c2.RecordIssueCreated()
	c2.RecordIssueCreated()

	val1 := findFamily(t, reg1, "issuetracker_issues_created_total").GetMetric()[0].GetCounter().GetValue()
	val2 := findFamily(t, reg2, "issuetracker_issues_created_total").GetMetric()[0].GetCounter().GetValue()

	if val1 != 1 {
		t.Errorf("reg1 issues_created = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 issues_created = %v, want 2", val2)
	}
}
