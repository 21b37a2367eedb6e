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
// 認証フロー、HTTPミドルウェア、ワーカー、メール送信から利用する。
type MetricsCollector interface {
	RecordSignIn(outcome string)
	RecordGuardDecision(state string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordMailSent(template string, ok bool)
	SetActiveSessions(count int)
	RecordCleanup(sessions, notifications int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIns            *prometheus.CounterVec
	guardDecisions     *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
	requestLatency     prometheus.Histogram
	mailSent           *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	sessionsExpired    prometheus.Counter
	notificationsPurge prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "choraleadmin_sign_in_total",
			Help: "サインイン結果別の試行数",
		}, []string{"outcome"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "choraleadmin_route_guard_total",
			Help: "ルートガードが判定した認証状態別のリクエスト数",
		}, []string{"state"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "choraleadmin_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "choraleadmin_request_latency_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		mailSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "choraleadmin_mail_sent_total",
			Help: "テンプレートと結果別のメール送信数",
		}, []string{"template", "result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "choraleadmin_active_sessions",
			Help: "有効なプロバイダーセッション数",
		}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "choraleadmin_sessions_expired_total",
			Help: "クリーンアップで削除した期限切れセッションの合計数",
		}),
		notificationsPurge: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "choraleadmin_notifications_purged_total",
			Help: "クリーンアップで削除した既読通知の合計数",
		}),
	}

	reg.MustRegister(
		c.signIns,
		c.guardDecisions,
		c.httpStatus,
		c.requestLatency,
		c.mailSent,
		c.activeSessions,
		c.sessionsExpired,
		c.notificationsPurge,
	)

	return c
}

// RecordSignIn はサインイン結果（successまたはエラーコード）を記録する。
func (c *Collector) RecordSignIn(outcome string) {
	c.signIns.WithLabelValues(outcome).Inc()
}

// RecordGuardDecision はルートガードの判定を記録する。
func (c *Collector) RecordGuardDecision(state string) {
	c.guardDecisions.WithLabelValues(state).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordMailSent はメール送信結果を記録する。
func (c *Collector) RecordMailSent(template string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.mailSent.WithLabelValues(template, result).Inc()
}

// SetActiveSessions は有効なセッション数を設定する。
func (c *Collector) SetActiveSessions(count int) {
	c.activeSessions.Set(float64(count))
}

// RecordCleanup はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordCleanup(sessions, notifications int64) {
	c.sessionsExpired.Add(float64(sessions))
	c.notificationsPurge.Add(float64(notifications))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のコレクターが失敗しても残りのメトリクスは返し、OpenMetrics形式の要求にも応じる。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}
