// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 各サービス層のObserverインターフェースを満たす。
type Collector struct {
	grants           *prometheus.CounterVec
	refreshReuse     prometheus.Counter
	linkingDecisions *prometheus.CounterVec
	passwordWork     *prometheus.HistogramVec
	cleanupDeleted   *prometheus.CounterVec
	cleanupRuns      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcare_grants_total",
			Help: "グラント種別と結果ごとのトークン発行要求数",
		}, []string{"grant_type", "outcome"}),
		refreshReuse: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcare_refresh_token_reuse_total",
			Help: "使用済みリフレッシュトークンの再提示を検知した回数",
		}),
		linkingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcare_linking_decisions_total",
			Help: "外部IDの紐付け判定結果ごとの件数",
		}, []string{"decision"}),
		passwordWork: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authcare_password_work_seconds",
			Help:    "パスワードハッシュ処理の待機時間を含む所要時間（秒）",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"op"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcare_cleanup_deleted_total",
			Help: "クリーンアップで削除した行数",
		}, []string{"table"}),
		cleanupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcare_cleanup_runs_total",
			Help: "クリーンアップの実行回数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.grants,
		c.refreshReuse,
		c.linkingDecisions,
		c.passwordWork,
		c.cleanupDeleted,
		c.cleanupRuns,
	)

	return c
}

// ObserveGrant はグラント処理の結果を記録する。
func (c *Collector) ObserveGrant(grantType, outcome string) {
	c.grants.WithLabelValues(grantType, outcome).Inc()
}

// ObserveRefreshTokenReuse はリフレッシュトークンの再提示を記録する。
func (c *Collector) ObserveRefreshTokenReuse() {
	c.refreshReuse.Inc()
}

// ObserveLinkingDecision は紐付け判定の結果を記録する。
func (c *Collector) ObserveLinkingDecision(decision string) {
	c.linkingDecisions.WithLabelValues(decision).Inc()
}

// ObservePasswordWork はパスワード処理の所要時間を記録する。
func (c *Collector) ObservePasswordWork(op string, d time.Duration) {
	c.passwordWork.WithLabelValues(op).Observe(d.Seconds())
}

// RecordCleanup はクリーンアップの削除件数を記録する。
func (c *Collector) RecordCleanup(refreshTokens, sessions int64) {
	c.cleanupRuns.WithLabelValues("success").Inc()
	c.cleanupDeleted.WithLabelValues("refresh_tokens").Add(float64(refreshTokens))
	c.cleanupDeleted.WithLabelValues("sessions").Add(float64(sessions))
}

// RecordCleanupFailure はクリーンアップの失敗を記録する。
func (c *Collector) RecordCleanupFailure() {
	c.cleanupRuns.WithLabelValues("failure").Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsと生存確認用の/healthを提供するHTTPハンドラーを返す。
// workerプロセスのように、APIルーターを持たないプロセスで使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", Handler(gatherer))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}
