package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 空投服务的Prometheus指标。方法对nil接收者安全，未启用指标时直接传nil。
type Metrics struct {
	TransfersTotal   *prometheus.CounterVec
	TransferDuration prometheus.Histogram
	RunsTotal        *prometheus.CounterVec
	RunInProgress    prometheus.Gauge
	RunProgress      prometheus.Gauge
	ValidRecipients  prometheus.Gauge
	TotalRecipients  prometheus.Gauge
	TokenBalance     prometheus.Gauge
	ErrorsTotal      *prometheus.CounterVec

	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New 创建并注册全部指标
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TransfersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airdrop_transfers_total",
				Help: "Total number of attempted token transfers by outcome",
			},
			[]string{"outcome", "code"},
		),
		TransferDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "airdrop_transfer_duration_seconds",
				Help:    "Time spent submitting a single transfer",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airdrop_runs_total",
				Help: "Total number of airdrop runs by result",
			},
			[]string{"result"},
		),
		RunInProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "airdrop_run_in_progress",
				Help: "1 while an airdrop run is active",
			},
		),
		RunProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "airdrop_run_progress_ratio",
				Help: "Completed fraction of the active run",
			},
		),
		ValidRecipients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "airdrop_valid_recipients",
				Help: "Number of recipients with a valid address",
			},
		),
		TotalRecipients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "airdrop_recipients",
				Help: "Number of recipients in the list",
			},
		),
		TokenBalance: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "airdrop_token_balance",
				Help: "Last read token balance of the signer account",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airdrop_errors_total",
				Help: "Total number of handled errors by type",
			},
			[]string{"type", "code"},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airdrop_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "airdrop_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.TransfersTotal,
		m.TransferDuration,
		m.RunsTotal,
		m.RunInProgress,
		m.RunProgress,
		m.ValidRecipients,
		m.TotalRecipients,
		m.TokenBalance,
		m.ErrorsTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 返回注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTransfer 记录一笔转账结果
func (m *Metrics) ObserveTransfer(outcome, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(outcome, code).Inc()
	m.TransferDuration.Observe(d.Seconds())
}

// RunStarted 运行开始
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunInProgress.Set(1)
	m.RunProgress.Set(0)
}

// RunFinished 运行结束，result为completed或failed
func (m *Metrics) RunFinished(result string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RunInProgress.Set(0)
}

// SetProgress 当前运行进度
func (m *Metrics) SetProgress(fraction float64) {
	if m == nil {
		return
	}
	m.RunProgress.Set(fraction)
}

// SetRecipients 列表规模
func (m *Metrics) SetRecipients(total, valid int) {
	if m == nil {
		return
	}
	m.TotalRecipients.Set(float64(total))
	m.ValidRecipients.Set(float64(valid))
}

// SetBalance 最近读取的余额
func (m *Metrics) SetBalance(v float64) {
	if m == nil {
		return
	}
	m.TokenBalance.Set(v)
}

// IncErrors 错误处理器回调
func (m *Metrics) IncErrors(errorType, code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, code).Inc()
}

// GinMiddleware 记录API请求数和耗时，路径使用路由模板避免高基数
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.APIRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.APIRequestDurationSeconds.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
