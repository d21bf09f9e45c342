package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 流式会话的 Prometheus 指标
//
//   - <ns>_stream_streams_total: 按结束状态统计的会话数
//   - <ns>_stream_chunks_delivered_total: 通过校验并交给消费端的分片
//   - <ns>_stream_chunks_dropped_total: 按原因统计的丢弃分片
//   - <ns>_stream_upstream_errors_total: 传输层错误
//   - <ns>_stream_duration_seconds: 会话时长
//   - <ns>_stream_active: 进行中的会话
type Metrics struct {
	streamsTotal    *prometheus.CounterVec
	chunksDelivered prometheus.Counter
	chunksDropped   *prometheus.CounterVec
	upstreamErrors  prometheus.Counter
	duration        prometheus.Histogram
	active          prometheus.Gauge
}

// NewMetrics 创建并注册指标
func NewMetrics(namespace string, registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		streamsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "streams_total",
				Help:      "Total number of chat streams by final state",
			},
			[]string{"state"},
		),
		chunksDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "chunks_delivered_total",
			Help:      "Total number of validated chunks handed to consumers",
		}),
		chunksDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "chunks_dropped_total",
				Help:      "Total number of upstream records dropped by validation",
			},
			[]string{"reason"},
		),
		upstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "upstream_errors_total",
			Help:      "Total number of transport errors from the completion backend",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "duration_seconds",
			Help:      "Duration of chat streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active",
			Help:      "Number of chat streams currently open",
		}),
	}

	registry.MustRegister(
		m.streamsTotal,
		m.chunksDelivered,
		m.chunksDropped,
		m.upstreamErrors,
		m.duration,
		m.active,
	)
	return m
}

func (m *Metrics) streamStarted() {
	m.active.Inc()
}

func (m *Metrics) streamEnded(state string, d time.Duration) {
	m.active.Dec()
	m.streamsTotal.WithLabelValues(state).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) chunkDelivered() {
	m.chunksDelivered.Inc()
}

func (m *Metrics) chunkDropped(reason string) {
	m.chunksDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) upstreamError() {
	m.upstreamErrors.Inc()
}
