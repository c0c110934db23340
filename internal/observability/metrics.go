package observability

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/uavbus/internal/pool"
	"github.com/danmuck/uavbus/internal/protocol"
)

const namespace = "uavbus"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	rxFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "rx_frames_total",
			Help:      "CAN frames popped from interface rx queues.",
		},
		[]string{"node"},
	)
	invalidFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "invalid_frames_total",
			Help:      "Frames dropped because they failed to parse or validate.",
		},
		[]string{"node"},
	)
	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "transfers_total",
			Help:      "Transfers delivered to listeners.",
		},
		[]string{"node"},
	)
	transferFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "transfer_failures_total",
			Help:      "Listener failures by reason.",
		},
		[]string{"node", "reason"},
	)
	txFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "tx_frames_total",
			Help:      "CAN frames handed to interfaces.",
		},
		[]string{"node"},
	)
	rxOverflows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "rx_overflows",
			Help:      "Frames dropped by full rx queues since start.",
		},
		[]string{"node"},
	)
	poolBlocksUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "blocks_used",
			Help:      "Blocks currently allocated per pool.",
		},
		[]string{"node", "pool", "block_size"},
	)
	poolBlocksPeak = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "blocks_peak",
			Help:      "Peak allocated blocks per pool.",
		},
		[]string{"node", "pool", "block_size"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			rxFrames, invalidFrames, transfers, transferFailures, txFrames, rxOverflows,
			poolBlocksUsed, poolBlocksPeak,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// FailureReason maps a reassembly or decode error to a metric label.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrFrameOrder):
		return "frame_order"
	case errors.Is(err, protocol.ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, protocol.ErrTransferTooLarge):
		return "transfer_too_large"
	case errors.Is(err, protocol.ErrDecode):
		return "decode"
	default:
		return "other"
	}
}

// TransportMetrics records transport counters for one node. A nil
// *TransportMetrics is valid and records nothing.
type TransportMetrics struct {
	node          string
	rxFrames      prometheus.Counter
	invalidFrames prometheus.Counter
	transfers     prometheus.Counter
	txFrames      prometheus.Counter
	rxOverflows   prometheus.Gauge
	failures      *prometheus.CounterVec
}

func NewTransportMetrics(node string) *TransportMetrics {
	RegisterMetrics()
	return &TransportMetrics{
		node:          node,
		rxFrames:      rxFrames.WithLabelValues(node),
		invalidFrames: invalidFrames.WithLabelValues(node),
		transfers:     transfers.WithLabelValues(node),
		txFrames:      txFrames.WithLabelValues(node),
		rxOverflows:   rxOverflows.WithLabelValues(node),
		failures:      transferFailures.MustCurryWith(prometheus.Labels{"node": node}),
	}
}

func (m *TransportMetrics) FrameReceived() {
	if m == nil {
		return
	}
	m.rxFrames.Inc()
}

func (m *TransportMetrics) InvalidFrame() {
	if m == nil {
		return
	}
	m.invalidFrames.Inc()
}

func (m *TransportMetrics) TransferCompleted() {
	if m == nil {
		return
	}
	m.transfers.Inc()
}

func (m *TransportMetrics) TransferFailed(err error) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(FailureReason(err)).Inc()
}

func (m *TransportMetrics) FramesSent(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.txFrames.Add(float64(n))
}

func (m *TransportMetrics) SetRxOverflows(n uint64) {
	if m == nil {
		return
	}
	m.rxOverflows.Set(float64(n))
}

func (m *TransportMetrics) SetPoolStats(stats []pool.Stats) {
	if m == nil {
		return
	}
	for _, s := range stats {
		idx := strconv.Itoa(s.Index)
		size := strconv.Itoa(s.BlockSize)
		poolBlocksUsed.WithLabelValues(m.node, idx, size).Set(float64(s.Capacity - s.Free))
		poolBlocksPeak.WithLabelValues(m.node, idx, size).Set(float64(s.PeakUsed))
	}
}
