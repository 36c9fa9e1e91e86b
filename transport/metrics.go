package transport

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "conduit"
	metricsSubsystem = "channel"
)

// Metrics
// 通道 I/O 的 Prometheus 指标。nil 的 *Metrics 是合法的空实现。
type Metrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	bytesRead          *prometheus.CounterVec
	messagesRead       *prometheus.CounterVec
	messagesWritten    *prometheus.CounterVec
	writeInterests     *prometheus.CounterVec
	decodeUnderflows   *prometheus.CounterVec
	channelsClosed     *prometheus.CounterVec
	channelsOpen       *prometheus.GaugeVec
	handlerNotDraining *prometheus.CounterVec
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the collectors. A nil registerer uses prometheus.DefaultRegisterer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:       registerer,
		bytesRead:        newCounterVec("bytes_read_total", "Total number of bytes read into inbound buffers", []string{"transport"}),
		messagesRead:     newCounterVec("messages_read_total", "Total number of messages received", []string{"transport"}),
		messagesWritten:  newCounterVec("messages_written_total", "Total number of outbound messages completed", []string{"transport"}),
		writeInterests:   newCounterVec("write_interest_total", "Total number of times write interest was registered", []string{"transport"}),
		decodeUnderflows: newCounterVec("decode_underflow_total", "Total number of decode attempts replayed on insufficient data", []string{"decoder"}),
		channelsClosed:   newCounterVec("closed_total", "Total number of channels closed", []string{"transport"}),
		channelsOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "open",
				Help:      "Current number of open channels",
			},
			[]string{"transport"},
		),
		handlerNotDraining: newCounterVec("handler_not_draining_total", "Total number of channels closed because a handler did not drain a full buffer", []string{"transport"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}
	collectors := []prometheus.Collector{
		m.bytesRead,
		m.messagesRead,
		m.messagesWritten,
		m.writeInterests,
		m.decodeUnderflows,
		m.channelsClosed,
		m.channelsOpen,
		m.handlerNotDraining,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *Metrics) BytesRead(transport string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesRead.WithLabelValues(transport).Add(float64(n))
}

func (m *Metrics) MessageRead(transport string) {
	if m == nil {
		return
	}
	m.messagesRead.WithLabelValues(transport).Inc()
}

func (m *Metrics) MessageWritten(transport string) {
	if m == nil {
		return
	}
	m.messagesWritten.WithLabelValues(transport).Inc()
}

func (m *Metrics) WriteInterest(transport string) {
	if m == nil {
		return
	}
	m.writeInterests.WithLabelValues(transport).Inc()
}

func (m *Metrics) DecodeUnderflow(decoder string) {
	if m == nil {
		return
	}
	m.decodeUnderflows.WithLabelValues(decoder).Inc()
}

func (m *Metrics) HandlerNotDraining(transport string) {
	if m == nil {
		return
	}
	m.handlerNotDraining.WithLabelValues(transport).Inc()
}

func (m *Metrics) ChannelOpened(transport string) {
	if m == nil {
		return
	}
	m.channelsOpen.WithLabelValues(transport).Inc()
}

func (m *Metrics) ChannelClosed(transport string) {
	if m == nil {
		return
	}
	m.channelsOpen.WithLabelValues(transport).Dec()
	m.channelsClosed.WithLabelValues(transport).Inc()
}
