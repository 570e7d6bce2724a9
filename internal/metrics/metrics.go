// Package metrics - prometheus-метрики движка синхронизации.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vault_chat"

// Виды подписок на хранилище.
const (
	SubscriptionPartners  = "partners"
	SubscriptionDirectory = "directory"
	SubscriptionMessages  = "messages"
	SubscriptionStories   = "stories"
)

type Metrics struct {
	OpenSubscriptions  *prometheus.GaugeVec
	ActiveSessions     prometheus.Gauge
	Notifications      prometheus.Counter
	OrphanedBlobs      prometheus.Counter
	StoreWriteFailures *prometheus.CounterVec
}

// New регистрирует метрики в reg. Для процесса это prometheus.DefaultRegisterer,
// в тестах - отдельный prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OpenSubscriptions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_subscriptions",
			Help:      "Open realtime store subscriptions by kind.",
		}, []string{"kind"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Open per-user sync sessions.",
		}),
		Notifications: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_notifications_total",
			Help:      "Inbound message notifications emitted.",
		}),
		OrphanedBlobs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphaned_blobs_total",
			Help:      "Media objects left behind after their record was deleted.",
		}),
		StoreWriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_write_failures_total",
			Help:      "Failed store writes by operation.",
		}, []string{"op"}),
	}
}

// NewNop - метрики в собственном реестре, который никто не экспортирует.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) SubscriptionOpened(kind string) {
	m.OpenSubscriptions.WithLabelValues(kind).Inc()
}

func (m *Metrics) SubscriptionClosed(kind string) {
	m.OpenSubscriptions.WithLabelValues(kind).Dec()
}

func (m *Metrics) WriteFailed(op string) {
	m.StoreWriteFailures.WithLabelValues(op).Inc()
}
