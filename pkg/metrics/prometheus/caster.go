package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/2rtk/ntripcaster/pkg/caster"
	"github.com/2rtk/ntripcaster/pkg/metrics"
)

func init() {
	metrics.RegisterCasterObserverConstructor(NewCasterObserver)
}

// casterObserver is the Prometheus implementation of caster.Observer.
type casterObserver struct {
	activeConnections *prometheus.GaugeVec
	bytesPublished    *prometheus.CounterVec
	rejectedRequests  *prometheus.CounterVec
}

// NewCasterObserver creates a Prometheus-backed caster.Observer.
// Returns nil when metrics are disabled.
func NewCasterObserver() caster.Observer {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &casterObserver{
		activeConnections: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ntripcaster_active_connections",
				Help: "Currently open connections by kind",
			},
			[]string{"kind"}, // "producer", "consumer"
		),
		bytesPublished: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ntripcaster_bytes_published_total",
				Help: "Bytes received from producers by mount",
			},
			[]string{"mount"},
		),
		rejectedRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ntripcaster_rejected_requests_total",
				Help: "Requests rejected by response status",
			},
			[]string{"status"},
		),
	}
}

func (o *casterObserver) ConnectionOpened(kind string) {
	o.activeConnections.WithLabelValues(kind).Inc()
}

func (o *casterObserver) ConnectionClosed(kind string) {
	o.activeConnections.WithLabelValues(kind).Dec()
}

func (o *casterObserver) BytesPublished(mount string, n int) {
	o.bytesPublished.WithLabelValues(mount).Add(float64(n))
}

func (o *casterObserver) RequestRejected(status int) {
	o.rejectedRequests.WithLabelValues(statusLabel(status)).Inc()
}

func statusLabel(status int) string {
	switch status {
	case 400:
		return "400"
	case 401:
		return "401"
	case 403:
		return "403"
	case 404:
		return "404"
	case 405:
		return "405"
	case 409:
		return "409"
	default:
		return "other"
	}
}
