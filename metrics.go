package ddns

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "ddnsd"

var requestCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "requests_total",
	Help:      "Counter of update endpoint requests by response code.",
}, []string{"code"})

var providerCallCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "provider_calls_total",
	Help:      "Counter of DNS provider API calls by operation and result.",
}, []string{"op", "result"})

var recordUpdateCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "record_updates_total",
	Help:      "Counter of DNS records rewritten, by record type.",
}, []string{"type"})

var notificationCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "notifications_total",
	Help:      "Counter of change notifications by result.",
}, []string{"result"})
