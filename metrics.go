package cfddns

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors updated by the run loop.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	updates       *prometheus.CounterVec
	failures      prometheus.Gauge
	lastSuccess   prometheus.Gauge
	ipChangeCount prometheus.Counter
	currentIP     *prometheus.GaugeVec

	mu     sync.Mutex
	lastIP netip.Addr
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cfddns_cycles_total",
			Help: "Total number of reconciliation cycles by result",
		}, []string{"result"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cfddns_record_updates_total",
			Help: "Total number of DNS records updated",
		}, []string{"name"}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cfddns_consecutive_failures",
			Help: "Number of consecutive failed cycles",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cfddns_last_success_timestamp_seconds",
			Help: "Unix time of the last successful cycle",
		}),
		ipChangeCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cfddns_ip_change_count",
			Help: "Count of IP changes detected",
		}),
		currentIP: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cfddns_current_ip",
			Help: "Representing the current IP address",
		}, []string{"ip"}),
	}
	reg.MustRegister(m.cycles, m.updates, m.failures, m.lastSuccess, m.ipChangeCount, m.currentIP)
	return m
}

func (m *Metrics) cycleSucceeded(unixTime float64) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("success").Inc()
	m.failures.Set(0)
	m.lastSuccess.Set(unixTime)
}

func (m *Metrics) cycleFailed(consecutive int) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("failure").Inc()
	m.failures.Set(float64(consecutive))
}

func (m *Metrics) recordUpdated(name string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(name).Inc()
}

func (m *Metrics) observeAddress(addr netip.Addr) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastIP == addr {
		return
	}
	if m.lastIP.IsValid() {
		m.ipChangeCount.Inc()
	}
	m.lastIP = addr
	m.currentIP.Reset()
	m.currentIP.WithLabelValues(addr.String()).Set(1)
}

// Handler serves /metrics from gatherer and a /health endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(struct {
			Status string `json:"status"`
		}{Status: "OK"})
	})
	return mux
}
