package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/optiondesk/paperbot/internal/domain"
)

// Metrics holds the Prometheus instruments for the paper-trading core. All
// instruments live on a private registry so tests can build throwaway
// instances without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	// Ledger lifecycle, incremented from the event sink.
	Events *prometheus.CounterVec // labels: type

	// HTTP surface, incremented from middleware.
	HTTPRequests *prometheus.CounterVec // labels: method, status

	// Websocket dashboard clients, maintained by the hub.
	WSClients prometheus.Gauge

	// Feed and ledger condition, refreshed by the Sampler.
	FeedState       prometheus.Gauge // 0=disconnected 1=connecting 2=connected 3=error
	FeedSubscribed  prometheus.Gauge
	DroppedBatches  prometheus.Gauge
	DroppedTicks    prometheus.Gauge
	OpenPositions   prometheus.Gauge
	UsedMargin      prometheus.Gauge
	AvailableMargin prometheus.Gauge
	RealizedPnL     prometheus.Gauge
	SnapshotVersion prometheus.Gauge
}

// New registers and returns the instrument set.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperbot_events_total",
			Help: "Ledger and feed lifecycle events by type",
		}, []string{"type"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperbot_http_requests_total",
			Help: "API requests by method and status code",
		}, []string{"method", "status"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperbot_ws_clients",
			Help: "Connected dashboard websocket clients",
		}),
		FeedState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperbot_feed_state",
			Help: "Tick feed state (0=disconnected, 1=connecting, 2=connected, 3=error)",
		}),
		FeedSubscribed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperbot_feed_subscribed_instruments",
			Help: "Instruments in the live feed subscription",
		}),
		DroppedBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperbot_feed_dropped_batches_total",
			Help: "Tick batches dropped because the pump fell behind",
		}),
		DroppedTicks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperbot_dropped_ticks_total",
			Help: "Ticks discarded for unknown instrument tokens",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperbot_open_positions",
			Help: "Positions currently ACTIVE in the ledger",
		}),
		UsedMargin: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperbot_used_margin_rupees",
			Help: "Margin blocked against open positions",
		}),
		AvailableMargin: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperbot_available_margin_rupees",
			Help: "Free margin in the virtual account",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperbot_realized_pnl_rupees",
			Help: "Cumulative realized P&L since account creation",
		}),
		SnapshotVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperbot_snapshot_version",
			Help: "Monotonic version of the last dashboard snapshot",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Events,
		m.HTTPRequests,
		m.WSClients,
		m.FeedState,
		m.FeedSubscribed,
		m.DroppedBatches,
		m.DroppedTicks,
		m.OpenPositions,
		m.UsedMargin,
		m.AvailableMargin,
		m.RealizedPnL,
		m.SnapshotVersion,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP counts a finished API request. Wired as the middleware
// callback so the middleware package needs no prometheus import.
func (m *Metrics) ObserveHTTP(method string, status int) {
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// HandleEvent counts a lifecycle event. Satisfies the service event sink
// signature so it can be fanned alongside notification delivery.
func (m *Metrics) HandleEvent(ev domain.Event) {
	m.Events.WithLabelValues(string(ev.Type)).Inc()
}

func feedStateValue(s domain.FeedState) float64 {
	switch s {
	case domain.FeedConnecting:
		return 1
	case domain.FeedConnected:
		return 2
	case domain.FeedError:
		return 3
	default:
		return 0
	}
}
