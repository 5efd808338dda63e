package livefeed

import (
	"errors"
	"strconv"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/frames"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/handshake"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/records"
	"github.com/prometheus/client_golang/prometheus"
)

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ekm_records_fetched_total",
			Help: "Meter responses received",
		}, []string{"kind"}),

		CRCFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ekm_record_crc_failures_total",
			Help: "Meter responses received with a bad CRC",
		}, []string{"kind"}),

		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ekm_record_fetch_failures_total",
			Help: "Records that could not be read after all retries",
		}, []string{"kind"}),

		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ekm_handshakes_total",
			Help: "Meter interactions by operation and result",
		}, []string{"op", "result"}),

		RelayCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ekm_relay_commands_total",
			Help: "Relay control commands sent",
		}, []string{"relay", "state", "result"}),

		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ekm_poll_cycle_duration_seconds",
			Help:    "Time taken by one pass over all meters",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ekm_last_poll_cycle_timestamp_seconds",
			Help: "Unix time the last poll cycle finished",
		}),

		FeedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ekm_feed_clients",
			Help: "Connected websocket feed clients",
		}),

		RedisPublishErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ekm_redis_publish_errors_total",
			Help: "Summaries that could not be published to redis",
		}),
	}

	m.Registry.MustRegister(
		m.RecordsFetched,
		m.CRCFailures,
		m.FetchFailures,
		m.Handshakes,
		m.RelayCommands,
		m.CycleDuration,
		m.LastCycle,
		m.FeedClients,
		m.RedisPublishErr,
	)
	return m
}

// HandshakeFinished counts a finished handshake.
func (m *Metrics) HandshakeFinished(op string, err error) {
	m.Handshakes.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) recordReceived(kind records.Kind, crcValid bool) {
	m.RecordsFetched.WithLabelValues(string(kind)).Inc()
	if !crcValid {
		m.CRCFailures.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) relaySwitched(relay frames.Relay, on bool, err error) {
	state := "off"
	if on {
		state = "on"
	}
	m.RelayCommands.WithLabelValues(strconv.Itoa(int(relay)), state, result(err)).Inc()
}

func (m *Metrics) cycleFinished(end time.Time, d time.Duration) {
	m.CycleDuration.Observe(d.Seconds())
	m.LastCycle.Set(float64(end.Unix()))
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, handshake.ErrNotAcknowledged):
		return "nak"
	default:
		return "error"
	}
}
