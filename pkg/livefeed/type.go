package livefeed

import (
	"sync"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/meterdb"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DailySource serves the per day aggregates behind /daily.
type DailySource interface {
	GetDailyAggregates(address string) ([]meterdb.AggregateRecordsDaily, error)
}

// Hub keeps the latest summary per meter and record kind and pushes new
// ones to websocket clients.
type Hub struct {
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
	metrics  *Metrics
	daily    DailySource

	clientsMutex sync.RWMutex
	clients      map[*client]bool

	latestMutex sync.RWMutex
	latest      map[string]*types.RecordSummary
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Metrics are the poller's prometheus collectors, on their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	RecordsFetched  *prometheus.CounterVec
	CRCFailures     *prometheus.CounterVec
	FetchFailures   *prometheus.CounterVec
	Handshakes      *prometheus.CounterVec
	RelayCommands   *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	LastCycle       prometheus.Gauge
	FeedClients     prometheus.Gauge
	RedisPublishErr prometheus.Counter
}

// RedisPublisher publishes summaries on a channel and keeps the latest of
// each meter under a key.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	log     logrus.FieldLogger
}

// Feed fans decoded records out to the hub, redis and metrics. Publishing
// never waits on a network peer for longer than a short write deadline.
type Feed struct {
	Hub     *Hub
	Metrics *Metrics
	redis   *RedisPublisher
	log     logrus.FieldLogger
}
