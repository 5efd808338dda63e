package livefeed

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

func NewHub(log logrus.FieldLogger, metrics *Metrics) *Hub {
	return &Hub{
		log:     log,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Feed is read only
			},
		},
		clients: make(map[*client]bool),
		latest:  make(map[string]*types.RecordSummary),
	}
}

func (h *Hub) SetDailySource(src DailySource) {
	h.daily = src
}

// Handler serves /, /latest, /daily, /ws and /metrics.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "EKM Meter Reader",
			"status":  "running",
		})
	})

	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		latest := h.Latest(r.URL.Query().Get("address"))
		if len(latest) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "No records available yet",
			})
			return
		}
		writeJSON(w, http.StatusOK, latest)
	})

	mux.HandleFunc("/daily", func(w http.ResponseWriter, r *http.Request) {
		address := r.URL.Query().Get("address")
		if h.daily == nil || address == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "address required and aggregates enabled",
			})
			return
		}
		aggs, err := h.daily.GetDailyAggregates(address)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, aggs)
	})

	mux.HandleFunc("/ws", h.serveWS)

	if h.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{}))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("WebSocket upgrade error: %v", err)
		return
	}
	c := &client{conn: conn}
	h.addClient(c)

	// Send current records immediately
	for _, summary := range h.Latest("") {
		if err := c.send(summary.ToJsonBytes()); err != nil {
			h.removeClient(c)
			return
		}
	}

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.removeClient(c)
			return
		}
	}
}

// Publish stores summary as the latest of its meter and kind and sends it
// to every connected client.
func (h *Hub) Publish(summary *types.RecordSummary) {
	h.latestMutex.Lock()
	h.latest[summary.Address+"/"+summary.Kind] = summary
	h.latestMutex.Unlock()

	msg := summary.ToJsonBytes()
	h.clientsMutex.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMutex.RUnlock()

	for _, c := range clients {
		if err := c.send(msg); err != nil {
			h.log.Debugf("Dropping feed client: %v", err)
			h.removeClient(c)
		}
	}
}

// Latest returns the newest summaries, optionally for one address only,
// ordered by address and kind.
func (h *Hub) Latest(address string) []*types.RecordSummary {
	h.latestMutex.RLock()
	defer h.latestMutex.RUnlock()

	out := make([]*types.RecordSummary, 0, len(h.latest))
	for _, s := range h.latest {
		if address == "" || s.Address == address {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *client) {
	h.clientsMutex.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.clientsMutex.Unlock()
	if h.metrics != nil {
		h.metrics.FeedClients.Set(float64(n))
	}
}

func (h *Hub) removeClient(c *client) {
	h.clientsMutex.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.clientsMutex.Unlock()
	c.conn.Close()
	if h.metrics != nil {
		h.metrics.FeedClients.Set(float64(n))
	}
}

func (c *client) send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}
