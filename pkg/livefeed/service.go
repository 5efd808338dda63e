// Package livefeed exposes what the poller reads to the outside world:
// a websocket feed of decoded records, prometheus metrics and optional
// redis publishing. Nothing in here touches the meter line.
package livefeed

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/frames"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/records"
	"github.com/sirupsen/logrus"
)

func NewFeed(log logrus.FieldLogger) *Feed {
	metrics := NewMetrics()
	return &Feed{
		Hub:     NewHub(log, metrics),
		Metrics: metrics,
		log:     log,
	}
}

func (f *Feed) SetRedis(p *RedisPublisher) {
	f.redis = p
}

// RecordReceived publishes a freshly read record.
func (f *Feed) RecordReceived(rec *records.Record, receivedAt time.Time) {
	f.Metrics.recordReceived(rec.Kind, rec.CRCValid)

	summary := Summarize(rec, receivedAt)
	f.Hub.Publish(summary)

	if f.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
		defer cancel()
		if err := f.redis.Publish(ctx, summary); err != nil {
			f.Metrics.RedisPublishErr.Inc()
			f.log.Warnf("Could not publish record of meter %s: %v", rec.Address, err)
		}
	}
}

func (f *Feed) FetchFailed(addr frames.Address, kind records.Kind, err error) {
	f.Metrics.FetchFailures.WithLabelValues(string(kind)).Inc()
}

func (f *Feed) RelaySwitched(addr frames.Address, relay frames.Relay, on bool, err error) {
	f.Metrics.relaySwitched(relay, on, err)
}

func (f *Feed) CycleFinished(end time.Time, d time.Duration) {
	f.Metrics.cycleFinished(end, d)
}

// HandshakeFinished lets the feed observe the handshake client directly.
func (f *Feed) HandshakeFinished(op string, err error) {
	f.Metrics.HandshakeFinished(op, err)
}

// Serve runs the HTTP side of the feed until ctx is done.
func (f *Feed) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           f.Hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		f.log.Infof("Starting live feed on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		if f.redis != nil {
			f.redis.Close()
		}
		return nil
	}
}
