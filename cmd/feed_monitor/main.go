// Feed monitor prints the records a running meter_poller publishes.
// Depends on the poller's live feed being enabled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/config"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/livefeed"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/types"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	// host:port from EKM_POLLER_HOST or the first argument
	cfg := config.LoadFeedMonitorConfig()
	if len(os.Args) > 1 {
		cfg.PollerHost = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Subscribe to websocket with revive
	livefeed.StartListener(ctx, cfg.PollerHost, log, handleRecord)
}

func handleRecord(summary *types.RecordSummary) {
	fmt.Println(string(summary.ToJsonBytes()))
}
