// Meter poller reads every configured EKM meter over the shared RS-485 line,
// stores the raw records and drives the irrigation relay.
// It is the only process that may touch the serial device.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/aggregator"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/config"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/diagnostics"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/frames"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/handshake"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/livefeed"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/meterdb"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/port_reader"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/scheduler"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath    string
	serialName    string
	serialDriver  string
	interval      int
	repeatCount   int
	aToBRatio     int
	databasePath  string
	dbEnvName     string
	debugDatabase string
	showDiag      bool
	immediateDiag bool
	dontWrite     bool
	listenAddress string
)

var rootCmd = &cobra.Command{
	Use:   "meter_poller [meter ids...]",
	Short: "Poll EKM meters on an RS-485 line",
	Long: `meter_poller reads V3 and V4 EKM meters in a fixed order, stores every
received record in sqlite and switches the irrigation relay from the wet
weather marker file.

Meter ids are taken from the arguments, or from the config file when none
are given. Flags override config file values.`,
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configPath, "config", "", "Config file (.toml, .yaml or .yml)")
	f.StringVarP(&serialName, "serial-name", "s", "", "Serial device of the meter line")
	f.StringVar(&serialDriver, "serial-driver", "", "Serial driver: jacobsa or bugst")
	f.IntVarP(&interval, "interval", "i", 1, "Minutes between reads, 0 reads once")
	f.IntVarP(&repeatCount, "repeat-count", "r", 0, "Number of reads, 0 repeats forever")
	f.IntVarP(&aToBRatio, "a-to-b-ratio", "n", 15, "A reads per B read, 0 never reads B")
	f.StringVarP(&databasePath, "database", "d", "", "Sqlite database path")
	f.StringVarP(&dbEnvName, "db-env-name", "e", config.DefaultDatabaseEnvName, "Environment variable holding the database path")
	f.StringVarP(&debugDatabase, "debug-database", "B", "", "Sqlite database receiving diagnostics")
	f.BoolVarP(&showDiag, "show-diagnostics", "D", false, "Print diagnostics after each cycle")
	f.BoolVarP(&immediateDiag, "immediate-diagnostics", "S", false, "Print diagnostics as they happen")
	f.BoolVarP(&dontWrite, "dont-write", "W", false, "Read meters without writing to the database")
	f.StringVar(&listenAddress, "listen", "", "Address of the live feed, e.g. :9039")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadMeterPollerConfig(configPath)
	if err != nil {
		// The default location is usually not writable for normal users.
		if configPath != "" || !errors.Is(err, fs.ErrPermission) || cfg == nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Using built-in defaults: %v\n", err)
	}
	applyFlags(cmd, cfg, args)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	diag, err := diagnostics.New(diagnostics.Options{
		Level:  cfg.Diagnostics.Level,
		Format: cfg.Diagnostics.Format,
		Mode:   diagnostics.Mode(cfg.Diagnostics.Mode),
		Show:   cfg.Diagnostics.Show,
	})
	if err != nil {
		return err
	}
	log := diag.Logger

	dbPath := cfg.ResolveDatabasePath()
	if dbPath == "" {
		log.Fatalf("No database path given. Use -d or set %s.", cfg.DatabaseEnvName)
	}
	db, err := meterdb.Open(dbPath, log)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetDontWrite(cfg.DontWrite)

	if cfg.DebugDatabasePath != "" {
		debugDB, err := meterdb.Open(cfg.DebugDatabasePath, log)
		if err != nil {
			log.Fatalf("Failed to open debug database: %v", err)
		}
		defer debugDB.Close()
		diag.SetSink(debugDB)
	}

	link, err := port_reader.OpenSerial(cfg.SerialDevice, cfg.SerialDriver, cfg.Baudrate, log)
	if err != nil {
		log.Fatalf("Failed to open meter line: %v", err)
	}
	defer link.Close()
	transport := port_reader.NewTransport(link, log)
	transport.SetBytesPerSecond(int64(cfg.Baudrate / 10))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feed := livefeed.NewFeed(log)
	client := handshake.NewClient(transport, log)
	client.SetObserver(feed)

	agg := aggregator.New(db, cfg.RetentionDays, log)

	sched, err := scheduler.New(cfg.Meters, client, db, scheduler.Options{
		Interval:        time.Duration(cfg.IntervalMinutes) * time.Minute,
		RepeatCount:     cfg.RepeatCount,
		AToBRatio:       cfg.AToBRatio,
		WetMarker:       cfg.WetMarkerPath,
		CloseMarker:     cfg.CloseMarkerPath,
		IrrigationRelay: frames.Relay(cfg.IrrigationRelay),
	}, log)
	if err != nil {
		log.Fatalf("Invalid meter list: %v", err)
	}
	sched.SetObserver(feed)
	sched.SetMaintenance(agg)
	sched.SetDiagnostics(diag)

	if cfg.ListenAddress != "" {
		startFeed(ctx, feed, agg, cfg, log)
	}

	if err := sched.InitializeMeters(); err != nil {
		log.Fatalf("Failed to initialize meters: %v", err)
	}
	return sched.Run(ctx)
}

// applyFlags overrides config values with the flags that were set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.MeterPollerConfig, args []string) {
	f := cmd.Flags()
	if len(args) > 0 {
		cfg.Meters = args
	}
	if f.Changed("serial-name") {
		cfg.SerialDevice = serialName
	}
	if f.Changed("serial-driver") {
		cfg.SerialDriver = serialDriver
	}
	if f.Changed("interval") {
		cfg.IntervalMinutes = interval
	}
	if f.Changed("repeat-count") {
		cfg.RepeatCount = repeatCount
	}
	if f.Changed("a-to-b-ratio") {
		cfg.AToBRatio = aToBRatio
	}
	if f.Changed("database") {
		cfg.DatabasePath = databasePath
	}
	if f.Changed("db-env-name") || cfg.DatabaseEnvName == "" {
		cfg.DatabaseEnvName = dbEnvName
	}
	if f.Changed("debug-database") {
		cfg.DebugDatabasePath = debugDatabase
	}
	if f.Changed("show-diagnostics") {
		cfg.Diagnostics.Show = showDiag
	}
	if immediateDiag {
		cfg.Diagnostics.Mode = string(diagnostics.ModeImmediate)
	}
	if f.Changed("dont-write") {
		cfg.DontWrite = dontWrite
	}
	if f.Changed("listen") {
		cfg.ListenAddress = listenAddress
	}
}

func startFeed(ctx context.Context, feed *livefeed.Feed, agg *aggregator.Aggregator, cfg *config.MeterPollerConfig, log logrus.FieldLogger) {
	feed.Hub.SetDailySource(agg)

	if cfg.Redis.Address != "" {
		pub, err := livefeed.NewRedisPublisher(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.Channel, cfg.Redis.DB, log)
		if err != nil {
			log.Warnf("Redis publishing disabled: %v", err)
		} else {
			feed.SetRedis(pub)
		}
	}

	go func() {
		if err := feed.Serve(ctx, cfg.ListenAddress); err != nil {
			log.Errorf("Live feed stopped: %v", err)
		}
	}()
}
