// Command server is the single binary that runs the transit realtime
// tracking backend: it wires config, storage, the estimator pipeline,
// the subscription fabric, and the supplemental metrics/GTFS-RT
// surfaces into one process. The console/JSON log-mode switch and
// signal-driven graceful shutdown follow
// Travigo-travigo/cmd/travigo/travigo.go and
// pkg/realtime/vehicletracker/cli.go.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/travigo/transitcore/internal/broadcaster"
	"github.com/travigo/transitcore/internal/busstate"
	"github.com/travigo/transitcore/internal/catalog"
	"github.com/travigo/transitcore/internal/config"
	"github.com/travigo/transitcore/internal/egress"
	"github.com/travigo/transitcore/internal/gtfsrt"
	"github.com/travigo/transitcore/internal/ingress"
	"github.com/travigo/transitcore/internal/metrics"
	"github.com/travigo/transitcore/internal/pipeline"
	"github.com/travigo/transitcore/internal/registry"
)

func main() {
	if os.Getenv("TRANSITCORE_LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	if os.Getenv("TRANSITCORE_DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	app := &cli.App{
		Name:        "transitcore",
		Description: "Real-time transit tracking backend",
		Commands: []*cli.Command{
			runCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the ingest, broadcast, and query services",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				log.Fatal().Err(err).Msg("failed to load configuration")
			}

			catalogReader, err := catalog.Open(cfg.DatabaseURL, cfg.RedisAddr, cfg.CatalogCacheTTL)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to open catalog reader")
			}
			defer catalogReader.Close()

			collector := metrics.NewCollector()
			store := busstate.New(cfg.BusIdleEviction)
			reg := registry.New()
			bc := broadcaster.New(catalogReader, reg, collector)

			opts := pipeline.Options{
				MinSignalsForDirection:     cfg.MinSignalsForDirection,
				DirectionMatchThresholdDeg: cfg.DirectionMatchThresholdDeg,
				StopDepartureOffset:        cfg.StopDepartureOffset,
			}
			p := pipeline.New(store, catalogReader, bc, opts, collector)

			mux := http.NewServeMux()
			mux.Handle("/api/driver-location-ws", ingress.NewHandler(p))
			mux.Handle("/api/passenger-realtime-ws/{route}", egress.NewHandler(reg))
			mux.Handle("/gtfs-rt/vehicle-positions", gtfsrt.NewHandler(store))

			srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: mux}
			go func() {
				log.Info().Str("addr", srv.Addr).Msg("server listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("server error")
				}
			}()

			var metricsServer *http.Server
			if cfg.MetricsAddr != "" {
				metricsServer = collector.Serve(cfg.MetricsAddr)
			}

			stopEviction := startEvictionSweep(store, cfg.BusIdleEviction)
			defer close(stopEviction)

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			<-signals
			go func() {
				<-signals
				os.Exit(1)
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
			if metricsServer != nil {
				_ = metricsServer.Shutdown(ctx)
			}

			return nil
		},
	}
}

func startEvictionSweep(store *busstate.Store, idleTimeout time.Duration) chan struct{} {
	stop := make(chan struct{})
	if idleTimeout <= 0 {
		return stop
	}
	go func() {
		ticker := time.NewTicker(idleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := store.EvictIdle(time.Now()); n > 0 {
					log.Debug().Int("count", n).Msg("evicted idle bus state")
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}
