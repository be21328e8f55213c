// Command streamd runs the manufacturing event streaming service: store
// pollers feeding an in-memory pub/sub broker, exposed to clients over SSE
// and WebSocket, with commands and queries dispatched back to the store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/component"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/config"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/dispatch"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/event"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/metric"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/poller"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/store"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/stream"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/transport/sse"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/transport/websocket"
)

const stopTimeout = 10 * time.Second

// multiBroadcaster fans a command notification out to every transport's
// own direct broadcast path. Each transport delivers straight to its
// connections, so every connected client sees the notification exactly
// once, never again through its filtered subscription.
type multiBroadcaster struct {
	targets []dispatch.Broadcaster
}

func (m *multiBroadcaster) Broadcast(ev *event.StreamEvent) {
	for _, t := range m.targets {
		t.Broadcast(ev)
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "streamd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to JSON config file")
		addr       = flag.String("addr", "", "listen address, overrides config")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := metric.NewRegistry()
	metrics := registry.Core()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	broker := stream.NewBroker(stream.Config{
		BufferCapacity:  cfg.Stream.BufferCapacity,
		MaxEventAge:     cfg.Stream.MaxEventAge.Std(),
		PurgeInterval:   cfg.Stream.PurgeInterval.Std(),
		SubscriberQueue: cfg.Stream.SubscriberQueue,
		Logger:          logger,
		Metrics:         metrics,
	})

	pollers := poller.NewSet(poller.Config{
		InitialDelay:      cfg.Poller.InitialDelay.Std(),
		MetricInterval:    cfg.Poller.MetricInterval.Std(),
		AlertInterval:     cfg.Poller.AlertInterval.Std(),
		QualityInterval:   cfg.Poller.QualityInterval.Std(),
		EquipmentInterval: cfg.Poller.EquipmentInterval.Std(),
		FetchLimit:        cfg.Poller.FetchLimit,
		Logger:            logger,
		Metrics:           metrics,
	}, st, broker)

	broadcaster := &multiBroadcaster{}
	dispatcher, err := dispatch.New(dispatch.Config{
		Store:       st,
		Broadcaster: broadcaster,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}

	wsServer := websocket.NewServer(websocket.Config{
		Path:              cfg.Server.WSPath,
		HeartbeatInterval: cfg.Heartbeat.Interval.Std(),
		Logger:            logger,
		Metrics:           metrics,
	}, broker, dispatcher, nil)
	sseHandler := sse.NewHandler(broker, logger, metrics)
	broadcaster.targets = []dispatch.Broadcaster{wsServer, sseHandler}

	components := []component.Lifecycle{broker, pollers, wsServer}
	for _, c := range components {
		if err := c.Initialize(); err != nil {
			return err
		}
	}
	started := make([]component.Lifecycle, 0, len(components))
	for _, c := range components {
		if err := c.Start(ctx); err != nil {
			stopAll(started, logger)
			return err
		}
		started = append(started, c)
	}
	defer stopAll(started, logger)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WSPath, wsServer)
	mux.Handle(cfg.Server.SSEPath, sseHandler)
	mux.Handle(cfg.Server.MetricsPath, registry.Handler())
	mux.HandleFunc(cfg.Server.HealthPath, healthHandler(broker, pollers, wsServer))

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.Addr,
			"ws_path", cfg.Server.WSPath, "sse_path", cfg.Server.SSEPath,
			"store_driver", cfg.Store.Driver)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// stopAll stops components in reverse start order
func stopAll(components []component.Lifecycle, logger *slog.Logger) {
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if err := c.Stop(stopTimeout); err != nil {
			logger.Warn("component stop failed", "component", c.Name(), "error", err)
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		logger.Info("connecting to postgres store")
		return store.NewPostgres(ctx, cfg.Store.DSN)
	default:
		logger.Info("using in-memory store")
		return store.NewMemory(), nil
	}
}

// healthHandler reports overall service health: 200 when every component
// is healthy, 503 otherwise.
func healthHandler(reporters ...component.HealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy := true
		for _, rep := range reporters {
			if !rep.Health().Healthy {
				healthy = false
				break
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"unhealthy"}`)
			return
		}
		fmt.Fprint(w, `{"status":"ok"}`)
	}
}
