package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/zamazir/THMmonitor/catalog"
	"github.com/zamazir/THMmonitor/component"
	"github.com/zamazir/THMmonitor/config"
	"github.com/zamazir/THMmonitor/engine"
	"github.com/zamazir/THMmonitor/errors"
	gatewayhttp "github.com/zamazir/THMmonitor/gateway/http"
	"github.com/zamazir/THMmonitor/health"
	"github.com/zamazir/THMmonitor/input/feed"
	"github.com/zamazir/THMmonitor/input/file"
	"github.com/zamazir/THMmonitor/metric"
	"github.com/zamazir/THMmonitor/natsclient"
	"github.com/zamazir/THMmonitor/output/archive"
	"github.com/zamazir/THMmonitor/output/decodelog"
	"github.com/zamazir/THMmonitor/output/events"
	"github.com/zamazir/THMmonitor/output/httppost"
	"github.com/zamazir/THMmonitor/output/websocket"
	"github.com/zamazir/THMmonitor/pkg/retry"
	"github.com/zamazir/THMmonitor/pkg/tlsutil"
	"github.com/zamazir/THMmonitor/processor/decoder"
)

// app is the wired monitor: one session behind the HTTP gateway, with the
// event bus fanning out to the log and WebSocket clients, and optionally to
// NATS, a webhook and the on-disk archive.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	decodeLog   *decodelog.Log
	bus         *events.Bus
	broadcaster *websocket.Broadcaster
	publisher   *natsclient.Client
	webhook     *httppost.Sink
	archive     *archive.Archive
	loader      *file.Loader
	session     *engine.Session
	server      *gatewayhttp.Server
	manager     *component.Manager
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
	}
	built := false
	defer func() {
		if !built {
			a.close(5 * time.Second)
		}
	}()

	if err := registerBuildInfo(a.registry, cfg.Mode); err != nil {
		return nil, err
	}

	cat, err := loadCatalog(cfg.Catalog, logger)
	if err != nil {
		return nil, err
	}
	layout, err := decoder.THMLayout(cat.Entries())
	if err != nil {
		return nil, errors.WrapFatal(err, "app", "newApp", "build THM layout")
	}

	if a.decodeLog, err = decodelog.Open(cfg.DecodeLog); err != nil {
		return nil, err
	}

	if a.bus, err = events.NewBus(cfg.Events.QueueSize, logger, a.registry); err != nil {
		return nil, err
	}
	if err := a.bus.Register(events.NewLogSink(logger)); err != nil {
		return nil, err
	}
	if a.broadcaster, err = websocket.NewBroadcaster(cfg.WebSocket, logger, a.registry); err != nil {
		return nil, err
	}
	if err := a.bus.Register(a.broadcaster); err != nil {
		return nil, err
	}
	if cfg.Events.NATS {
		tlsConfig, err := tlsutil.LoadClientConfig(cfg.Events.TLS)
		if err != nil {
			return nil, err
		}
		a.publisher, err = natsclient.NewClient(cfg.Events.URL,
			natsclient.WithLogger(logger),
			natsclient.WithMetrics(a.registry),
			natsclient.WithName(appName+"-events"),
			natsclient.WithTLS(tlsConfig))
		if err != nil {
			return nil, err
		}
		if err := a.bus.Register(events.NewNATSSink(a.publisher, cfg.Events.Prefix)); err != nil {
			return nil, err
		}
	}

	if cfg.Events.Webhook != nil {
		if a.webhook, err = httppost.NewSink(*cfg.Events.Webhook, logger); err != nil {
			return nil, err
		}
		if err := a.bus.Register(a.webhook); err != nil {
			return nil, err
		}
	}

	if cfg.Events.Archive != nil {
		if a.archive, err = archive.New(*cfg.Events.Archive, logger); err != nil {
			return nil, err
		}
		if err := a.bus.Register(a.archive); err != nil {
			return nil, err
		}
	}

	source, err := feed.NewSource(cfg.Feed, feed.Deps{
		Logger:          logger,
		MetricsRegistry: a.registry,
		Simulator:       feed.NewSimulator(layout, cfg.Feed.Simulation.Seed),
	})
	if err != nil {
		return nil, err
	}

	loaderOpts := []file.Option{file.WithLogger(logger), file.WithMetricsRegistry(a.registry)}
	if a.decodeLog.Tracing() {
		loaderOpts = append(loaderOpts, file.WithTraceLogger(a.decodeLog.Logger()))
	}
	if a.loader, err = file.NewLoader(layout, cfg.File, loaderOpts...); err != nil {
		return nil, err
	}

	a.session, err = engine.New(cfg.Engine, engine.Deps{
		Logger:          logger,
		MetricsRegistry: a.registry,
		Layout:          layout,
		Catalog:         cat,
		Bus:             a.bus,
		DecodeLog:       a.decodeLog,
		Source:          source,
		Loader:          a.loader,
	})
	if err != nil {
		return nil, err
	}

	var reporters []component.Discoverable
	if a.publisher != nil {
		reporters = append(reporters, &publisherHealth{client: a.publisher})
	}
	if a.webhook != nil {
		reporters = append(reporters, a.webhook)
	}
	if a.archive != nil {
		reporters = append(reporters, a.archive)
	}
	a.server, err = gatewayhttp.NewServer(cfg.HTTP, gatewayhttp.Deps{
		Session:         a.session,
		Logger:          logger,
		MetricsRegistry: a.registry,
		Health:          health.NewMonitor(health.WithLogger(logger), health.WithMetrics(a.registry.CoreMetrics())),
		Components:      reporters,
		WebSocket:       a.broadcaster,
	})
	if err != nil {
		return nil, err
	}

	a.manager = component.NewManager(logger)
	if err := a.manager.Add("session", a.session); err != nil {
		return nil, err
	}
	if err := a.manager.Add("http-gateway", a.server); err != nil {
		return nil, err
	}
	built = true
	return a, nil
}

// run starts everything, preloads the requested files and blocks until ctx
// is cancelled or a startup task fails.
func (a *app) run(ctx context.Context, cli *CLIConfig) error {
	defer a.close(cli.ShutdownTimeout)

	if a.publisher != nil {
		connect := retry.DefaultConfig()
		connect.OnRetry = func(attempt int, err error, delay time.Duration) {
			a.logger.Warn("NATS event publisher not reachable, retrying", "attempt", attempt, "delay", delay, "error", err)
		}
		if err := retry.Do(ctx, connect, func() error { return a.publisher.Connect(ctx) }); err != nil {
			return errors.Wrap(err, "app", "run", "connect event publisher")
		}
	}

	if err := a.broadcaster.Start(ctx); err != nil {
		return err
	}
	if a.archive != nil {
		if err := a.archive.Initialize(); err != nil {
			return err
		}
		// Outlives the session; stopped once the bus has drained.
		if err := a.archive.Start(context.WithoutCancel(ctx)); err != nil {
			return err
		}
	}
	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("THM monitor started",
		"mode", a.cfg.Mode,
		"session", a.session.ID(),
		"addr", a.cfg.HTTP.Addr,
		"transport", a.cfg.Feed.Transport)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.preload(gctx, cli)
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	a.logger.Info("Shutting down", "reason", shutdownReason(ctx, err))
	return err
}

// preload imports the ambient reference and historical logs, then starts
// the live feed.
func (a *app) preload(ctx context.Context, cli *CLIConfig) error {
	if a.cfg.Ambient != "" {
		if _, err := a.session.LoadAmbient(a.cfg.Ambient); err != nil {
			return errors.Wrap(err, "app", "preload", "load ambient reference")
		}
	}

	for _, path := range cli.Load {
		if _, err := a.session.LoadFile(ctx, path); err != nil {
			return errors.Wrap(err, "app", "preload", fmt.Sprintf("load %s", path))
		}
	}

	if cli.NoFeed {
		return nil
	}
	return a.session.StartFeed(ctx)
}

// close stops the components in reverse start order. It is safe on a
// partially built app.
func (a *app) close(timeout time.Duration) {
	var errs []error
	if a.manager != nil {
		errs = append(errs, a.manager.Stop(timeout))
	} else if a.session != nil {
		errs = append(errs, a.session.Stop(timeout))
	}
	if a.broadcaster != nil {
		errs = append(errs, a.broadcaster.Stop(timeout))
	}
	if a.bus != nil {
		errs = append(errs, a.bus.Close(timeout))
	}
	if a.archive != nil {
		errs = append(errs, a.archive.Stop(timeout))
	}
	if a.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		errs = append(errs, a.publisher.Close(ctx))
		cancel()
	}
	if a.loader != nil {
		errs = append(errs, a.loader.Close())
	}
	if a.decodeLog != nil {
		errs = append(errs, a.decodeLog.Close())
	}
	if err := stderrors.Join(errs...); err != nil {
		a.logger.Error("Shutdown incomplete", "error", err)
	}
}

func shutdownReason(ctx context.Context, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case ctx.Err() != nil:
		return "signal"
	default:
		return "done"
	}
}

func loadCatalog(path string, logger *slog.Logger) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.New(logger), nil
	}
	return catalog.Load(path, logger)
}

// registerBuildInfo exports the version and operating mode as labels of a
// constant gauge.
func registerBuildInfo(registry *metric.MetricsRegistry, mode string) error {
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metric.Namespace,
		Name:      "build_info",
		Help:      "Build version and operating mode",
	}, []string{"version", "mode"})
	if err := registry.RegisterGaugeVec(appName, "build_info", info); err != nil {
		return err
	}
	info.WithLabelValues(Version, mode).Set(1)
	return nil
}

// publisherHealth reports the event publisher's NATS connection in /health.
type publisherHealth struct {
	client *natsclient.Client
}

func (p *publisherHealth) Meta() component.Metadata {
	return component.Metadata{
		Name:        "nats-events",
		Type:        component.KindOutput,
		Description: "Publishes monitor events on NATS",
		Version:     Version,
	}
}

func (p *publisherHealth) Health() component.HealthStatus {
	st := p.client.GetStatus()
	hs := component.HealthStatus{
		Healthy:    p.client.IsHealthy(),
		LastCheck:  time.Now(),
		ErrorCount: int(st.FailureCount),
	}
	if !hs.Healthy {
		hs.LastError = "nats " + st.Status.String()
	}
	return hs
}

func (p *publisherHealth) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}
