// meshnoded is the mesh sensor node daemon: it owns a single mesh.Node
// poll loop and exposes its state over an admin HTTP surface and a
// Prometheus metrics endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/flximg/meshnode/internal/admin"
	"github.com/flximg/meshnode/internal/clock"
	"github.com/flximg/meshnode/internal/config"
	"github.com/flximg/meshnode/internal/flash"
	"github.com/flximg/meshnode/internal/mesh"
	meshmetrics "github.com/flximg/meshnode/internal/metrics"
	"github.com/flximg/meshnode/internal/nvram"
	"github.com/flximg/meshnode/internal/radio"
	"github.com/flximg/meshnode/internal/reboot"
	"github.com/flximg/meshnode/internal/signer"
	nodeversion "github.com/flximg/meshnode/internal/version"
)

// shutdownTimeout bounds how long the admin and metrics HTTP servers get
// to drain in-flight requests once shutdown begins.
const shutdownTimeout = 10 * time.Second

// pollInterval is how often the poll loop calls Node.Process, whether or
// not the radio has a frame pending, so OTA pacing and discovery retries
// still make progress on an idle link.
const pollInterval = 20 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logger := newLogger(cfg.Log)
	logger.Info("meshnoded starting",
		slog.String("version", nodeversion.Version),
		slog.String("radio_driver", cfg.Radio.Driver),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	if err := runDaemon(cfg, logger); err != nil {
		logger.Error("meshnoded exited with error", slog.Any("error", err))
		return 1
	}

	logger.Info("meshnoded stopped")
	return 0
}

func runDaemon(cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	collector := meshmetrics.NewCollector(reg)

	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open nvram store: %w", err)
	}
	defer closeStore()

	r, err := openRadio(cfg.Radio)
	if err != nil {
		return fmt.Errorf("open radio: %w", err)
	}

	sign, err := openSigner(cfg.Signing)
	if err != nil {
		return fmt.Errorf("open signer: %w", err)
	}

	opts := []mesh.Option{
		mesh.WithMetrics(collector),
		mesh.WithSigningRequired(cfg.Signing.RequireSignedInbound),
		mesh.WithVerificationTimeout(cfg.Signing.VerificationTimeout),
		mesh.WithRebooter(reboot.Syscall{Logger: logger}),
	}
	if cfg.Flash.Path != "" {
		stager, err := flash.OpenFileStager(cfg.Flash.Path, mesh.FlashStagingRegionSize)
		if err != nil {
			return fmt.Errorf("open flash stager: %w", err)
		}
		defer stager.Close()
		opts = append(opts, mesh.WithFlash(stager))
	}

	nodeCfg := mesh.Config{
		Capabilities: mesh.Capabilities{
			Repeater:       cfg.Capabilities.Repeater,
			Gateway:        cfg.Capabilities.Gateway,
			AutoFindParent: cfg.Capabilities.AutoFindParent,
		},
		Logger: logger,
	}

	node, err := mesh.New(nodeCfg, r, store, clock.New(), sign, opts...)
	if err != nil {
		return fmt.Errorf("construct node: %w", err)
	}

	adminSrv := admin.New(cfg.Admin.Addr, node, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return runPollLoop(gCtx, node, logger) })
	g.Go(func() error { return adminSrv.Run(gCtx) })

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
	g.Go(func() error { return runWatchdog(gCtx, logger) })

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// runPollLoop drives Node.Process forever, one call per pollInterval tick;
// each call handles at most one queued frame. A returned ErrPoolExhausted
// is fatal.
func runPollLoop(ctx context.Context, node *mesh.Node, logger *slog.Logger) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := node.Process(); err != nil {
				logger.Error("node processing halted", slog.Any("error", err))
				return fmt.Errorf("process: %w", err)
			}
		}
	}
}

func openStore(cfg config.StoreConfig) (mesh.NVStore, func(), error) {
	store, err := nvram.OpenFileStore(cfg.Path, int64(mesh.NVStoreSize))
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func openRadio(cfg config.RadioConfig) (mesh.Radio, error) {
	switch cfg.Driver {
	case "loopback":
		return radio.NewLoopback(radio.NewFabric()), nil
	case "serial":
		s, err := radio.OpenSerial(cfg.Device, cfg.BaudRate)
		if err != nil {
			return nil, err
		}
		s.StartReading()
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported radio driver %q", cfg.Driver)
	}
}

func openSigner(cfg config.SigningConfig) (mesh.Signer, error) {
	if cfg.Key == "" {
		return nil, errors.New("signing.key must be configured")
	}
	return signer.New([]byte(cfg.Key))
}

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.Any("error", err))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.Any("error", err))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured interval, as systemd recommends. Exits immediately if no
// watchdog is configured.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.Any("error", err))
		return nil
	}
	if interval == 0 {
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Warn("failed to send watchdog keepalive", slog.Any("error", err))
			}
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.DefaultConfig(), nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
