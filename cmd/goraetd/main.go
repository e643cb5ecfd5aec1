// Command goraetd runs the RAET estate/transaction stack as a standalone
// daemon: it binds a UDP socket, loads or generates this host's identity,
// joins any declaratively configured remotes, and drives the stack's
// service loop until terminated.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/goraet/goraet/internal/config"
	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/keep"
	raetmetrics "github.com/goraet/goraet/internal/metrics"
	"github.com/goraet/goraet/internal/netio"
	"github.com/goraet/goraet/internal/stack"
	appversion "github.com/goraet/goraet/internal/version"
)

// shutdownTimeout bounds how long the metrics HTTP server is given to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// serviceInterval is the tick period for the stack's ServiceAll pass.
// The RAET stack is cooperative rather than event-driven, so the loop
// polls at a fixed rate rather than blocking on socket readiness.
const serviceInterval = 20 * time.Millisecond

// manageInterval is the tick period for the stack's Manage cascade, which
// retires expired transactions and spawns due liveness probes. It runs
// far less often than the service loop since it only needs to notice a
// remote's configured period elapsing, not every inbound datagram.
const manageInterval = 500 * time.Millisecond

// keepFlushInterval is how often the local estate's session id is
// persisted to disk, so a restart resumes from roughly where it left off
// rather than replaying session ids a peer has already seen.
const keepFlushInterval = 5 * time.Second

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "goraetd",
		Short: "RAET estate/transaction stack daemon",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDaemon(configPath)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print goraetd build information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(appversion.Full("goraetd"))
		},
	}
}

func runDaemon(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)

		return err
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLogger(cfg.Log, logLevel)

	logger.Info("goraetd starting",
		slog.String("version", appversion.Version),
		slog.String("stack_local", cfg.Stack.Local),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := raetmetrics.NewCollector(reg)

	st, socket, fk, err := buildStack(cfg, collector, logger)
	if err != nil {
		return fmt.Errorf("build stack: %w", err)
	}
	defer socket.Close()

	joinConfiguredRemotes(st, cfg.Stack, cfg.Remotes, logger)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)

		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		return runServiceLoop(gCtx, st, collector)
	})

	g.Go(func() error {
		runKeepFlush(gCtx, fk, st.Local(), logger)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(metricsSrv, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("goraetd exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("goraetd stopped")

	return nil
}

// buildStack assembles the estate keep, local identity, UDP socket, and
// Stack from cfg.
func buildStack(cfg *config.Config, collector *raetmetrics.Collector, logger *slog.Logger) (*stack.Stack, *netio.UDPSocket, *keep.FileKeep, error) {
	dir := cfg.Stack.DirPath
	if cfg.Stack.BaseDirPath != "" {
		dir = filepath.Join(cfg.Stack.BaseDirPath, cfg.Stack.DirPath)
	}

	fk, err := keep.NewFileKeep(dir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open keep dir %s: %w", dir, err)
	}

	local, err := netip.ParseAddrPort(cfg.Stack.Local)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse stack.local %q: %w", cfg.Stack.Local, err)
	}

	name := cfg.Stack.Name
	if name == "" {
		name = "goraetd"
	}

	localEstate, err := loadOrCreateLocal(fk, local, name, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bootstrap local identity: %w", err)
	}

	socket, err := netio.NewUDPSocket(local, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bind udp socket %s: %w", local, err)
	}

	st := stack.New(localEstate, socket,
		stack.WithLogger(logger),
		stack.WithMetrics(collector),
		stack.WithKeep(fk),
		stack.WithTimeout(cfg.Stack.Timeout),
		stack.WithBufCount(cfg.Stack.BufCnt),
		stack.WithMain(cfg.Stack.Main),
	)

	loadKeptRemotes(st, fk, logger)

	return st, socket, fk, nil
}

// loadKeptRemotes rehydrates every verified remote record from fk into
// st's registry, so a restart resumes with the acceptance state and
// public keys a prior Allow handshake already negotiated rather than
// forcing every remote through join/allow again. Unverified or
// undecodable records are skipped and logged, not fatal: a stack can
// still rejoin a remote whose keep record didn't survive.
func loadKeptRemotes(st *stack.Stack, fk *keep.FileKeep, logger *slog.Logger) {
	all, err := fk.LoadAllRemoteData()
	if err != nil {
		logger.Warn("failed to load remote keep records", slog.String("error", err.Error()))
		return
	}

	for _, d := range all {
		if !fk.VerifyRemoteData(d) {
			logger.Warn("skipping unverified remote keep record", slog.Uint64("uid", uint64(d.Local.UID)))
			continue
		}

		re, err := keep.RemoteFromData(d)
		if err != nil {
			logger.Warn("failed to decode remote keep record",
				slog.Uint64("uid", uint64(d.Local.UID)),
				slog.String("error", err.Error()),
			)

			continue
		}

		if err := st.AddRemote(re); err != nil {
			logger.Warn("failed to add remote from keep",
				slog.Uint64("uid", uint64(d.Local.UID)),
				slog.String("error", err.Error()),
			)

			continue
		}

		logger.Info("loaded remote from keep", slog.Uint64("uid", uint64(re.UID)), slog.String("name", re.Name))
	}
}

// runKeepFlush persists the local estate's current session id to disk
// every keepFlushInterval, until ctx is cancelled. Errors are logged, not
// fatal: a failed flush just means a restart replays a slightly stale sid,
// which the protocol's own stale-session handling already tolerates.
func runKeepFlush(ctx context.Context, fk *keep.FileKeep, local *estate.Estate, logger *slog.Logger) {
	ticker := time.NewTicker(keepFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fk.DumpLocal(localToKeep(local), safeFromLocal(local)); err != nil {
				logger.Warn("failed to flush local keep", slog.String("error", err.Error()))
			}
		}
	}
}

// joinConfiguredRemotes spawns a Joiner against every remote named in the
// configuration, then stamps the liveness-cascade knobs (auto, period,
// offset) onto the bootstrapped pending remote; Manage reads auto and
// period, while offset is stored but not read — Join itself
// only establishes identity, not the probing policy for the relationship.
// Errors are logged and skipped rather than aborting startup, since a
// single unreachable peer shouldn't prevent the daemon from serving the
// ones it can reach.
func joinConfiguredRemotes(st *stack.Stack, stackCfg config.StackConfig, remotes []config.RemoteConfig, logger *slog.Logger) {
	now := time.Now()

	for _, rc := range remotes {
		ap, err := rc.AddrPort()
		if err != nil {
			logger.Error("invalid remote address, skipping join",
				slog.String("remote", rc.Name),
				slog.String("error", err.Error()),
			)

			continue
		}

		if err := st.Join(ap, now); err != nil {
			logger.Error("failed to join remote",
				slog.String("remote", rc.Name),
				slog.String("addr", ap.String()),
				slog.String("error", err.Error()),
			)

			continue
		}

		if re, ok := st.Registry().FetchByHa(ap); ok {
			re.Auto = rc.Auto
			re.Period = rc.Period
			if re.Period == 0 {
				re.Period = stackCfg.Period
			}
			re.Offset = stackCfg.Offset
		}

		logger.Info("join requested", slog.String("remote", rc.Name), slog.String("addr", ap.String()))
	}
}

// runServiceLoop drives the stack's ServiceAll/Manage cascade on two
// independent tickers until ctx is cancelled, publishing gauge metrics
// after each service pass.
func runServiceLoop(ctx context.Context, st *stack.Stack, collector *raetmetrics.Collector) error {
	serviceTicker := time.NewTicker(serviceInterval)
	defer serviceTicker.Stop()

	manageTicker := time.NewTicker(manageInterval)
	defer manageTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-serviceTicker.C:
			st.ServiceAll(now)
			collector.SetTransactions(st.PendingTransactions())
			collector.SetPendingSends(st.PendingSends())
			collector.SetRemotes(st.Registry().Len())
		case now := <-manageTicker.C:
			st.Manage(true, false, now)
		}
	}
}

func gracefulShutdown(metricsSrv *http.Server, logger *slog.Logger) error {
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}

	return nil
}

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}

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

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}

		return cfg, nil
	}

	return config.DefaultConfig(), nil
}

func newLogger(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
