package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/magefree/turnkit/internal/app"
	"github.com/magefree/turnkit/internal/config"
	"github.com/magefree/turnkit/internal/duel"
	"github.com/magefree/turnkit/internal/eventbus"
	"github.com/magefree/turnkit/internal/panel"
	"github.com/magefree/turnkit/internal/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration. The default file is optional; an explicit -config must exist.
	cfg, v, err := config.Load(*configPath, !flagPassed("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, level, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting battle simulator",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	watchLogLevel(v, level, logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("battle simulator failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("battle simulator stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Create context that listens for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := server.NewHub(cfg.Spectator.SendBuffer, logger.Named("spectator"))

	opts := []app.Option{
		app.WithPanels(panel.LogPanels(logger.Named("panel"), duel.PanelKeys...)),
	}
	feed := spectatorFeed{hub}
	if cfg.Spectator.Enabled {
		opts = append(opts, app.WithAttacher(feed))
	}
	var health *server.HealthServer
	if cfg.GRPC.Enabled {
		health = server.NewHealthServer(logger.Named("grpc"))
		opts = append(opts, app.WithHealth(health))
	}

	seq := &rounds{total: cfg.Battle.Rounds, done: cancel, logger: logger}
	opts = append(opts, app.WithAttacher(seq))

	rt, err := app.New(ctx, cfg, logger, opts...)
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer func() {
		// No-op after the explicit shutdown below; covers early returns.
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		_ = rt.Shutdown(shutdownCtx)
	}()

	strikes, err := duel.NewStrikePool(cfg.Pool)
	if err != nil {
		return fmt.Errorf("create strike pool: %w", err)
	}
	d, err := duel.New(cfg.Battle, duel.Deps{
		Bus:     rt.Bus(),
		Runner:  rt.Scheduler(),
		Panels:  rt.Panels(),
		Strikes: strikes,
		Logger:  logger.Named("duel"),
	})
	if err != nil {
		return fmt.Errorf("create duel: %w", err)
	}
	seq.post = rt.Scheduler().Post
	if store := rt.Store(); store != nil {
		hub.SetHistory(store, cfg.Spectator.HistoryLimit)
	}
	seq.reset = rt.ResetToMenu
	seq.start = d.Start

	var lis net.Listener
	if health != nil {
		lis, err = net.Listen("tcp", cfg.GRPC.Address)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPC.Address, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Battle loop: every bus event is raised on this goroutine.
	rt.Scheduler().Post(d.Start)
	g.Go(func() error {
		return rt.Scheduler().Run(gctx, cfg.Scheduler.TickInterval)
	})

	if cfg.Spectator.Enabled || cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		if cfg.Spectator.Enabled {
			mux.Handle("/ws", hub)
			if store := rt.Store(); store != nil {
				server.NewHistoryHandler(store, cfg.Spectator.HistoryLimit, logger.Named("history")).Register(mux)
			}
			g.Go(func() error {
				hub.Run(gctx)
				// Nothing drains the hub any more; stop queueing into it.
				rt.Detach(feed)
				return nil
			})
		}
		if cfg.Metrics.Enabled {
			mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(rt.Registry(), promhttp.HandlerOpts{}))
		}
		srv := &http.Server{
			Addr:              cfg.Spectator.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting HTTP server", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if health != nil {
		g.Go(func() error {
			return health.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			health.Stop()
			return nil
		})
	}

	logger.Info("battle simulator initialized",
		zap.Int("rounds", cfg.Battle.Rounds),
		zap.Duration("tick_interval", cfg.Scheduler.TickInterval),
		zap.Bool("spectator", cfg.Spectator.Enabled),
		zap.Bool("grpc", cfg.GRPC.Enabled),
	)

	waitErr := g.Wait()
	if ctx.Err() != nil {
		logger.Info("shutting down gracefully...")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	return errors.Join(waitErr, rt.Shutdown(shutdownCtx))
}

// spectatorFeed forwards battle, panel and strike events to the hub.
type spectatorFeed struct {
	hub *server.Hub
}

func (f spectatorFeed) Attach(bus *eventbus.Bus) []eventbus.Subscription {
	subs := f.hub.Attach(bus)
	return append(subs, server.Forward(f.hub, bus, "strike", func(e duel.StrikeEvent) string {
		return e.BattleID
	}))
}

// watchLogLevel re-reads the config file on change and applies a new log
// level without a restart. Other settings take effect on the next start.
func watchLogLevel(v *viper.Viper, level zap.AtomicLevel, logger *zap.Logger) {
	if v.ConfigFileUsed() == "" {
		return
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := config.Decode(v)
		if err != nil {
			logger.Warn("ignoring invalid configuration change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		next := parseLevel(cfg.Logging.Level)
		if next != level.Level() {
			level.SetLevel(next)
			logger.Info("log level changed", zap.String("level", next.String()))
		}
	})
	v.WatchConfig()
}

func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// initLogger initializes the zap logger based on configuration. The returned
// level can be changed while the process runs.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zapCfg.Level = level

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, level, err
	}
	return logger, level, nil
}
