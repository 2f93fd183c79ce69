// Command openchromed runs the browser automation server: it launches
// (or attaches to) a single Chrome instance, multiplexes sessions over it,
// and exposes the result over the JSON RPC surface in internal/rpcserver.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"openchrome/internal/config"
	"openchrome/internal/engine"
	"openchrome/internal/rpcserver"
	"openchrome/pkg/confreload"
	"openchrome/pkg/logger"
	"openchrome/pkg/metrics"
)

func main() {
	var (
		configFile = flag.String("config", "", "config file (YAML or JSON); defaults applied if omitted")
		listenAddr = flag.String("listen", "", "override rpc.listen_addr from the config")
	)
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "openchromed: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.RPC.ListenAddr = *listenAddr
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = cfg.Log.Format
	logCfg.Output = cfg.Log.Output
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "openchromed: logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	mc := metrics.NewMetricsCollector()
	metrics.SetGlobalCollector(mc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(ctx, cfg, log, mc)
	if err != nil {
		log.Error("engine init failed", zap.Error(err))
		os.Exit(1)
	}
	defer eng.Close()

	var reloader *confreload.Reloader
	if *configFile != "" {
		reloader = confreload.New(*configFile)
		reloader.SetLogger(confLogAdapter{log})
		reloader.OnChange(func(newCfg *config.Config) {
			log.Info("config changed", zap.Any("diff", confreload.Diff(cfg, newCfg)))
		})
		if err := reloader.Start(); err != nil {
			log.Error("config watch failed to start", zap.Error(err))
		} else {
			defer reloader.Stop()
		}
	}

	rpc := rpcserver.New(eng, log, mc, cfg.RPC)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", mc.MetricsHandler())
		metricsMux.Handle("/metrics.json", mc.JSONHandler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: metricsMux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		log.Info("metrics listening", zap.String("addr", cfg.Metrics.ListenAddr))
	}

	rpcSrv := &http.Server{Addr: cfg.RPC.ListenAddr, Handler: rpc.Mux()}
	go func() {
		log.Info("rpc listening", zap.String("addr", cfg.RPC.ListenAddr))
		if err := rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("rpc server failed", zap.Error(err))
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = rpcSrv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := &config.Config{}
		cfg.ApplyDefaults()
		cfg.ComputeDerived()
		cfg.LoadFromEnv()
		return cfg, nil
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.LoadFromEnv()
	return cfg, nil
}

// confLogAdapter lets pkg/logger.Logger satisfy confreload.Logger, whose
// interface predates the zap.Field-based one used everywhere else.
type confLogAdapter struct {
	l *logger.Logger
}

func (a confLogAdapter) Info(msg string, fields ...interface{}) {
	a.l.Info(msg, zap.Any("fields", fields))
}

func (a confLogAdapter) Error(msg string, fields ...interface{}) {
	a.l.Error(msg, zap.Any("fields", fields))
}
