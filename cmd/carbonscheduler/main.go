// Command carbonscheduler runs the carbon-aware scheduling decision engine:
// the scheduler registry, its HTTP config/schedule API, and a Prometheus (or
// OTel) metrics exporter, wired the way the teacher's CLI wires its engine,
// metrics, and health endpoints behind signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/99souls/carbonscheduler/internal/api"
	"github.com/99souls/carbonscheduler/internal/config"
	"github.com/99souls/carbonscheduler/internal/registry"
	"github.com/99souls/carbonscheduler/internal/telemetry/health"
	"github.com/99souls/carbonscheduler/internal/telemetry/logging"
	"github.com/99souls/carbonscheduler/internal/telemetry/metrics"
)

func main() {
	var (
		apiAddr        string
		metricsBackend string
		seedPath       string
		showVersion    bool
	)
	flag.StringVar(&apiAddr, "api-addr", ":8080", "Address the config/schedule API listens on")
	flag.StringVar(&metricsBackend, "metrics-backend", "prom", "Metrics backend: prom|otel|noop")
	flag.StringVar(&seedPath, "seed-file", os.Getenv("CONFIG_RELOAD_PATH"), "Optional YAML flavour/component seed file, hot-reloaded on change")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("carbonscheduler")
		return
	}

	proc := config.LoadFromEnv()
	logger := logging.NewFromLevel(proc.LogLevel)

	provider, metricsHandler := buildMetricsProvider(metricsBackend)
	recorder := metrics.NewRecorder(provider)

	reg := registry.New(recorder, logger, proc.CarbonAPIURL)

	if seedPath != "" {
		if seed, err := config.LoadSeed(seedPath); err == nil {
			cfg := proc.Session
			cfg.Flavours = seed.Flavours()
			cfg.Components = seed.Components
			proc.Session = cfg
		} else {
			logger.WarnCtx(context.Background(), "seed file load failed, starting without seeded flavours", "path", seedPath, "error", err.Error())
		}
	}
	reg.UpdateConfig(proc.DefaultNamespace, proc.DefaultName, proc.Session)

	var stopWatch func() error
	if seedPath != "" {
		var err error
		stopWatch, err = config.WatchSeed(seedPath, func(seed config.Seed) {
			cfg := proc.Session
			cfg.Flavours = seed.Flavours()
			cfg.Components = seed.Components
			reg.UpdateConfig(proc.DefaultNamespace, proc.DefaultName, cfg)
			logger.InfoCtx(context.Background(), "seed file reloaded", "path", seedPath)
		})
		if err != nil {
			logger.WarnCtx(context.Background(), "seed file watch failed", "path", seedPath, "error", err.Error())
		}
	}

	healthEval := health.NewEvaluator(2*time.Second, health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		return reg.Probe(ctx)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.InfoCtx(ctx, "signal received; initiating graceful shutdown")
		cancel()
		<-sigCh
		logger.ErrorCtx(ctx, "second signal received; forcing exit")
		os.Exit(1)
	}()

	apiServer := api.New(reg, healthEval, logger, proc.DefaultNamespace, proc.DefaultName)
	httpServer := &http.Server{Addr: apiAddr, Handler: apiServer.Mux()}
	go func() {
		logger.InfoCtx(ctx, "api listening", "addr", apiAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server: %v", err)
		}
	}()

	var metricsServer *http.Server
	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		metricsAddr := fmt.Sprintf(":%d", proc.MetricsPort)
		metricsServer = &http.Server{Addr: metricsAddr, Handler: metricsMux}
		go func() {
			logger.InfoCtx(ctx, "metrics listening", "addr", metricsAddr, "backend", metricsBackend)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("metrics server: %v", err)
			}
		}()
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if stopWatch != nil {
		_ = stopWatch()
	}
	reg.CloseAll()
	logger.InfoCtx(context.Background(), "shutdown complete")
}

func buildMetricsProvider(backend string) (metrics.Provider, http.Handler) {
	switch backend {
	case "otel":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{ServiceName: "carbonscheduler"}), nil
	case "noop":
		return metrics.NewNoopProvider(), nil
	default:
		p := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
		return p, p.MetricsHandler()
	}
}
