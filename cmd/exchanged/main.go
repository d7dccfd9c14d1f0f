// Command exchanged runs the reference exchange relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"

	"github.com/blindsend/blindsend/internal/config"
	"github.com/blindsend/blindsend/internal/observability"
	"github.com/blindsend/blindsend/internal/quicutil"
	"github.com/blindsend/blindsend/internal/relay"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "JSON config file")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if err := cfg.ValidateRelay(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log := observability.NewLogger("exchanged", version, os.Stdout).WithLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal(err, "relay stopped")
	}
	log.Info("shut down gracefully")
}

func openStores(cfg *config.Config) (relay.RecordStore, relay.BlobStore, error) {
	if cfg.RecordBackend != config.BackendMemory || cfg.BlobBackend != config.BackendMemory {
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, nil, fmt.Errorf("creating data dir: %w", err)
		}
	}

	var records relay.RecordStore = relay.NewMemoryRecordStore()
	if cfg.RecordBackend == config.BackendSQLite {
		s, err := relay.NewSQLiteRecordStore(filepath.Join(cfg.DataDir, "records.db"))
		if err != nil {
			return nil, nil, err
		}
		records = s
	}

	var blobs relay.BlobStore = relay.NewMemoryBlobStore()
	if cfg.BlobBackend == config.BackendBolt {
		b, err := relay.OpenBoltBlobStore(filepath.Join(cfg.DataDir, "blobs.bolt"))
		if err != nil {
			records.Close()
			return nil, nil, err
		}
		blobs = b
	}
	return records, blobs, nil
}

func run(ctx context.Context, cfg *config.Config, log *observability.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, "exchanged", version, cfg.JaegerEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	records, blobs, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer records.Close()
	defer blobs.Close()

	proxies, err := relay.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	srv := relay.NewServer(records, blobs, relay.Options{
		LinkBase:       cfg.LinkBase,
		MaxUploadBytes: int64(cfg.MaxUploadBytes),
		SessionTTL:     cfg.SessionTTL.Std(),
		TrustedProxies: proxies,
		Logger:         log,
		Metrics:        metrics,
	})

	health := observability.NewHealthChecker(version)
	for name, check := range srv.HealthChecks() {
		health.RegisterCheck(name, check)
	}
	health.RegisterCheck("http", observability.TCPCheck("http", cfg.ListenAddr))

	handler := srv.Handler()
	var h3 *http3.Server
	if cfg.HTTP3Addr != "" {
		tlsConf, err := quicutil.LoadTLSConfig(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("http3 tls: %w", err)
		}
		h3 = &http3.Server{
			Addr:      cfg.HTTP3Addr,
			Handler:   handler,
			TLSConfig: http3.ConfigureTLSConfig(tlsConf),
		}
		handler = altSvc(h3, handler)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("exchange relay listening on " + cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if h3 != nil {
		g.Go(func() error {
			log.Info("http3 listening on " + cfg.HTTP3Addr)
			if err := h3.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && gctx.Err() == nil {
				return fmt.Errorf("http3 server: %w", err)
			}
			return nil
		})
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           adminMux(metrics, health),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info("metrics listening on " + cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return srv.RunCleanup(gctx, cfg.CleanupInterval.Std())
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if h3 != nil {
			h3.Close()
		}
		if metricsServer != nil {
			metricsServer.Shutdown(shutdownCtx)
		}
		return err
	})

	return g.Wait()
}

// altSvc advertises the HTTP/3 endpoint on TCP responses.
func altSvc(h3 *http3.Server, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h3.SetQUICHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

func adminMux(metrics *observability.Metrics, health *observability.HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", health.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}
