// Command blindsend exchanges one file end-to-end encrypted through an
// exchange relay.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/blindsend/blindsend/internal/config"
	"github.com/blindsend/blindsend/internal/exchange"
	"github.com/blindsend/blindsend/internal/observability"
	"github.com/blindsend/blindsend/internal/quicutil"
	"github.com/blindsend/blindsend/internal/session"
)

var (
	configPath  string
	exchangeURL string
	chunkSize   string
	logLevel    string
	useHTTP3    bool
	insecure    bool
	force       bool
)

var rootCmd = &cobra.Command{
	Use:           "blindsend",
	Short:         "End-to-end encrypted file exchange",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "JSON config file")
	pf.StringVar(&exchangeURL, "exchange", "", "exchange service URL (overrides config)")
	pf.StringVar(&chunkSize, "chunk-size", "", "upload chunk size, e.g. 4MiB (0: single chunk)")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	pf.BoolVar(&useHTTP3, "http3", false, "talk to the exchange service over HTTP/3")
	pf.BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")

	rootCmd.AddCommand(requestCmd, uploadCmd, downloadCmd, sendCmd, receiveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env is what every subcommand needs: resolved config, a logger and a
// connected exchange client.
type env struct {
	cfg     *config.Config
	log     *observability.Logger
	metrics *observability.Metrics
	client  *exchange.Client
}

func (e *env) Close() error {
	return e.client.Close()
}

func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("exchange") {
		cfg.ExchangeURL = exchangeURL
	}
	if flags.Changed("chunk-size") {
		n, err := config.ParseSize(chunkSize)
		if err != nil {
			return nil, fmt.Errorf("--chunk-size: %w", err)
		}
		cfg.ChunkSize = config.Size(n)
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("http3") {
		cfg.UseHTTP3 = useHTTP3
	}
	if flags.Changed("insecure") {
		cfg.InsecureTLS = insecure
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}

	log := observability.NewConsoleLogger(os.Stderr).WithLevel(cfg.LogLevel)
	// Private registry: the CLI has no metrics endpoint.
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	opts := []exchange.ClientOption{
		exchange.WithTimeout(cfg.RequestTimeout.Std()),
		exchange.WithMetrics(metrics),
	}
	tlsConf := quicutil.MakeClientTLSConfig(cfg.InsecureTLS)
	if cfg.UseHTTP3 {
		opts = append(opts, exchange.WithHTTP3(tlsConf))
	} else if cfg.InsecureTLS {
		opts = append(opts, exchange.WithHTTPClient(&http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConf},
		}))
	}
	client, err := exchange.NewClient(cfg.ExchangeURL, opts...)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, metrics: metrics, client: client}, nil
}

// sessionOptions maps config onto session options.
func (e *env) sessionOptions() []session.Option {
	return []session.Option{
		session.WithChunkSize(int64(e.cfg.ChunkSize)),
		session.WithKDFCost(e.cfg.KDFOps, e.cfg.KDFMemLimitKiB),
		session.WithMaxKDFMemLimit(e.cfg.MaxKDFMemLimitKiB),
		session.WithPacer(pacerFor(e.cfg)),
		session.WithLogger(e.log),
		session.WithMetrics(e.metrics),
	}
}

// pacerFor prefers a bandwidth limit over a fixed interval.
func pacerFor(cfg *config.Config) session.Pacer {
	switch {
	case cfg.PacingRate > 0:
		burst := int(cfg.PacingBurst)
		if burst <= 0 {
			burst = int(cfg.PacingRate)
		}
		return session.NewTokenBucketPacer(float64(cfg.PacingRate), burst)
	case cfg.PacingInterval > 0:
		return session.FixedInterval(cfg.PacingInterval.Std())
	default:
		return session.NoPacing{}
	}
}
