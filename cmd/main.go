package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tigon-control-plane/backend"
	"tigon-control-plane/config"
	"tigon-control-plane/discovery"
	"tigon-control-plane/discovery/etcd"
	"tigon-control-plane/discovery/kube"
	"tigon-control-plane/discovery/natskv"
	"tigon-control-plane/health"
	"tigon-control-plane/heartbeat"
	hpubsub "tigon-control-plane/heartbeat/pubsub"
	"tigon-control-plane/ingest"
	"tigon-control-plane/liveness"
	"tigon-control-plane/metrics"
	"tigon-control-plane/notify"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "source"

func setLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// newRegistry builds the discovery registry selected by TIGON_DISCOVERY.
// The returned closer releases its connection.
func newRegistry(ctx context.Context, cfg *config.Config) (discovery.Registry, func(), error) {
	switch cfg.Discovery {
	case config.DiscoveryEtcd:
		r, err := etcd.New(cfg.EtcdEndpoints, cfg.EtcdLeaseTTL)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	case config.DiscoveryNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("tigon-control-plane"))
		if err != nil {
			return nil, nil, err
		}
		r, err := natskv.New(ctx, nc, cfg.NATSBucket, cfg.NATSTTL)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return r, nc.Close, nil
	case config.DiscoveryKube:
		client, err := kube.NewClient()
		if err != nil {
			return nil, nil, err
		}
		return kube.NewRegistry(client, cfg.KubeNamespace, cfg.KubeLeaseSecs), func() {}, nil
	default:
		return discovery.NewMemory(), func() {}, nil
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		setLogger("info")
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLogger(cfg.LogLevel)
	log.Info().Msgf("Starting tigon-control-plane version: %s", version)
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")

	if len(cfg.Streams) == 0 {
		log.Warn().Msg("no streams configured; set TIGON_STREAMS to name=host:port entries")
	}

	// Context and shutdown handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, closeRegistry, err := newRegistry(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("discovery", cfg.Discovery).Msg("failed to create discovery registry")
	}
	defer closeRegistry()

	// Failure handling: always log, publish when a topic is configured.
	handlers := notify.Multi{notify.Log{}}
	var closers []io.Closer
	if cfg.FailureTopic != "" && cfg.GoogleProjectID != "" {
		publisher := hpubsub.NewPublisher(cfg.GoogleProjectID, cfg.FailureTopic, cfg.CredentialsFile)
		async := notify.NewAsync(notify.Publish{Publisher: publisher}, 64)
		handlers = append(handlers, async)
		closers = append(closers, closerFunc(func() error { async.Close(); return nil }), publisher)
	}

	monitor := liveness.NewMonitor(handlers,
		liveness.WithInitializationTimeout(cfg.InitializationTimeout),
		liveness.WithHeartbeatFrequency(cfg.HeartbeatFrequency),
	)

	client := backend.NewClientService(cfg.Streams,
		backend.WithDialTimeout(cfg.BackendDialTimeout),
		backend.WithDialAttempts(cfg.BackendDialAttempts),
	)
	router := ingest.NewRouter(registry, cfg.Streams,
		ingest.WithListenAddr(cfg.IngestAddr()),
		ingest.WithClientService(client),
	)

	// Metrics and health HTTP server
	mux := http.NewServeMux()
	metrics.Register(mux)
	health.Register(mux,
		health.Check{Name: "router", Component: router},
		health.Check{Name: "monitor", Component: monitor},
	)
	health.RegisterDebug(mux, "/debug/liveness", func() any { return monitor.Snapshot() })
	health.RegisterDebug(mux, "/debug/streams", func() any { return client.Streams() })

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting metrics/health server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	if err := monitor.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start liveness monitor")
	}
	if err := router.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start ingestion router")
	}
	if addr := router.Address(); addr != nil {
		log.Info().Str("addr", addr.String()).Msg("ingestion router running")
	}

	if cfg.HeartbeatSubscription != "" && cfg.GoogleProjectID != "" {
		if cfg.CredentialsFile != "" {
			log.Info().Str("credsFile", cfg.CredentialsFile).Msg("using explicit Google credentials file")
		} else {
			log.Info().Msg("using default Google credentials (in-cluster or ambient)")
		}
		subscriber := hpubsub.NewSubscriber(cfg.GoogleProjectID, cfg.HeartbeatSubscription, cfg.CredentialsFile)
		go func() {
			log.Info().Str("subscription", cfg.HeartbeatSubscription).Msg("starting heartbeat subscriber loop")
			if err := subscriber.Start(ctx, func(ctx context.Context, msg *heartbeat.Message) error {
				return heartbeat.Apply(monitor, msg)
			}); err != nil {
				// Without heartbeats every process would be reported missing.
				log.Fatal().Err(err).Msg("heartbeat subscriber exited with fatal error; shutting down")
			}
		}()
	}

	// Block until shutdown
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := router.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("ingestion router stop failed")
	}
	if err := monitor.Stop(); err != nil {
		log.Error().Err(err).Msg("liveness monitor stop failed")
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("close failed")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server graceful shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
