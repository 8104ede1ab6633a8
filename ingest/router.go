// Package ingest exposes the HTTP endpoint through which records are
// posted to named streams and forwarded to each stream's backend.
package ingest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"tigon-control-plane/backend"
	"tigon-control-plane/discovery"
	"tigon-control-plane/metrics"
	"tigon-control-plane/service"

	"github.com/rs/zerolog/log"
)

// ServiceName is the discovery name under which the router registers.
const ServiceName = "tigon-data-ingestion"

// ClientService forwards records to stream backends.
type ClientService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SendData(ctx context.Context, stream string, data []byte) bool
}

type Option func(*Router)

// WithListenAddr sets the HTTP bind address. Port 0 picks an ephemeral port.
func WithListenAddr(addr string) Option {
	return func(r *Router) { r.listenAddr = addr }
}

// WithClientService replaces the TCP client built from the route map.
func WithClientService(c ClientService) Option {
	return func(r *Router) { r.client = c }
}

func WithRegisterTimeout(d time.Duration) Option {
	return func(r *Router) { r.registerTimeout = d }
}

type Router struct {
	registry        discovery.Registry
	routes          map[string]string
	client          ClientService
	listenAddr      string
	registerTimeout time.Duration

	lifecycle *service.Lifecycle
	listener  *httpListener

	// mu serializes Stop with failure handling.
	mu sync.Mutex
	// handle is only touched from listener transitions, which are serialized.
	handle discovery.Handle
}

// NewRouter builds a router for the static stream -> backend address routes.
func NewRouter(registry discovery.Registry, routes map[string]string, opts ...Option) *Router {
	copied := make(map[string]string, len(routes))
	for k, v := range routes {
		copied[k] = v
	}
	r := &Router{
		registry:        registry,
		routes:          copied,
		listenAddr:      "127.0.0.1:0",
		registerTimeout: 10 * time.Second,
		lifecycle:       service.NewLifecycle("ingest-router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = backend.NewClientService(copied)
	}

	r.listener = newHTTPListener(r.listenAddr, r.Handler())
	r.listener.lifecycle.AddListener(service.OnRunning(r.register))
	r.listener.lifecycle.AddListener(service.OnLeaveRunning(r.deregister))
	r.listener.lifecycle.AddListener(func(from, to service.State, err error) {
		if to == service.StateFailed && from == service.StateRunning {
			go r.fail(err)
		}
	})
	return r
}

func (r *Router) State() service.State { return r.lifecycle.State() }

func (r *Router) Lifecycle() *service.Lifecycle { return r.lifecycle }

// Address returns the bound HTTP address. It is nil unless the router is Running.
func (r *Router) Address() net.Addr {
	if r.lifecycle.State() != service.StateRunning {
		return nil
	}
	return r.listener.boundAddr()
}

// Start brings up the client service and then the HTTP listener. If the
// listener cannot start the client service is stopped again.
func (r *Router) Start(ctx context.Context) error {
	if err := r.lifecycle.Transition(service.StateStarting); err != nil {
		return err
	}
	if err := r.client.Start(ctx); err != nil {
		_ = r.lifecycle.Fail(err)
		return err
	}
	if err := r.listener.start(ctx); err != nil {
		if stopErr := r.client.Stop(ctx); stopErr != nil {
			log.Error().Err(stopErr).Msg("router: failed to stop client service after listener failure")
		}
		_ = r.lifecycle.Fail(err)
		return err
	}
	return r.lifecycle.Transition(service.StateRunning)
}

// Stop shuts down the HTTP listener and then the client service, in the
// reverse order of Start. Both run even when the first one fails.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.lifecycle.State() {
	case service.StateStopped, service.StateTerminated, service.StateFailed:
		return nil
	}
	if err := r.lifecycle.Transition(service.StateStopping); err != nil {
		return err
	}
	err := errors.Join(r.listener.stop(ctx), r.client.Stop(ctx))
	if err != nil {
		_ = r.lifecycle.Fail(err)
		return err
	}
	return r.lifecycle.Transition(service.StateTerminated)
}

// fail handles an asynchronous listener failure.
func (r *Router) fail(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.lifecycle.State() {
	case service.StateStarting, service.StateRunning:
	default:
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.client.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("router: failed to stop client service")
	}
	_ = r.lifecycle.Fail(cause)
}

func (r *Router) register() {
	addr := r.listener.boundAddr()
	log.Info().Str("addr", addr.String()).Msg("router: data ingestion http service started")

	ctx, cancel := context.WithTimeout(context.Background(), r.registerTimeout)
	defer cancel()
	h, err := r.registry.Register(ctx, discovery.Service{Name: ServiceName, Address: addr.String()})
	if err != nil {
		metrics.DiscoveryRegistrationsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("addr", addr.String()).Msg("router: discovery registration failed")
		return
	}
	metrics.DiscoveryRegistrationsTotal.WithLabelValues("registered").Inc()
	r.handle = h
}

func (r *Router) deregister(to service.State, err error) {
	if to == service.StateFailed {
		log.Info().Err(err).Msg("router: data ingestion http service stopped with failure")
	} else {
		log.Info().Msg("router: data ingestion http service stopped")
	}
	if r.handle != nil {
		r.handle.Cancel()
		r.handle = nil
		metrics.DiscoveryRegistrationsTotal.WithLabelValues("cancelled").Inc()
	}
}

// Handler returns the ingestion HTTP handler.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tigon/{streamName}", r.ingestData)
	return mux
}
