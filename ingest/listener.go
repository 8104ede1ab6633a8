package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"tigon-control-plane/service"

	"github.com/rs/zerolog/log"
)

// httpListener serves a handler on a bound TCP address and exposes its
// lifecycle so registration can follow the Running state.
type httpListener struct {
	addr      string
	srv       *http.Server
	lifecycle *service.Lifecycle

	mu sync.Mutex
	ln net.Listener
}

func newHTTPListener(addr string, handler http.Handler) *httpListener {
	return &httpListener{
		addr: addr,
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		lifecycle: service.NewLifecycle("ingest-http"),
	}
}

func (l *httpListener) start(ctx context.Context) error {
	if err := l.lifecycle.Transition(service.StateStarting); err != nil {
		return err
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		err = fmt.Errorf("listen %s: %w", l.addr, err)
		_ = l.lifecycle.Fail(err)
		return err
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	go l.serve(ln)
	return l.lifecycle.Transition(service.StateRunning)
}

func (l *httpListener) serve(ln net.Listener) {
	err := l.srv.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	if l.lifecycle.State() == service.StateRunning {
		log.Error().Err(err).Str("addr", ln.Addr().String()).Msg("router: http listener failed")
		_ = l.lifecycle.Fail(err)
	}
}

func (l *httpListener) stop(ctx context.Context) error {
	switch l.lifecycle.State() {
	case service.StateStopped, service.StateTerminated, service.StateFailed:
		return nil
	}
	if err := l.lifecycle.Transition(service.StateStopping); err != nil {
		return err
	}
	if err := l.srv.Shutdown(ctx); err != nil {
		_ = l.srv.Close()
		_ = l.lifecycle.Fail(err)
		return fmt.Errorf("http shutdown: %w", err)
	}
	return l.lifecycle.Transition(service.StateTerminated)
}

// boundAddr returns the listening address, or nil before the listener bound.
func (l *httpListener) boundAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}
