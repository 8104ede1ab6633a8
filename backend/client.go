// Package backend forwards ingested records to the TCP endpoint bound to
// each stream. Every record is written as a 4-byte big-endian length
// followed by the record bytes.
package backend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"tigon-control-plane/service"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
)

var ErrUnknownStream = errors.New("backend: unknown stream")

type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Option func(*ClientService)

func WithDialTimeout(d time.Duration) Option {
	return func(c *ClientService) { c.dialTimeout = d }
}

// WithDialAttempts bounds the attempts made per stream when the service starts.
func WithDialAttempts(n uint) Option {
	return func(c *ClientService) { c.dialAttempts = n }
}

func WithDialer(fn DialFunc) Option {
	return func(c *ClientService) { c.dial = fn }
}

// ClientService holds one connection per configured stream.
type ClientService struct {
	streams      map[string]*streamConn
	dialTimeout  time.Duration
	dialAttempts uint
	dial         DialFunc
	lifecycle    *service.Lifecycle
}

type streamConn struct {
	name string
	addr string

	mu   sync.Mutex
	conn net.Conn
}

func NewClientService(routes map[string]string, opts ...Option) *ClientService {
	d := &net.Dialer{}
	c := &ClientService{
		streams:      make(map[string]*streamConn, len(routes)),
		dialTimeout:  2 * time.Second,
		dialAttempts: 3,
		dial:         d.DialContext,
		lifecycle:    service.NewLifecycle("backend-client"),
	}
	for name, addr := range routes {
		c.streams[name] = &streamConn{name: name, addr: addr}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ClientService) State() service.State { return c.lifecycle.State() }

// Streams returns the configured stream names, sorted.
func (c *ClientService) Streams() []string {
	out := make([]string, 0, len(c.streams))
	for name := range c.streams {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start connects to every stream backend. An unreachable backend does not
// fail Start; its stream is dialed again on the next SendData.
func (c *ClientService) Start(ctx context.Context) error {
	if err := c.lifecycle.Transition(service.StateStarting); err != nil {
		return err
	}
	for _, s := range c.streams {
		err := retry.Do(
			func() error {
				s.mu.Lock()
				defer s.mu.Unlock()
				return c.connectLocked(ctx, s)
			},
			retry.Context(ctx),
			retry.Attempts(c.dialAttempts),
			retry.Delay(100*time.Millisecond),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			log.Warn().Err(err).Str("stream", s.name).Str("addr", s.addr).Msg("backend: stream endpoint unreachable; will dial on first record")
			continue
		}
		log.Info().Str("stream", s.name).Str("addr", s.addr).Msg("backend: connected")
	}
	return c.lifecycle.Transition(service.StateRunning)
}

// Stop closes every backend connection.
func (c *ClientService) Stop(ctx context.Context) error {
	if c.lifecycle.State() == service.StateStopped {
		return nil
	}
	if err := c.lifecycle.Transition(service.StateStopping); err != nil {
		return err
	}
	var errs []error
	for _, s := range c.streams {
		s.mu.Lock()
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", s.name, err))
			}
			s.conn = nil
		}
		s.mu.Unlock()
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("backend: errors while closing connections")
	}
	return c.lifecycle.Transition(service.StateTerminated)
}

// SendData forwards data to the backend of stream and reports success.
func (c *ClientService) SendData(ctx context.Context, stream string, data []byte) bool {
	if err := c.Send(ctx, stream, data); err != nil {
		log.Debug().Err(err).Str("stream", stream).Int("size", len(data)).Msg("backend: send failed")
		return false
	}
	return true
}

// Send writes one framed record. A failed write drops the connection so
// the next record redials; the failed record itself is not retried.
func (c *ClientService) Send(ctx context.Context, stream string, data []byte) error {
	if c.lifecycle.State() != service.StateRunning {
		return fmt.Errorf("backend: service is %s", c.lifecycle.State())
	}
	s, ok := c.streams[stream]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, stream)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		if err := c.connectLocked(ctx, s); err != nil {
			return err
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	} else {
		_ = s.conn.SetWriteDeadline(time.Time{})
	}
	if err := writeFrame(s.conn, data); err != nil {
		_ = s.conn.Close()
		s.conn = nil
		return fmt.Errorf("write to %s: %w", s.addr, err)
	}
	return nil
}

func (c *ClientService) connectLocked(ctx context.Context, s *streamConn) error {
	dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, err := c.dial(dctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	s.conn = conn
	return nil
}

func writeFrame(conn net.Conn, data []byte) error {
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := conn.Write(buf)
	return err
}
