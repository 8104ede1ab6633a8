// Package discovery defines how components announce themselves in a
// service registry so other components can locate them.
package discovery

import (
	"context"
	"errors"
	"sync"
)

var ErrEmptyName = errors.New("discovery: service name is empty")

// Service is a named network endpoint.
type Service struct {
	Name    string
	Address string
}

func (s Service) Validate() error {
	if s.Name == "" {
		return ErrEmptyName
	}
	if s.Address == "" {
		return errors.New("discovery: service address is empty")
	}
	return nil
}

// Registry publishes services. The returned Handle owns the registration.
type Registry interface {
	Register(ctx context.Context, svc Service) (Handle, error)
}

// Handle removes a registration. Cancel is idempotent.
type Handle interface {
	Cancel()
}

// HandleFunc turns fn into a Handle that runs fn at most once.
func HandleFunc(fn func()) Handle {
	return &onceHandle{fn: fn}
}

type onceHandle struct {
	once sync.Once
	fn   func()
}

func (h *onceHandle) Cancel() {
	h.once.Do(h.fn)
}
