// Package etcd registers services as lease-bound keys in etcd. A key
// disappears when its Handle is cancelled or when the process dies and
// the lease expires.
package etcd

import (
	"context"
	"fmt"
	"path"
	"time"

	"tigon-control-plane/discovery"

	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const keyPrefix = "/tigon/discovery"

func serviceKey(svc discovery.Service) string {
	return path.Join(keyPrefix, svc.Name, svc.Address)
}

// ServicePrefix returns the key prefix under which all addresses of name live.
func ServicePrefix(name string) string {
	return path.Join(keyPrefix, name) + "/"
}

type Registry struct {
	etcd *clientv3.Client
	ttl  time.Duration
}

func New(endpoints []string, ttl time.Duration) (*Registry, error) {
	clnt, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return NewFromClient(clnt, ttl), nil
}

func NewFromClient(clnt *clientv3.Client, ttl time.Duration) *Registry {
	if ttl < time.Second {
		ttl = time.Second
	}
	return &Registry{etcd: clnt, ttl: ttl}
}

// Register writes the service key attached to a fresh session lease which
// is kept alive until the handle is cancelled.
func (r *Registry) Register(ctx context.Context, svc discovery.Service) (discovery.Handle, error) {
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	// The grant honours ctx; the session keeps the lease alive afterwards
	// independently of it.
	lease, err := r.etcd.Grant(ctx, int64(r.ttl.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("granting lease: %w", err)
	}
	session, err := concurrency.NewSession(r.etcd, concurrency.WithLease(lease.ID))
	if err != nil {
		revokeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _ = r.etcd.Revoke(revokeCtx, lease.ID)
		cancel()
		return nil, fmt.Errorf("creating session: %w", err)
	}
	key := serviceKey(svc)
	if _, err := r.etcd.KV.Put(ctx, key, svc.Address, clientv3.WithLease(session.Lease())); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to register %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int64("lease", int64(session.Lease())).Msg("etcd: service registered")

	return discovery.HandleFunc(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := r.etcd.KV.Delete(ctx, key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("etcd: failed to delete service key")
		}
		// Closing the session revokes the lease, which removes the key even if the delete failed.
		if err := session.Close(); err != nil {
			log.Error().Err(err).Str("key", key).Msg("error during closing etcd session")
		}
	}), nil
}

// Lookup returns the addresses currently registered under name.
func (r *Registry) Lookup(ctx context.Context, name string) ([]string, error) {
	resp, err := r.etcd.KV.Get(ctx, ServicePrefix(name), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", name, err)
	}
	out := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, string(kv.Value))
	}
	return out, nil
}

func (r *Registry) Close() error {
	return r.etcd.Close()
}
