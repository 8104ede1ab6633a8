// Package natskv registers services in a NATS JetStream key-value bucket.
// Entries expire with the bucket TTL unless refreshed, so the owning
// process keeps rewriting its entry until the handle is cancelled.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tigon-control-plane/discovery"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const DefaultBucket = "tigon-discovery"

type Registry struct {
	kv  jetstream.KeyValue
	ttl time.Duration
}

// New creates (or updates) bucket on the JetStream server behind nc.
func New(ctx context.Context, nc *nats.Conn, bucket string, ttl time.Duration) (*Registry, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "tigon service discovery",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kv bucket %s: %w", bucket, err)
	}
	return &Registry{kv: kv, ttl: ttl}, nil
}

// entryKey maps a service to a valid KV key; ':' and brackets are not allowed in keys.
func entryKey(svc discovery.Service) string {
	addr := strings.NewReplacer(":", "_", "[", "", "]", "").Replace(svc.Address)
	return svc.Name + "." + addr
}

func (r *Registry) Register(ctx context.Context, svc discovery.Service) (discovery.Handle, error) {
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	key := entryKey(svc)
	if _, err := r.kv.Put(ctx, key, []byte(svc.Address)); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", key, err)
	}
	log.Debug().Str("key", key).Msg("natskv: service registered")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	if r.ttl > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.refresh(key, svc.Address, stop)
		}()
	}

	return discovery.HandleFunc(func() {
		close(stop)
		wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.kv.Delete(ctx, key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("natskv: failed to delete service entry")
		}
	}), nil
}

func (r *Registry) refresh(key, addr string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			if _, err := r.kv.Put(ctx, key, []byte(addr)); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("natskv: failed to refresh service entry")
			}
			cancel()
		}
	}
}

// Lookup returns the addresses currently registered under name.
func (r *Registry) Lookup(ctx context.Context, name string) ([]string, error) {
	keys, err := r.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	var out []string
	for _, k := range keys {
		if !strings.HasPrefix(k, name+".") {
			continue
		}
		entry, err := r.kv.Get(ctx, k)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", k, err)
		}
		out = append(out, string(entry.Value()))
	}
	return out, nil
}
