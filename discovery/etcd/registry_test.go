package etcd

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"tigon-control-plane/discovery"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func Test_serviceKey(t *testing.T) {
	tests := []struct {
		name string
		svc  discovery.Service
		want string
	}{
		{name: "ipv4", svc: discovery.Service{Name: "tigon-data-ingestion", Address: "10.0.0.1:8000"}, want: "/tigon/discovery/tigon-data-ingestion/10.0.0.1:8000"},
		{name: "ipv6", svc: discovery.Service{Name: "svc", Address: "[::1]:9000"}, want: "/tigon/discovery/svc/[::1]:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := serviceKey(tt.svc); got != tt.want {
				t.Errorf("serviceKey() got=%#v want=%#v", got, tt.want)
			}
			assert.True(t, strings.HasPrefix(serviceKey(tt.svc), ServicePrefix(tt.svc.Name)))
		})
	}
}

// Runs against a live etcd when TIGON_TEST_ETCD_ENDPOINTS is set.
func TestRegistry_RegisterCancel(t *testing.T) {
	endpoints := os.Getenv("TIGON_TEST_ETCD_ENDPOINTS")
	if testing.Short() || endpoints == "" {
		t.Skip("etcd not available")
	}
	ctx := context.Background()
	r, err := New(strings.Split(endpoints, ","), 5*time.Second)
	require.NoError(t, err)
	defer r.Close()

	svc := discovery.Service{Name: "tigon-test-" + time.Now().Format("150405.000"), Address: "127.0.0.1:7000"}
	h, err := r.Register(ctx, svc)
	require.NoError(t, err)

	addrs, err := r.Lookup(ctx, svc.Name)
	require.NoError(t, err)
	assert.Equal(t, []string{svc.Address}, addrs)

	h.Cancel()
	h.Cancel()
	addrs, err = r.Lookup(ctx, svc.Name)
	require.NoError(t, err)
	assert.Empty(t, addrs)
}

// The client dials lazily, so an unreachable endpoint only surfaces when
// the lease is granted; that grant must stop with the caller's context.
func TestRegistry_RegisterHonoursContext(t *testing.T) {
	clnt, err := clientv3.New(clientv3.Config{Endpoints: []string{"127.0.0.1:1"}})
	require.NoError(t, err)
	r := NewFromClient(clnt, 5*time.Second)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		h, err := r.Register(ctx, discovery.Service{Name: "tigon-data-ingestion", Address: "10.0.0.1:7000"})
		if h != nil {
			h.Cancel()
		}
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Register ignored the context deadline")
	}
}
