package kube

import (
	"context"
	"strings"
	"testing"
	"time"

	"tigon-control-plane/discovery"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func Test_leaseName(t *testing.T) {
	tests := []struct {
		name string
		svc  discovery.Service
		want string
	}{
		{name: "ipv4", svc: discovery.Service{Name: "tigon-data-ingestion", Address: "10.0.0.1:8000"}, want: "tigon-data-ingestion-10-0-0-1-8000"},
		{name: "ipv6", svc: discovery.Service{Name: "svc", Address: "[::1]:9000"}, want: "svc----1--9000"},
		{name: "upper case", svc: discovery.Service{Name: "Svc", Address: "Host:1"}, want: "svc-host-1"},
		{name: "cut at 253 never ends in a dash", svc: discovery.Service{Name: strings.Repeat("a", 252), Address: "h:1"}, want: strings.Repeat("a", 252)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := leaseName(tt.svc); got != tt.want {
				t.Errorf("leaseName() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func TestRegistry_RegisterCancel(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset()
	r := NewRegistry(client, "tigon", 30)

	svc := discovery.Service{Name: "tigon-data-ingestion", Address: "127.0.0.1:7000"}
	h, err := r.Register(ctx, svc)
	require.NoError(t, err)

	lease, err := client.CoordinationV1().Leases("tigon").Get(ctx, leaseName(svc), metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, svc.Address, *lease.Spec.HolderIdentity)
	assert.Equal(t, int32(30), *lease.Spec.LeaseDurationSeconds)

	addrs, err := r.Lookup(ctx, svc.Name)
	require.NoError(t, err)
	assert.Equal(t, []string{svc.Address}, addrs)

	h.Cancel()
	h.Cancel()

	addrs, err = r.Lookup(ctx, svc.Name)
	require.NoError(t, err)
	assert.Empty(t, addrs)
}

func TestRegistry_ReRegisterExistingLease(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset()
	r := NewRegistry(client, "", 0)
	svc := discovery.Service{Name: "svc", Address: "127.0.0.1:7000"}

	h1, err := r.Register(ctx, svc)
	require.NoError(t, err)
	defer h1.Cancel()

	h2, err := r.Register(ctx, svc)
	require.NoError(t, err)
	defer h2.Cancel()

	addrs, err := r.Lookup(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, []string{svc.Address}, addrs)
}

func TestRegistry_LookupSkipsExpired(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset()
	r := NewRegistry(client, "tigon", 10)
	svc := discovery.Service{Name: "svc", Address: "127.0.0.1:7000"}

	h, err := r.Register(ctx, svc)
	require.NoError(t, err)
	defer h.Cancel()

	r.now = func() time.Time { return time.Now().Add(time.Minute) }
	addrs, err := r.Lookup(ctx, "svc")
	require.NoError(t, err)
	assert.Empty(t, addrs)
}
