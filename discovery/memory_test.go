package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_RegisterAndCancel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	h1, err := m.Register(ctx, Service{Name: "svc", Address: "127.0.0.1:1000"})
	require.NoError(t, err)
	h2, err := m.Register(ctx, Service{Name: "svc", Address: "127.0.0.1:2000"})
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:1000", "127.0.0.1:2000"}, m.Lookup("svc"))

	h1.Cancel()
	h1.Cancel()
	assert.Equal(t, []string{"127.0.0.1:2000"}, m.Lookup("svc"))

	h2.Cancel()
	assert.Empty(t, m.Lookup("svc"))
}

func TestMemory_SameAddressTwice(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	svc := Service{Name: "svc", Address: "127.0.0.1:1000"}

	h1, err := m.Register(ctx, svc)
	require.NoError(t, err)
	h2, err := m.Register(ctx, svc)
	require.NoError(t, err)

	h1.Cancel()
	assert.Equal(t, []string{svc.Address}, m.Lookup("svc"))
	h2.Cancel()
	assert.Empty(t, m.Lookup("svc"))
}

func TestService_Validate(t *testing.T) {
	tests := []struct {
		name    string
		svc     Service
		wantErr bool
	}{
		{name: "valid", svc: Service{Name: "a", Address: "127.0.0.1:1"}},
		{name: "empty name", svc: Service{Address: "127.0.0.1:1"}, wantErr: true},
		{name: "empty address", svc: Service{Name: "a"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.svc.Validate()
			gotErr := (err != nil)
			if gotErr != tt.wantErr {
				t.Errorf("Validate() error mismatch\ngotErr: %#v\nwantErr: %#v\nerr: %#v", gotErr, tt.wantErr, err)
			}
		})
	}
}

func TestHandleFunc_RunsOnce(t *testing.T) {
	calls := 0
	h := HandleFunc(func() { calls++ })
	h.Cancel()
	h.Cancel()
	assert.Equal(t, 1, calls)
}
