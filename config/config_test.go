package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tigonKeys = []string{
	"TIGON_METRICS_PORT", "TIGON_LOG_LEVEL", "TIGON_INGEST_ADDR", "TIGON_STREAMS",
	"TIGON_INITIALIZATION_TIMEOUT", "TIGON_HEARTBEAT_FREQUENCY", "TIGON_DISCOVERY",
	"TIGON_ETCD_ENDPOINTS", "TIGON_ETCD_LEASE_TTL", "TIGON_NATS_URL", "TIGON_NATS_BUCKET",
	"TIGON_NATS_TTL", "TIGON_KUBE_NAMESPACE", "TIGON_KUBE_LEASE_SECONDS",
	"TIGON_BACKEND_DIAL_TIMEOUT", "TIGON_BACKEND_DIAL_ATTEMPTS",
	"TIGON_HEARTBEAT_SUBSCRIPTION", "TIGON_FAILURE_TOPIC",
	"GOOGLE_PROJECT_ID", "GOOGLE_APPLICATION_CREDENTIALS",
	"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT",
}

// cleanEnv unsets every key Load reads and restores them after the test.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range tigonKeys {
		if old, had := os.LookupEnv(k); had {
			t.Cleanup(func() { _ = os.Setenv(k, old) })
		}
		_ = os.Unsetenv(k)
	}
}

func Test_firstNonEmpty(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"all empty", []string{"", "", ""}, ""},
		{"first non-empty", []string{"a", "b"}, "a"},
		{"later non-empty", []string{"", "b"}, "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := firstNonEmpty(tt.in...)
			if got != tt.want {
				t.Errorf("firstNonEmpty() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func TestParseStreams(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", in: nil, want: map[string]string{}},
		{name: "single", in: []string{"clicks=10.0.0.1:9000"}, want: map[string]string{"clicks": "10.0.0.1:9000"}},
		{name: "trims and skips blanks", in: []string{" clicks = host:1 ", "", "views=host:2"}, want: map[string]string{"clicks": "host:1", "views": "host:2"}},
		{name: "ipv6 address", in: []string{"v6=[::1]:9000"}, want: map[string]string{"v6": "[::1]:9000"}},
		{name: "missing separator", in: []string{"clicks"}, wantErr: true},
		{name: "empty name", in: []string{"=host:1"}, wantErr: true},
		{name: "missing port", in: []string{"clicks=host"}, wantErr: true},
		{name: "slash in name", in: []string{"a/b=host:1"}, wantErr: true},
		{name: "duplicate", in: []string{"a=host:1", "a=host:2"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStreams(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStreams() err=%#v wantErr=%#v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseStreams() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func Test_Config_HTTPAddr(t *testing.T) {
	tests := []struct {
		name string
		port int
		want string
	}{
		{"default", 8080, "0.0.0.0:8080"},
		{"custom", 9090, "0.0.0.0:9090"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{MetricsPort: tt.port}
			if got := c.HTTPAddr(); got != tt.want {
				t.Errorf("HTTPAddr() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func Test_Config_Redacted(t *testing.T) {
	c := &Config{
		GoogleProjectID:       "pid",
		HeartbeatSubscription: "sub",
		FailureTopic:          "topic",
		IngestListenAddr:      "0.0.0.0:7000",
		Streams:               map[string]string{"a": "h:1"},
		Discovery:             DiscoveryEtcd,
		InitializationTimeout: 20 * time.Second,
		HeartbeatFrequency:    2 * time.Second,
		MetricsPort:           8081,
		LogLevel:              "debug",
		CredentialsFile:       "creds.json",
	}
	got := c.Redacted()
	want := map[string]any{
		"projectID":             "pid",
		"heartbeatSubscription": "sub",
		"failureTopic":          "topic",
		"ingestAddr":            "0.0.0.0:7000",
		"streams":               1,
		"discovery":             "etcd",
		"initializationTimeout": "20s",
		"heartbeatFrequency":    "2s",
		"metricsPort":           8081,
		"logLevel":              "debug",
		"credentialsProvided":   true,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Redacted()\n got=%#v\nwant=%#v", got, want)
	}
}

func Test_projectIDFromCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	if err := os.WriteFile(path, []byte(`{"project_id":"my-proj"}`), 0o600); err != nil {
		t.Fatalf("write temp creds: %#v", err)
	}
	pid, err := projectIDFromCredentials(path)
	if err != nil || pid != "my-proj" {
		t.Errorf("projectIDFromCredentials() pid=%#v err=%#v", pid, err)
	}

	// no project_id returns empty id, no error
	if err := os.WriteFile(path, []byte(`{"nope":1}`), 0o600); err != nil {
		t.Fatalf("write temp creds: %#v", err)
	}
	pid2, err2 := projectIDFromCredentials(path)
	if err2 != nil || pid2 != "" {
		t.Errorf("projectIDFromCredentials(invalid) pid=%#v err=%#v", pid2, err2)
	}

	if _, err := projectIDFromCredentials(filepath.Join(dir, "absent.json")); err == nil {
		t.Errorf("projectIDFromCredentials(absent) expected error")
	}
}

func Test_getGoogleProjectID(t *testing.T) {
	dir := t.TempDir()
	credFile := filepath.Join(dir, "creds.json")
	_ = os.WriteFile(credFile, []byte(`{"project_id":"file-proj"}`), 0o600)

	tests := []struct {
		name     string
		setEnv   map[string]string
		creds    string
		explicit string
		want     string
	}{
		{"from credentials file", nil, credFile, "explicit-proj", "file-proj"},
		{"from explicit GOOGLE_PROJECT_ID", nil, "", "explicit-proj", "explicit-proj"},
		{"unreadable creds falls through", nil, filepath.Join(dir, "absent.json"), "explicit-proj", "explicit-proj"},
		{"from common env", map[string]string{"GOOGLE_CLOUD_PROJECT": "common-proj"}, "", "", "common-proj"},
		{"none -> empty", nil, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanEnv(t)
			for k, v := range tt.setEnv {
				t.Setenv(k, v)
			}
			got := getGoogleProjectID(tt.creds, tt.explicit)
			if got != tt.want {
				t.Errorf("getGoogleProjectID() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func Test_Load_Defaults(t *testing.T) {
	cleanEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.MetricsPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:0", cfg.IngestAddr())
	assert.Empty(t, cfg.Streams)
	assert.Equal(t, 20*time.Second, cfg.InitializationTimeout)
	assert.Equal(t, 2*time.Second, cfg.HeartbeatFrequency)
	assert.Equal(t, DiscoveryMemory, cfg.Discovery)
	assert.Equal(t, "tigon-discovery", cfg.NATSBucket)
	assert.Equal(t, "default", cfg.KubeNamespace)
	assert.Equal(t, int32(15), cfg.KubeLeaseSecs)
	assert.Equal(t, uint(3), cfg.BackendDialAttempts)
}

func Test_Load(t *testing.T) {
	cleanEnv(t)
	t.Setenv("TIGON_METRICS_PORT", "7777")
	t.Setenv("TIGON_LOG_LEVEL", "warn")
	t.Setenv("TIGON_INGEST_ADDR", "0.0.0.0:7000")
	t.Setenv("TIGON_STREAMS", "clicks=10.0.0.1:9000,views=10.0.0.2:9000")
	t.Setenv("TIGON_INITIALIZATION_TIMEOUT", "30s")
	t.Setenv("TIGON_HEARTBEAT_FREQUENCY", "5s")
	t.Setenv("TIGON_DISCOVERY", "etcd")
	t.Setenv("TIGON_ETCD_ENDPOINTS", "etcd-0:2379,etcd-1:2379")
	t.Setenv("TIGON_HEARTBEAT_SUBSCRIPTION", "sub")
	t.Setenv("GOOGLE_PROJECT_ID", "proj")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.MetricsPort)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0:7000", cfg.IngestAddr())
	assert.Equal(t, map[string]string{"clicks": "10.0.0.1:9000", "views": "10.0.0.2:9000"}, cfg.Streams)
	assert.Equal(t, 30*time.Second, cfg.InitializationTimeout)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatFrequency)
	assert.Equal(t, []string{"etcd-0:2379", "etcd-1:2379"}, cfg.EtcdEndpoints)
	assert.Equal(t, "sub", cfg.HeartbeatSubscription)
	assert.Equal(t, "proj", cfg.GoogleProjectID)
}

func Test_Load_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad stream entry", map[string]string{"TIGON_STREAMS": "clicks"}},
		{"unknown discovery", map[string]string{"TIGON_DISCOVERY": "zookeeper"}},
		{"etcd without endpoints", map[string]string{"TIGON_DISCOVERY": "etcd"}},
		{"nats without url", map[string]string{"TIGON_DISCOVERY": "nats"}},
		{"zero heartbeat", map[string]string{"TIGON_HEARTBEAT_FREQUENCY": "0s"}},
		{"bad duration", map[string]string{"TIGON_INITIALIZATION_TIMEOUT": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func Test_isLoopbackAddr(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want bool
	}{
		{"ipv4 loopback", "127.0.0.1:0", true},
		{"ipv6 loopback", "[::1]:7000", true},
		{"localhost", "localhost:7000", true},
		{"all interfaces", "0.0.0.0:0", false},
		{"empty host", ":7000", false},
		{"routable", "10.0.0.5:7000", false},
		{"no port", "127.0.0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isLoopbackAddr(tt.addr); got != tt.want {
				t.Errorf("isLoopbackAddr(%q) got=%#v want=%#v", tt.addr, got, tt.want)
			}
		})
	}
}
