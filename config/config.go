package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vrischmann/envconfig"
)

const (
	DiscoveryMemory = "memory"
	DiscoveryEtcd   = "etcd"
	DiscoveryNATS   = "nats"
	DiscoveryKube   = "kube"
)

// env mirrors the environment; Load copies it into Config.
type env struct {
	MetricsPort int    `envconfig:"TIGON_METRICS_PORT,default=8080"`
	LogLevel    string `envconfig:"TIGON_LOG_LEVEL,default=info"`

	IngestAddr string   `envconfig:"TIGON_INGEST_ADDR,default=127.0.0.1:0"`
	Streams    []string `envconfig:"TIGON_STREAMS,optional"`

	InitializationTimeout time.Duration `envconfig:"TIGON_INITIALIZATION_TIMEOUT,default=20s"`
	HeartbeatFrequency    time.Duration `envconfig:"TIGON_HEARTBEAT_FREQUENCY,default=2s"`

	Discovery     string        `envconfig:"TIGON_DISCOVERY,default=memory"`
	EtcdEndpoints []string      `envconfig:"TIGON_ETCD_ENDPOINTS,optional"`
	EtcdLeaseTTL  time.Duration `envconfig:"TIGON_ETCD_LEASE_TTL,default=10s"`
	NATSURL       string        `envconfig:"TIGON_NATS_URL,optional"`
	NATSBucket    string        `envconfig:"TIGON_NATS_BUCKET,default=tigon-discovery"`
	NATSTTL       time.Duration `envconfig:"TIGON_NATS_TTL,default=15s"`
	KubeNamespace string        `envconfig:"TIGON_KUBE_NAMESPACE,default=default"`
	KubeLeaseSecs int32         `envconfig:"TIGON_KUBE_LEASE_SECONDS,default=15"`

	BackendDialTimeout  time.Duration `envconfig:"TIGON_BACKEND_DIAL_TIMEOUT,default=2s"`
	BackendDialAttempts uint          `envconfig:"TIGON_BACKEND_DIAL_ATTEMPTS,default=3"`

	HeartbeatSubscription string `envconfig:"TIGON_HEARTBEAT_SUBSCRIPTION,optional"`
	FailureTopic          string `envconfig:"TIGON_FAILURE_TOPIC,optional"`
	ProjectID             string `envconfig:"GOOGLE_PROJECT_ID,optional"`
	CredentialsFile       string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS,optional"`
}

type Config struct {
	MetricsPort int
	LogLevel    string

	IngestListenAddr string
	Streams          map[string]string

	InitializationTimeout time.Duration
	HeartbeatFrequency    time.Duration

	Discovery     string
	EtcdEndpoints []string
	EtcdLeaseTTL  time.Duration
	NATSURL       string
	NATSBucket    string
	NATSTTL       time.Duration
	KubeNamespace string
	KubeLeaseSecs int32

	BackendDialTimeout  time.Duration
	BackendDialAttempts uint

	HeartbeatSubscription string
	FailureTopic          string
	GoogleProjectID       string
	CredentialsFile       string
}

// Load reads the environment. Missing Pub/Sub settings only disable the
// heartbeat intake and failure publishing, so they are warnings.
func Load() (*Config, error) {
	var e env
	if err := envconfig.Init(&e); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	streams, err := ParseStreams(e.Streams)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		MetricsPort:           e.MetricsPort,
		LogLevel:              strings.TrimSpace(e.LogLevel),
		IngestListenAddr:      strings.TrimSpace(e.IngestAddr),
		Streams:               streams,
		InitializationTimeout: e.InitializationTimeout,
		HeartbeatFrequency:    e.HeartbeatFrequency,
		Discovery:             strings.TrimSpace(e.Discovery),
		EtcdEndpoints:         e.EtcdEndpoints,
		EtcdLeaseTTL:          e.EtcdLeaseTTL,
		NATSURL:               strings.TrimSpace(e.NATSURL),
		NATSBucket:            e.NATSBucket,
		NATSTTL:               e.NATSTTL,
		KubeNamespace:         e.KubeNamespace,
		KubeLeaseSecs:         e.KubeLeaseSecs,
		BackendDialTimeout:    e.BackendDialTimeout,
		BackendDialAttempts:   e.BackendDialAttempts,
		HeartbeatSubscription: strings.TrimSpace(e.HeartbeatSubscription),
		FailureTopic:          strings.TrimSpace(e.FailureTopic),
		CredentialsFile:       strings.TrimSpace(e.CredentialsFile),
	}

	switch cfg.Discovery {
	case DiscoveryMemory, DiscoveryKube:
	case DiscoveryEtcd:
		if len(cfg.EtcdEndpoints) == 0 {
			return nil, fmt.Errorf("TIGON_ETCD_ENDPOINTS is required for %s discovery", cfg.Discovery)
		}
	case DiscoveryNATS:
		if cfg.NATSURL == "" {
			return nil, fmt.Errorf("TIGON_NATS_URL is required for %s discovery", cfg.Discovery)
		}
	default:
		return nil, fmt.Errorf("unknown discovery backend %q", cfg.Discovery)
	}
	if cfg.Discovery != DiscoveryMemory && isLoopbackAddr(cfg.IngestListenAddr) {
		log.Warn().Str("ingestAddr", cfg.IngestListenAddr).Str("discovery", cfg.Discovery).
			Msg("ingest address is loopback; other hosts cannot reach the registered address, set TIGON_INGEST_ADDR")
	}
	if cfg.InitializationTimeout <= 0 || cfg.HeartbeatFrequency <= 0 {
		return nil, errors.New("initialization timeout and heartbeat frequency must be positive")
	}

	cfg.GoogleProjectID = getGoogleProjectID(cfg.CredentialsFile, e.ProjectID)
	if cfg.GoogleProjectID == "" && (cfg.HeartbeatSubscription != "" || cfg.FailureTopic != "") {
		log.Warn().Msg("Google project ID not resolved; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID")
	}
	if cfg.HeartbeatSubscription == "" {
		log.Warn().Msg("heartbeat subscription not set; set TIGON_HEARTBEAT_SUBSCRIPTION to feed the liveness monitor")
	}
	return cfg, nil
}

// ParseStreams turns name=host:port entries into a route map.
func ParseStreams(entries []string) (map[string]string, error) {
	routes := make(map[string]string, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		name, addr, ok := strings.Cut(e, "=")
		name, addr = strings.TrimSpace(name), strings.TrimSpace(addr)
		if !ok || name == "" || addr == "" {
			return nil, fmt.Errorf("invalid stream entry %q: want name=host:port", e)
		}
		if strings.Contains(name, "/") {
			return nil, fmt.Errorf("invalid stream name %q: must not contain '/'", name)
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("invalid address for stream %q: %w", name, err)
		}
		if _, dup := routes[name]; dup {
			return nil, fmt.Errorf("duplicate stream %q", name)
		}
		routes[name] = addr
	}
	return routes, nil
}

// isLoopbackAddr reports whether addr binds only to a loopback host.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.MetricsPort))
}

func (c *Config) IngestAddr() string {
	return c.IngestListenAddr
}

// Redacted returns a view safe for logging
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"projectID":             c.GoogleProjectID,
		"heartbeatSubscription": c.HeartbeatSubscription,
		"failureTopic":          c.FailureTopic,
		"ingestAddr":            c.IngestListenAddr,
		"streams":               len(c.Streams),
		"discovery":             c.Discovery,
		"initializationTimeout": c.InitializationTimeout.String(),
		"heartbeatFrequency":    c.HeartbeatFrequency.String(),
		"metricsPort":           c.MetricsPort,
		"logLevel":              c.LogLevel,
		"credentialsProvided":   c.CredentialsFile != "",
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func projectIDFromCredentials(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	var x struct {
		ProjectID string `json:"project_id"`
	}
	// Unparseable files fall through to the other sources.
	_ = json.Unmarshal(b, &x)
	return x.ProjectID, nil
}

func getGoogleProjectID(credsFile string, explicit string) string {
	// 1) Credentials file
	if p := strings.TrimSpace(credsFile); p != "" {
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			log.Info().Str("credsFile", p).Msg("using project_id from credentials file")
			return strings.TrimSpace(pid)
		}
		log.Warn().Str("credsFile", p).Msg("project_id not found in credentials file or unreadable")
	}

	// 2) Explicit GOOGLE_PROJECT_ID
	if explicit := strings.TrimSpace(explicit); explicit != "" {
		log.Info().Str("projectID", explicit).Msg("using GOOGLE_PROJECT_ID for Google project")
		return explicit
	}

	// 3) Common Google envs
	if v := firstNonEmpty(os.Getenv("GOOGLE_CLOUD_PROJECT"), os.Getenv("GCLOUD_PROJECT"), os.Getenv("GCP_PROJECT")); strings.TrimSpace(v) != "" {
		v = strings.TrimSpace(v)
		log.Info().Str("projectID", v).Msg("using Google project from common environment variables")
		return v
	}
	return ""
}
