package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"tigon-control-plane/service"

	"github.com/rs/zerolog/log"
)

// Component is anything whose lifecycle state gates readiness.
type Component interface {
	State() service.State
}

// Check names a component for /readyz output.
type Check struct {
	Name      string
	Component Component
}

// Register mounts /healthz and /readyz. /readyz answers 503 until every
// check is Running.
func Register(mux *http.ServeMux, checks ...Check) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		var notReady []string
		for _, c := range checks {
			if s := c.Component.State(); s != service.StateRunning {
				notReady = append(notReady, fmt.Sprintf("%s=%s", c.Name, s))
			}
		}
		if len(notReady) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready: " + strings.Join(notReady, ",")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
}

// RegisterDebug serves the JSON encoding of fn's result on path.
func RegisterDebug(mux *http.ServeMux, path string, fn func() any) {
	mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(fn()); err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to encode debug snapshot")
		}
	})
}
