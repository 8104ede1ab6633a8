package ingest

import (
	"io"
	"net/http"
	"time"

	"tigon-control-plane/metrics"

	"github.com/rs/zerolog/log"
)

// unknownStreamLabel keeps arbitrary path segments out of metric labels.
const unknownStreamLabel = "_unknown"

// ingestData forwards the request body to the backend of the stream named
// in the path. Unknown streams answer 500 like any other forwarding failure.
func (r *Router) ingestData(w http.ResponseWriter, req *http.Request) {
	stream := req.PathValue("streamName")
	_, known := r.routes[stream]
	label := stream
	if !known {
		label = unknownStreamLabel
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		log.Warn().Err(err).Str("stream", stream).Msg("router: failed to read request body")
		metrics.IngestRequestsTotal.WithLabelValues(label, "failed").Inc()
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	start := time.Now()
	ok := r.client.SendData(req.Context(), stream, body)
	metrics.ForwardDuration.Observe(time.Since(start).Seconds())

	switch {
	case ok:
		metrics.IngestRequestsTotal.WithLabelValues(label, "ok").Inc()
		w.WriteHeader(http.StatusOK)
	case !known:
		log.Warn().Str("stream", stream).Msg("router: record posted to unknown stream")
		metrics.IngestRequestsTotal.WithLabelValues(label, "unknown_stream").Inc()
		w.WriteHeader(http.StatusInternalServerError)
	default:
		log.Debug().Str("stream", stream).Int("size", len(body)).Msg("router: forwarding failed")
		metrics.IngestRequestsTotal.WithLabelValues(label, "failed").Inc()
		w.WriteHeader(http.StatusInternalServerError)
	}
}
