package runtime

import (
	"net/http"
	"strings"

	"github.com/drblury/commentflow/internal/runtime/jsoncodec"
	metricspkg "github.com/drblury/commentflow/internal/runtime/metrics"
	"github.com/drblury/commentflow/transport"
)

// PipelineStatus is served on the metrics port at /api/pipeline.
type PipelineStatus struct {
	Queue           string                 `json:"queue"`
	DeadLetterQueue string                 `json:"dead_letter_queue"`
	Broadcast       transport.Capabilities `json:"broadcast"`
	Metrics         metricspkg.Snapshot    `json:"metrics"`
}

// Status reports the queue names, the broadcast backend and the in-process counters.
func (s *Service) Status() PipelineStatus {
	return PipelineStatus{
		Queue:           s.Conf.Broker.QueueName,
		DeadLetterQueue: s.Conf.Broker.DeadLetterQueue,
		Broadcast:       s.deps.Transports.Capabilities(s.Conf.Broadcast.Transport),
		Metrics:         s.Metrics.Snapshot(),
	}
}

func (s *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if origin := s.allowedCORSOrigin(r.Header.Get("Origin")); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := jsoncodec.Marshal(s.Status())
	if err != nil {
		s.Logger.Error("Failed to encode pipeline status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for the
// request origin, or "" when the origin is not in http.cors_allowed_origins.
func (s *Service) allowedCORSOrigin(requestOrigin string) string {
	if requestOrigin == "" {
		return ""
	}
	for _, allowed := range s.Conf.HTTP.CORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
