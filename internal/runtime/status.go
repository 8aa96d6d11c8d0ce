package runtime

import (
	"context"
	"net/http"
	"sort"

	"github.com/drblury/asyncflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/asyncflow/internal/runtime/logging"
	"github.com/drblury/asyncflow/queue"
)

// QueueStatus reports one queue. Pending is only set when the driver can
// count queued messages.
type QueueStatus struct {
	Name    string `json:"name"`
	Pending *int   `json:"pending,omitempty"`
}

// Status is the document served on /api/status.
type Status struct {
	Transport    string        `json:"transport"`
	Durable      bool          `json:"durable"`
	MessageTypes []string      `json:"message_types"`
	Queues       []QueueStatus `json:"queues"`
}

// Status describes the service and the depth of its default queues.
func (s *Service) Status(ctx context.Context) Status {
	types := s.registry.Names()
	sort.Strings(types)

	defaultQueue := s.async.Config().QueueName
	names := []string{defaultQueue, s.FailedQueue(defaultQueue)}

	counter, canCount := s.driver.(queue.Counter)
	queues := make([]QueueStatus, 0, len(names))
	for _, name := range names {
		qs := QueueStatus{Name: name}
		if canCount {
			if n, err := counter.Count(ctx, name); err == nil {
				qs.Pending = &n
			}
		}
		queues = append(queues, qs)
	}

	return Status{
		Transport:    s.capabilities.Name,
		Durable:      s.capabilities.Durable,
		MessageTypes: types,
		Queues:       queues,
	}
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := jsoncodec.Marshal(s.Status(r.Context()))
	if err != nil {
		s.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		s.Logger.Debug("Failed to write status response", loggingpkg.LogFields{"error": err.Error()})
	}
}
