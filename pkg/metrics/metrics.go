package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appraisalstudio_generations_total",
		Help: "Content generations recorded, by content type.",
	}, []string{"content_type"})

	GenerationsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appraisalstudio_generations_rejected_total",
		Help: "Generation attempts rejected because the usage limit was reached.",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appraisalstudio_webhook_events_total",
		Help: "Stripe webhook events dispatched, by event type.",
	}, []string{"type"})

	WebhookFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appraisalstudio_webhook_failures_total",
		Help: "Stripe webhook events that failed processing after dispatch.",
	})
)

type Server struct {
	srv *http.Server
}

// NewServer exposes /health and /metrics on its own listener, separate from
// the API port.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
