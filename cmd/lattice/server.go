package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-lattice/internal/tensor"
)

var (
	predictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_predictions_total",
		Help: "The total number of predictions served",
	})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lattice_request_duration_seconds",
		Help:    "Time spent processing predict requests",
		Buckets: prometheus.DefBuckets,
	})
)

// Predictor runs a forward pass. *network.Stack satisfies it.
type Predictor interface {
	Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error)
}

type Server struct {
	model Predictor
	// Layers cache per-call state, so one request runs at a time
	sem *semaphore.Weighted
}

func NewServer(model Predictor) *Server {
	return &Server{
		model: model,
		sem:   semaphore.NewWeighted(1),
	}
}

func startServer(addr string, model Predictor) {
	srv := NewServer(model)

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/predict", srv.handlePredict)
	http.HandleFunc("/health", srv.handleHealth)

	log.Info().Str("addr", addr).Msg("Starting Lattice Server")
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("lattice-server")

// handlePredict decodes a CBOR array of float64 inputs and replies with the
// CBOR-encoded output vector.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handlePredict")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var input []float64
	if err := cbor.NewDecoder(r.Body).Decode(&input); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	if len(input) == 0 {
		http.Error(w, "Bad Request: empty input", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("input_length", len(input)))

	if err := s.sem.Acquire(ctx, 1); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	out, err := s.model.Forward(ctx, tensor.Vec(input...))
	s.sem.Release(1)
	if err != nil {
		span.RecordError(err)
		log.Warn().Err(err).Int("input_length", len(input)).Msg("Prediction failed")
		http.Error(w, fmt.Sprintf("Unprocessable input: %v", err), http.StatusUnprocessableEntity)
		return
	}
	predictions.Inc()

	body, err := cbor.Marshal(out.Data())
	if err != nil {
		span.RecordError(err)
		http.Error(w, "Encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
