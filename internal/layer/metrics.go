package layer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	passForward  = "forward"
	passBackward = "backward"
)

var (
	// LayerDuration tracks time spent in each layer pass
	LayerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lattice_layer_duration_seconds",
		Help:    "Time spent in forward and backward layer passes",
		Buckets: []float64{0.000001, 0.00001, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.1},
	}, []string{"layer_type", "pass"})

	underfilledSlices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_kmax_underfilled_slices_total",
		Help: "Total number of k-max pooling slices with fewer than k frames",
	})
)

func observe(kind Kind, pass string, start time.Time) {
	LayerDuration.WithLabelValues(string(kind), pass).Observe(time.Since(start).Seconds())
}
