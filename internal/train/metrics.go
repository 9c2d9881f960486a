package train

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	examplesTrained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_train_examples_total",
		Help: "Total number of examples passed through forward and backward",
	})

	epochLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lattice_train_epoch_loss",
		Help: "Average loss of the last completed epoch",
	})
)
