package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"runtime/pprof"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-lattice/internal/layer"
	"github.com/23skdu/longbow-lattice/internal/model"
	"github.com/23skdu/longbow-lattice/internal/network"
	"github.com/23skdu/longbow-lattice/internal/train"
)

var (
	seed        = flag.Int64("seed", 1, "Seed for weight initialization and synthetic data")
	k           = flag.Int("k", 3, "Values kept per slice by k-max pooling")
	featureMaps = flag.Int("feature-maps", 2, "Number of feature maps")
	embedSz     = flag.Int("embed", 4, "Embedding width of each frame")
	minFrames   = flag.Int("min-frames", 2, "Shortest synthetic sequence")
	maxFrames   = flag.Int("max-frames", 12, "Longest synthetic sequence")
	hidden      = flag.Int("hidden", 8, "Width of the hidden dense layer")
	examples    = flag.Int("examples", 500, "Number of synthetic training examples")
	epochs      = flag.Int("epochs", 10, "Training epochs (0 to skip training)")
	lr          = flag.Float64("lr", 0.01, "Learning rate")
	momentum    = flag.Float64("momentum", 0.9, "SGD momentum")
	decay       = flag.Float64("weight-decay", 0, "L2 weight decay")
	loadPath    = flag.String("load", "", "Load a CBOR model instead of building one")
	savePath    = flag.String("save", "", "Write the trained model to this CBOR file")
	arrowPath   = flag.String("dump-arrow", "", "Write parameters as an Arrow IPC stream to this file")
	listenAddr  = flag.String("listen", "", "Serve predictions over HTTP on this address (e.g. :8080)")
	cpuProfile  = flag.String("cpuprofile", "", "Write cpu profile to file")
	enableOTel  = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	debug       = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	rng := rand.New(rand.NewSource(*seed))

	var stack *network.Stack
	if *loadPath != "" {
		var err error
		stack, err = model.Load(*loadPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *loadPath).Msg("Failed to load model")
		}
		log.Info().Str("path", *loadPath).Int("layers", len(stack.Layers())).Msg("Loaded model")
	} else {
		stack = buildStack(rng)
		log.Info().
			Int("k", *k).
			Int("feature_maps", *featureMaps).
			Int("embed", *embedSz).
			Int("hidden", *hidden).
			Msg("Built model")
	}

	if *epochs > 0 {
		fm, emb, err := inputShape(stack)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot generate training data for this model")
		}
		data := train.Synthetic(rng, *examples, fm, emb, *minFrames, *maxFrames)
		trainer := &train.Trainer{
			Stack: stack,
			Loss:  train.SquaredLoss{},
			Optimizer: train.SGD{
				LearningRate: *lr,
				Momentum:     *momentum,
				WeightDecay:  *decay,
			},
		}

		start := time.Now()
		history, err := trainer.Fit(context.Background(), data, *epochs)
		if err != nil {
			log.Fatal().Err(err).Msg("Training failed")
		}
		log.Info().
			Int("examples", len(data)).
			Int("epochs", len(history)).
			Float64("final_loss", history[len(history)-1]).
			Dur("elapsed", time.Since(start)).
			Msg("Training complete")
	}

	if *savePath != "" {
		if err := model.Save(*savePath, stack); err != nil {
			log.Fatal().Err(err).Str("path", *savePath).Msg("Failed to save model")
		}
		log.Info().Str("path", *savePath).Msg("Saved model")
	}

	if *arrowPath != "" {
		f, err := os.Create(*arrowPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create arrow file")
		}
		if err := model.WriteParams(f, stack); err != nil {
			log.Warn().Err(err).Msg("Failed to write arrow stream")
		}
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close arrow file")
		}
	}

	if *listenAddr != "" {
		startServer(*listenAddr, stack)
	}
}

// buildStack creates k-max pooling -> hidden dense -> scalar dense.
func buildStack(rng *rand.Rand) *network.Stack {
	pooled := *featureMaps * *k * *embedSz
	return network.NewStack(
		layer.NewKMax(*k, *featureMaps, *embedSz),
		layer.NewDense(*hidden, pooled, rng),
		layer.NewDense(1, *hidden, rng),
	)
}

// inputShape reads the feature map and embedding sizes the stack expects
// from its leading pooling layer.
func inputShape(s *network.Stack) (int, int, error) {
	if len(s.Layers()) == 0 || s.Layers()[0].Kind() != layer.KindKMax {
		return 0, 0, layer.ErrInvalidConfig
	}
	cfg := s.Layers()[0].Config()
	return cfg.FeatureMapSz, cfg.EmbeddingSz, nil
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("lattice"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
