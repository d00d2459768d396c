package main

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pulsarpub/internal/couchbase"
	"pulsarpub/internal/pub"
	"pulsarpub/internal/pub/config"
	"pulsarpub/internal/pub/loopback"
	"pulsarpub/internal/pub/metrics"
	"pulsarpub/internal/pub/producer"
	"pulsarpub/internal/pub/receipts"
	"pulsarpub/internal/pub/tracing"
)

type Config struct {
	ConfigFile      string `env:"PULSAR_CONFIG_FILE"`
	EventCount      int    `env:"EVENT_COUNT" envDefault:"100"`
	ReceiptsEnabled bool   `env:"RECEIPTS_ENABLED" envDefault:"false"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile         string `env:"LOG_FILE"`
	LogMaxSizeMB    int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogMaxAgeDays   int    `env:"LOG_MAX_AGE_DAYS" envDefault:"7"`

	Metrics   metrics.ServerConfig
	Tracing   tracing.Config
	Couchbase couchbase.Config
}

func main() {
	_, _ = maxprocs.Set(maxprocs.Logger(log.Printf))

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	opts, err := config.Load(cfg.ConfigFile)
	if err != nil {
		log.Fatalf("failed to load producer options: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.SetSystemInfo("e2e-test", time.Now().Format(time.RFC3339))
	metricsServer := metrics.NewServer(cfg.Metrics, metricsRegistry, logger)

	tracer, tracingCleanup, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	logger.Info("tracing initialized",
		zap.Bool("enabled", cfg.Tracing.Enabled),
		zap.String("service", cfg.Tracing.ServiceName),
		zap.String("endpoint", cfg.Tracing.Endpoint),
	)

	broker, err := loopback.NewBroker(logger)
	if err != nil {
		log.Fatalf("failed to create loopback broker: %v", err)
	}
	partitions := make([]pub.PartitionProducer, opts.Partitions)
	for i := range partitions {
		partitions[i] = broker.NewPartitionProducer(uint64(i), opts.Topic)
	}

	baseProducer, err := producer.NewProducer(partitions, broker.Connection(), opts, logger)
	if err != nil {
		log.Fatalf("failed to create producer: %v", err)
	}

	var p pub.Producer = baseProducer
	if cfg.ReceiptsEnabled {
		store, closeStore, err := newReceiptStore(cfg.Couchbase, metricsRegistry, tracer)
		if err != nil {
			log.Fatalf("failed to create receipt store: %v", err)
		}
		defer closeStore()
		p = producer.NewReceiptProducer(p, store, opts.Topic, logger)
	}
	metricsProducer := producer.NewMetricsProducer(p, metricsRegistry)
	p = producer.NewTracedProducer(metricsProducer, tracer)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	metricsServer.SetReady(true)

	now := time.Now()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return metricsServer.Start(gctx)
	})
	g.Go(func() error {
		// the metrics server runs until publishing is done
		defer stop()
		return publish(gctx, logger, p, runID, cfg.EventCount)
	})

	if err := g.Wait(); err != nil {
		logger.Error("error in goroutine", zap.Error(err))
	}

	if err := p.Close(); err != nil {
		logger.Error("failed to close producer", zap.Error(err))
	}

	logger.Info("run complete",
		zap.Int("accepted", len(broker.Messages())),
		zap.Duration("elapsed", time.Since(now)),
	)
	fmt.Printf("\n\n TEST COMPLETE IN %.2f seconds\n", time.Since(now).Seconds())
}

// publish sends half of the events synchronously and half asynchronously,
// then drains and checks that every asynchronous callback fired.
func publish(ctx context.Context, logger *zap.Logger, p pub.Producer, runID string, count int) error {
	var acked, failed, async int

	for i, e := range events(count) {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event %d: %w", i, err)
		}

		opts := pub.MessageOptions{
			Key: e.CustomerID,
			Properties: map[string]pub.Property{
				"type": pub.StringProperty("order"),
				"run":  pub.JSONProperty(map[string]string{"id": runID, "source": "e2e"}),
			},
		}

		if i%2 == 0 {
			msgID, err := p.Send(ctx, payload, opts)
			if err != nil {
				return fmt.Errorf("failed to send event %s: %w", e.OrderID, err)
			}
			logger.Debug("event sent", zap.String("order_id", e.OrderID), zap.String("message_id", msgID))
			continue
		}

		async++
		orderID := e.OrderID
		err = p.SendAsync(ctx, payload, opts, func(msgID string, err error) {
			if err != nil {
				failed++
				logger.Warn("event not acknowledged", zap.String("order_id", orderID), zap.Error(err))
				return
			}
			acked++
		})
		if err != nil {
			return fmt.Errorf("failed to send event %s: %w", e.OrderID, err)
		}
	}

	if err := p.Wait(ctx); err != nil {
		return fmt.Errorf("failed to drain acknowledgments: %w", err)
	}
	if acked+failed != async {
		return fmt.Errorf("%d of %d asynchronous callbacks fired", acked+failed, async)
	}

	logger.Info("published events",
		zap.Int("sync", count-async),
		zap.Int("async_acked", acked),
		zap.Int("async_failed", failed),
	)
	return nil
}

type event struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	ProductID  string    `json:"product_id"`
	Amount     float64   `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}

func events(count int) []event {
	customers := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	products := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "10"}
	events := make([]event, 0, count)

	for i := 0; i < count; i++ {
		events = append(events, event{
			OrderID:    fmt.Sprintf("ORD-%04d", i+1),
			CustomerID: customers[rand.IntN(len(customers))],
			ProductID:  products[rand.IntN(len(products))],
			Amount:     10.0 + rand.Float64()*990.0,
			Timestamp:  time.Now().UTC(),
		})
	}

	return events
}

func newReceiptStore(cfg couchbase.Config, registry *metrics.Registry, tracer *tracing.Tracer) (pub.ReceiptStore, func(), error) {
	cluster, bucket, err := couchbase.Connect(cfg)
	if err != nil {
		return nil, nil, err
	}

	docs, err := pub.NewReceiptsStore(cluster, bucket, cfg.ScopeName)
	if err != nil {
		_ = cluster.Close(nil)
		return nil, nil, fmt.Errorf("failed to create receipts collection: %w", err)
	}
	store, err := receipts.NewStore(docs)
	if err != nil {
		_ = docs.Close()
		return nil, nil, err
	}

	closeStore := func() {
		if err := docs.Close(); err != nil {
			log.Printf("failed to close couchbase: %v", err)
		}
	}

	return receipts.NewTracedStore(receipts.NewMetricsStore(store, registry), tracer), closeStore, nil
}
