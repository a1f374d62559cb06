package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulseguard/backend/internal/config"
	"github.com/pulseguard/backend/internal/kafka"
	"github.com/pulseguard/backend/internal/utils"
	"go.uber.org/zap"
)

// device-sim publishes synthetic readings onto the readings topic, with an
// occasional out-of-range spike so alerting paths can be exercised against
// a running engine.
func main() {
	// Parse command line flags
	configPath := flag.String("config", "./config", "Path to the configuration directory")
	userID := flag.String("user", "sim-user-1", "User to attribute readings to")
	dataType := flag.String("type", "heart_rate", "Data type to emit")
	baseline := flag.Float64("baseline", 72, "Baseline value")
	jitter := flag.Float64("jitter", 4, "Random jitter around the baseline")
	spikeEvery := flag.Int("spike-every", 20, "Emit an out-of-range spike every N readings (0 disables)")
	messageCount := flag.Int("messages", 100, "Number of readings to produce")
	interval := flag.Int("interval", 1, "Interval between readings in seconds")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Set up logging
	logger, err := utils.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Create Kafka manager
	kafkaManager, err := kafka.NewManager(&cfg.Kafka, logger)
	if err != nil {
		logger.Fatal("Failed to create Kafka manager", zap.Error(err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := kafkaManager.Start(); err != nil {
		logger.Fatal("Failed to start Kafka manager", zap.Error(err))
	}
	logger.Info("Kafka manager started")

	produceReadings(ctx, kafkaManager, logger, simOptions{
		userID:     *userID,
		dataType:   *dataType,
		baseline:   *baseline,
		jitter:     *jitter,
		spikeEvery: *spikeEvery,
		count:      *messageCount,
		interval:   time.Duration(*interval) * time.Second,
	})

	if err := kafkaManager.Stop(); err != nil {
		logger.Error("Failed to stop Kafka manager", zap.Error(err))
	}
	logger.Info("Kafka manager stopped")
}

type simOptions struct {
	userID     string
	dataType   string
	baseline   float64
	jitter     float64
	spikeEvery int
	count      int
	interval   time.Duration
}

// produceReadings emits readings around the baseline, spiking to three
// times the baseline on the configured cadence
func produceReadings(ctx context.Context, kafkaManager *kafka.Manager, logger *utils.Logger, opts simOptions) {
	logger.Info("Starting reading production",
		zap.String("user_id", opts.userID),
		zap.String("data_type", opts.dataType),
		zap.Int("count", opts.count))

	for i := 0; i < opts.count; i++ {
		select {
		case <-ctx.Done():
			logger.Info("Context canceled, stopping reading production")
			return
		default:
		}

		value := opts.baseline + (rand.Float64()*2-1)*opts.jitter
		spiked := opts.spikeEvery > 0 && i > 0 && i%opts.spikeEvery == 0
		if spiked {
			value = opts.baseline * 3
		}

		envelope := kafka.ReadingEnvelope{
			UserID:    opts.userID,
			DataType:  opts.dataType,
			Value:     value,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Source:    "device-sim",
		}

		err := kafkaManager.ProduceMessage(kafka.TopicReadings, opts.userID, envelope, nil)
		if err != nil {
			logger.Error("Failed to produce reading",
				zap.Int("sequence", i),
				zap.Error(err))
		} else {
			logger.Info("Produced reading",
				zap.Int("sequence", i),
				zap.Float64("value", value),
				zap.Bool("spike", spiked))
		}

		if i < opts.count-1 && opts.interval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(opts.interval):
			}
		}
	}

	logger.Info("Reading production completed", zap.Int("count", opts.count))
}
