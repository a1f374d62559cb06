package services

import (
	"context"
	"fmt"

	"github.com/pulseguard/backend/internal/config"
	"github.com/pulseguard/backend/internal/db"
	"github.com/pulseguard/backend/internal/events"
	"github.com/pulseguard/backend/internal/kafka"
	"github.com/pulseguard/backend/internal/notify"
	"github.com/pulseguard/backend/internal/utils"
	"go.uber.org/zap"
)

// ServiceProvider wires and owns all engine services. Construction order
// matters: dispatch needs the notify registry, alerting needs dispatch,
// evaluation needs alerting, ingestion needs evaluation.
type ServiceProvider struct {
	logger   *utils.Logger
	config   *config.Config
	database *db.Database

	bus          *events.Bus
	kafkaManager *kafka.Manager
	kafkaHandler *KafkaHandler

	feedService      *FeedService
	dispatchService  *DispatchService
	alertService     *AlertService
	evaluatorService *EvaluatorService
	streakService    *StreakService
	ingestService    *IngestService
}

// NewServiceProvider creates a new service provider
func NewServiceProvider(
	logger *utils.Logger,
	config *config.Config,
	database *db.Database,
) *ServiceProvider {
	return &ServiceProvider{
		logger:   logger.Named("services"),
		config:   config,
		database: database,
	}
}

// Initialize builds the full service graph and starts the background
// machinery: dispatch workers, Kafka consumers, the unprocessed-reading
// sweep and the escalation re-arm.
func (sp *ServiceProvider) Initialize(ctx context.Context) error {
	var err error

	sp.bus = events.NewBus(sp.logger)

	// Feed hub first so the push channel has somewhere to deliver.
	sp.feedService = NewFeedService(sp.bus, sp.logger)
	sp.logger.Info("Feed service initialized")

	registry := notify.NewRegistry(
		notify.NewPushSender(sp.feedService, sp.logger),
		notify.NewEmailSender(sp.config.Notify.EmailGatewayURL, sp.logger),
		notify.NewSMSSender(sp.config.Notify.SMSGatewayURL, sp.logger),
	)

	sp.dispatchService = NewDispatchService(sp.database, &sp.config.Dispatch, registry, sp.bus, sp.logger)

	sp.alertService = NewAlertService(sp.database, sp.bus, sp.logger)
	sp.alertService.SetDispatcher(sp.dispatchService)
	sp.dispatchService.SetAlertSink(sp.alertService)

	sp.evaluatorService = NewEvaluatorService(sp.database, &sp.config.Anomaly, sp.logger)
	sp.evaluatorService.SetRaiser(sp.alertService)

	sp.streakService = NewStreakService(sp.database, sp.bus, sp.logger)
	sp.ingestService = NewIngestService(sp.database, sp.bus, sp.evaluatorService, sp.logger)

	sp.kafkaManager, err = kafka.NewManager(&sp.config.Kafka, sp.logger)
	if err != nil {
		return fmt.Errorf("failed to create Kafka manager: %w", err)
	}

	sp.kafkaHandler = NewKafkaHandler(sp.logger, sp.kafkaManager, sp.ingestService)
	if err = sp.kafkaHandler.Initialize(sp.bus); err != nil {
		return fmt.Errorf("failed to initialize Kafka handler: %w", err)
	}

	if err = sp.kafkaManager.Start(); err != nil {
		return fmt.Errorf("failed to start Kafka manager: %w", err)
	}
	sp.logger.Info("Kafka manager started")

	sp.dispatchService.Start()

	// Recover in-memory state lost on the previous shutdown: escalation
	// timers for unanswered alerts and readings that never got evaluated.
	sp.dispatchService.ReArm()
	sp.evaluatorService.SweepUnprocessed(1000)

	sp.logger.Info("All services initialized successfully")
	return nil
}

// Shutdown performs a graceful shutdown of all services
func (sp *ServiceProvider) Shutdown() error {
	sp.logger.Info("Shutting down services")

	if sp.kafkaManager != nil && sp.kafkaManager.IsRunning() {
		sp.logger.Info("Stopping Kafka manager")
		if err := sp.kafkaManager.Stop(); err != nil {
			sp.logger.Error("Failed to stop Kafka manager", zap.Error(err))
		}
	}

	if sp.dispatchService != nil {
		sp.dispatchService.Stop()
	}

	sp.logger.Info("Services shut down successfully")
	return nil
}

// GetBus returns the event bus
func (sp *ServiceProvider) GetBus() *events.Bus {
	return sp.bus
}

// GetKafkaManager returns the Kafka manager
func (sp *ServiceProvider) GetKafkaManager() *kafka.Manager {
	return sp.kafkaManager
}

// GetFeedService returns the live feed hub
func (sp *ServiceProvider) GetFeedService() *FeedService {
	return sp.feedService
}

// GetDispatchService returns the notification dispatcher
func (sp *ServiceProvider) GetDispatchService() *DispatchService {
	return sp.dispatchService
}

// GetAlertService returns the alert manager
func (sp *ServiceProvider) GetAlertService() *AlertService {
	return sp.alertService
}

// GetEvaluatorService returns the evaluator
func (sp *ServiceProvider) GetEvaluatorService() *EvaluatorService {
	return sp.evaluatorService
}

// GetStreakService returns the streak tracker
func (sp *ServiceProvider) GetStreakService() *StreakService {
	return sp.streakService
}

// GetIngestService returns the ingest service
func (sp *ServiceProvider) GetIngestService() *IngestService {
	return sp.ingestService
}
