package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minifleet/minifleet/auth"
	"github.com/minifleet/minifleet/broker"
	"github.com/minifleet/minifleet/company"
	"github.com/minifleet/minifleet/db"
	"github.com/minifleet/minifleet/external"
	"github.com/minifleet/minifleet/maintenance"
	"github.com/minifleet/minifleet/plan"
	"github.com/minifleet/minifleet/reminder"
	"github.com/minifleet/minifleet/subscription"
	"github.com/minifleet/minifleet/vehicle"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// how often the worker raises and delivers reminders
const reminderInterval = time.Minute * 15

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "worker",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot initialize zapsentry",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	dbInstance, err := db.New(db.Options{
		URI:    os.Getenv("POSTGRES_URI"),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	stripeClient := external.NewStripeClient(os.Getenv("STRIPE_KEY"))

	amqpBroker, err := broker.NewAMQPBroker(logger, os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	companyManager, err := company.NewManager(logger, dbInstance)
	if err != nil {
		logger.Fatal("Cannot initialize CompanyManager",
			zap.Error(err),
		)
	}

	planManager, err := plan.NewManager(plan.ManagerOptions{
		StripeClient: stripeClient,
		DB:           dbInstance,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize PlanManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		StripeClient: stripeClient,
		DB:           dbInstance,
		PlanManager:  planManager,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	vehicleManager, err := vehicle.NewManager(logger, dbInstance)
	if err != nil {
		logger.Fatal("Cannot initialize VehicleManager",
			zap.Error(err),
		)
	}

	maintenanceManager, err := maintenance.NewManager(maintenance.ManagerOptions{
		DB:             dbInstance,
		VehicleManager: vehicleManager,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize MaintenanceManager",
			zap.Error(err),
		)
	}

	reminderManager, err := reminder.NewManager(logger, dbInstance)
	if err != nil {
		logger.Fatal("Cannot initialize ReminderManager",
			zap.Error(err),
		)
	}

	scanner, err := reminder.NewScanner(reminder.ScannerOptions{
		CompanyManager:     companyManager,
		MaintenanceManager: maintenanceManager,
		ReminderManager:    reminderManager,
		Logger:             logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize reminder Scanner",
			zap.Error(err),
		)
	}

	mailer, err := external.NewSMTPMailer(external.SMTPMailerOptions{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     os.Getenv("SMTP_PORT"),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize SMTPMailer",
			zap.Error(err),
		)
	}

	smsGateway := external.NewSMSGateway(external.SMSGatewayOptions{
		Endpoint: os.Getenv("SMS_GATEWAY_URL"),
		APIKey:   os.Getenv("SMS_GATEWAY_KEY"),
	})

	dispatcher, err := reminder.NewDispatcher(reminder.DispatcherOptions{
		CompanyManager:     companyManager,
		VehicleManager:     vehicleManager,
		MaintenanceManager: maintenanceManager,
		ReminderManager:    reminderManager,
		Mailer:             mailer,
		Messenger:          smsGateway,
		Logger:             logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize reminder Dispatcher",
			zap.Error(err),
		)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	eventChan, err := amqpBroker.ReceiveBillingEvents(ctx)
	if err != nil {
		logger.Fatal("Cannot get billing event channel",
			zap.Error(err),
		)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventChan:
				handleCtx, handleCancel := context.WithTimeout(ctx, time.Second*30)
				if err := subscriptionManager.HandleBillingEvent(handleCtx, ev); err != nil {
					logger.Error("Cannot handle billing event",
						zap.String("EventType", string(ev.Type)),
						zap.Error(err),
					)
				}
				handleCancel()
			}
		}
	}()

	go func() {
		tick := time.Tick(reminderInterval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick:
				passCtx, passCancel := context.WithTimeout(ctx, time.Minute*5)
				if _, err := scanner.Scan(passCtx, time.Now()); err != nil {
					logger.Error("Reminder scan pass failed",
						zap.Error(err),
					)
				}
				if _, err := dispatcher.Dispatch(passCtx); err != nil {
					logger.Error("Reminder dispatch pass failed",
						zap.Error(err),
					)
				}
				passCancel()
			}
		}
	}()

	logger.Info("Worker started",
		zap.Duration("ReminderInterval", reminderInterval),
	)

	<-c
	cancel()
}
