package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"os"
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
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

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
			"component": "api",
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

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	stripeClient := external.NewStripeClient(os.Getenv("STRIPE_KEY"))

	amqpBroker, err := broker.NewAMQPBroker(logger, os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	smtpAuth := smtp.PlainAuth("", os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"), os.Getenv("SMTP_HOST"))

	authManager, err := auth.New(auth.Options{
		Redis:  rdb,
		Logger: logger,

		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),

		Environment: authEnvironment,
		SMTPAuth:    smtpAuth,
		From:        os.Getenv("SMTP_FROM"),
		Hostname:    os.Getenv("SMTP_HOST") + ":" + os.Getenv("SMTP_PORT"),
		EmailOption: auth.EmailOption{
			Name: os.Getenv("SITE_NAME"),
			LinkGenerator: func(uid, token string) string {
				return fmt.Sprintf("%s/login/%s/%s", os.Getenv("SITE_URL"), uid, token)
			},
		},
	})
	if err != nil {
		logger.Fatal("Cannot initialize AuthManager",
			zap.Error(err),
		)
	}

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

	if planFile := os.Getenv("PLAN_FILE"); len(planFile) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
		if err := planManager.EnsureDefined(ctx, planFile); err != nil {
			logger.Fatal("Cannot ensure plans are defined",
				zap.Error(err),
			)
		}
		cancel()
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

	companyRouter, err := company.NewService(company.Options{
		Auth:           authManager,
		CompanyManager: companyManager,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Company Service Router",
			zap.Error(err),
		)
	}

	planRouter, err := plan.NewService(plan.ServiceOptions{
		PlanManager: planManager,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Plan Service Router",
			zap.Error(err),
		)
	}

	subscriptionRouter, err := subscription.NewService(subscription.ServiceOptions{
		Auth:                authManager,
		SubscriptionManager: subscriptionManager,
		Producer:            amqpBroker,
		Logger:              logger,

		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		SiteURL:       os.Getenv("SITE_URL"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize Billing Service Router",
			zap.Error(err),
		)
	}

	vehicleRouter, err := vehicle.NewService(vehicle.ServiceOptions{
		Auth:           authManager,
		CompanyManager: companyManager,
		VehicleManager: vehicleManager,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Vehicle Service Router",
			zap.Error(err),
		)
	}

	maintenanceRouter, err := maintenance.NewService(maintenance.ServiceOptions{
		Auth:               authManager,
		CompanyManager:     companyManager,
		VehicleManager:     vehicleManager,
		MaintenanceManager: maintenanceManager,
		Logger:             logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Maintenance Service Router",
			zap.Error(err),
		)
	}

	reminderRouter, err := reminder.NewService(reminder.ServiceOptions{
		Auth:            authManager,
		CompanyManager:  companyManager,
		ReminderManager: reminderManager,
		Scanner:         scanner,
		Dispatcher:      dispatcher,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Reminder Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{os.Getenv("SITE_URL")},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rootRouter.Mount("/companies", companyRouter.Router())
	rootRouter.Mount("/plans", planRouter.Router())
	rootRouter.Mount("/billing", subscriptionRouter.Router())
	rootRouter.Mount("/vehicles", vehicleRouter.Router())
	rootRouter.Mount("/maintenance", maintenanceRouter.Router())
	rootRouter.Mount("/reminders", reminderRouter.Router())

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok")
	})

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    ":42069",
	}

	logger.Info("API listening on :42069")
	log.Fatalln(srv.ListenAndServe())
}
