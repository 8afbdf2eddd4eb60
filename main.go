package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	apihttp "plugwatch/internal/api/http"
	"plugwatch/internal/auth"
	calibrationapp "plugwatch/internal/calibration/application"
	catalogapp "plugwatch/internal/catalog/application"
	catalogrepo "plugwatch/internal/catalog/infrastructure/postgres"
	"plugwatch/internal/config"
	devsync "plugwatch/internal/devices/application"
	devmqtt "plugwatch/internal/devices/interfaces/mqtt"
	"plugwatch/internal/eventbus"
	"plugwatch/internal/observability/metrics"
	riskapp "plugwatch/internal/risk/application"
	risk "plugwatch/internal/risk/domain"
	riskrepo "plugwatch/internal/risk/infrastructure/postgres"
	sessionapp "plugwatch/internal/sessions/application"
	sessionrepo "plugwatch/internal/sessions/infrastructure/postgres"
	statsapp "plugwatch/internal/stats/application"
	statsrepo "plugwatch/internal/stats/infrastructure/postgres"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "plugwatch").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}
	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("policy load failed")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open failed")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("db ping failed")
	}

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	statsRepository := statsrepo.NewRepository(db)
	riskRepository := riskrepo.NewRepository(db)
	archive := sessionrepo.NewArchive(db)
	catalogRepository := catalogrepo.NewRepository(db)
	for _, ensure := range []func(context.Context) error{
		statsRepository.EnsureSchema,
		riskRepository.EnsureSchema,
		archive.EnsureSchema,
		catalogRepository.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			logger.Fatal().Err(err).Msg("schema setup failed")
		}
	}
	metrics.InitDB(db, logger)

	bus := eventbus.New(logger)

	engine := statsapp.NewEngine(logger,
		statsapp.WithRepository(statsRepository),
		statsapp.WithMinSamples(policy.MinSamples),
	)
	if err := engine.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("stats warm load failed")
	}

	riskStore := riskapp.NewStore(riskRepository, logger)
	if err := riskStore.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("risk warm load failed")
	}

	catalogService, err := catalogapp.NewService(catalogRepository, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("catalog setup failed")
	}

	mqttOpts := paho.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true)
	mqttClient := paho.NewClient(mqttOpts)

	commander, err := devmqtt.NewCommander(mqttClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("commander setup failed")
	}

	synchronizer := devsync.NewSynchronizer(logger,
		devsync.WithStaleAfter(policy.StaleAfter),
	)

	manager, err := sessionapp.NewManager(archive, bus, policy, logger,
		sessionapp.WithCommander(commander),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("session manager setup failed")
	}

	tuning := scoringTuning(policy)
	scorer, err := riskapp.NewScorer(engine, riskStore, catalogService, tuning, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scorer setup failed")
	}
	bus.SubscribeAsync(ctx, eventbus.TypeFor[sessionapp.SessionClosed](), "anomaly-scorer", 256,
		func(ctx context.Context, event any) error {
			closed, ok := event.(sessionapp.SessionClosed)
			if !ok {
				return eventbus.ErrInvalidEventType
			}
			_, err := scorer.HandleSessionClosed(ctx, closed)
			return err
		})

	advisor, err := calibrationapp.NewAdvisor(engine, catalogService, logger,
		calibrationapp.WithFloor(int64(policy.CalibrationFloor)),
		calibrationapp.WithRounding(policy.RoundingMinutes),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("advisor setup failed")
	}

	go manager.Run(ctx, synchronizer.Subscribe(1024))
	go synchronizer.RunSweeper(ctx, policy.SweepInterval)

	consumer, err := devmqtt.NewConsumer(mqttClient, cfg.MQTTTopic, synchronizer, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("mqtt consumer setup failed")
	}
	if err := consumer.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("mqtt connect failed")
	}
	defer consumer.Close()

	server := apihttp.NewServer(synchronizer, manager, engine, riskStore, advisor, catalogService,
		policy.DecayHalfLife, policy.FavoredShare, logger)
	authMW := auth.NewMiddleware([]byte(cfg.JWTSecret), cfg.ClinicID,
		auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"}))
	gatewayMW := auth.NewGatewayAuth([]byte(cfg.IngestSecret), 5*time.Minute)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(authMW, gatewayMW),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
}

func scoringTuning(policy config.Policy) riskapp.Tuning {
	return riskapp.Tuning{
		MinorSigma: policy.MinorSigma,
		MajorSigma: policy.MajorSigma,
		Weights: risk.Weights{
			Rate:      policy.RateWeight,
			Magnitude: policy.MagnitudeWeight,
		},
		DecayHalfLife: policy.DecayHalfLife,
	}
}
