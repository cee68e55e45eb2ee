package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"zapdesk/config"
	"zapdesk/internal/adapters/evolution"
	"zapdesk/internal/chatbot"
	"zapdesk/internal/db"
	"zapdesk/internal/events"
	"zapdesk/internal/handlers"
	"zapdesk/internal/logstore"
	"zapdesk/internal/media"
	"zapdesk/internal/nlp"
	"zapdesk/internal/queue"
	"zapdesk/internal/services"
	"zapdesk/internal/triggers"
	"zapdesk/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.InitLogger(cfg.LogFormat, cfg.LogLevel)

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := db.Migrate(conn); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Mirror warn-and-above events into the log table alongside the console.
	if sink, err := logstore.NewWriter(conn); err == nil {
		logger.AttachSink(sink, cfg.LogFormat)
	}

	events.InitRabbitMQ(cfg.RabbitMQURL)
	defer events.Close()

	evoClient, err := evolution.NewClient(cfg.EvolutionBaseURL, cfg.EvolutionAPIKey, cfg.EvolutionInstance)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Evolution client")
	}

	var classifier nlp.Classifier
	if cfg.LLMAPIKey != "" {
		llm, err := nlp.NewLLMClient(cfg.LLMAPIKey, cfg.LLMAPIBase, cfg.LLMModel)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize LLM classifier")
		}
		classifier = llm
	} else {
		log.Info().Msg("LLM_API_KEY not set, NLP runs on configured intents only")
	}

	matcher, err := nlp.NewMatcher(conn, classifier)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize NLP matcher")
	}

	contacts, err := services.NewContactService(conn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize contact service")
	}
	conversations, err := services.NewConversationService(conn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize conversation service")
	}
	states, err := chatbot.NewStateStore(conn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize chatbot state store")
	}

	engine, err := chatbot.NewEngine(states, matcher, conversations, evoClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize chatbot engine")
	}

	evaluator, err := triggers.NewEvaluator(conn, contacts, conversations, states)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize trigger evaluator")
	}

	store, err := queue.NewStore(conn, time.Duration(cfg.QueueRetryDelaySec)*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize queue store")
	}
	processor, err := queue.NewProcessor(store, time.Duration(cfg.QueuePollInterval)*time.Second, cfg.QueueBatchSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize queue processor")
	}
	processor.Register(handlers.MessageTypeChatbotTurn, handlers.NewTurnHandler(engine))

	webhookHandler := handlers.NewWebhookHandler(
		store, processor, evaluator, contacts, conversations,
		cfg.WebhookSecret,
		time.Duration(cfg.DedupWindowMinutes)*time.Minute,
	)
	if cfg.S3Bucket != "" {
		archiver, err := media.NewArchiver(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 media archiver")
		}
		webhookHandler.SetArchiver(archiver, cfg.EvolutionInstance)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go processor.Start(ctx)

	router := mux.NewRouter()
	chain := alice.New(handlers.Recover, handlers.LogRequests)
	router.Handle(cfg.WebhookPath, chain.ThenFunc(webhookHandler.Handle)).Methods(http.MethodPost)
	router.Handle("/queue/status", chain.ThenFunc(handlers.QueueStatus(store))).Methods(http.MethodGet)
	router.Handle("/health", chain.ThenFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})).Methods(http.MethodGet)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("webhookPath", cfg.WebhookPath).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
