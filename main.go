package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mentorbot/internal/config"
	"mentorbot/internal/directory"
	"mentorbot/internal/dispatch"
	"mentorbot/internal/index"
	"mentorbot/internal/pipeline"
	"mentorbot/internal/provider"
	"mentorbot/internal/repository"
	"mentorbot/internal/sequencer"
	"mentorbot/internal/server"
	"mentorbot/internal/telegram"
)

func main() {
	cfgPath := "configs/config.yml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	// Database connection and migrations.
	db, err := repository.NewPostgresDB(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	repository.MigrateDB(db, logger)

	// Repositories.
	participantRepo := repository.NewParticipantRepository(db, logger)
	messageRepo := repository.NewMessageRepository(db, logger)
	knowledgeRepo := repository.NewKnowledgeRepository(db, logger)
	moderationRepo := repository.NewModerationRepository(db, logger)
	tagRepo := repository.NewMentorTagRepository(db, logger)

	// Context for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Capability providers.
	llm, err := provider.NewLLM(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize LLM provider", zap.Error(err))
	}

	// Similarity index and mentor directory, loaded before serving traffic.
	idx := index.New(knowledgeRepo, logger)
	if err := idx.Refresh(ctx); err != nil {
		logger.Fatal("Failed to build similarity index", zap.Error(err))
	}
	dir := directory.New(participantRepo, cfg.Mentors, logger)
	if err := dir.Sync(ctx); err != nil {
		logger.Fatal("Failed to sync mentor directory", zap.Error(err))
	}
	go refreshLoop(ctx, cfg, idx, dir, logger)

	// Decision pipeline.
	pipe := pipeline.New(llm, llm, idx, llm, knowledgeRepo, dir, pipeline.Config{
		ModerationThreshold: cfg.Pipeline.ModerationThreshold,
		MatchThreshold:      cfg.Pipeline.MatchThreshold,
		AmbiguityMargin:     cfg.Pipeline.AmbiguityMargin,
		RoutingThreshold:    cfg.Pipeline.RoutingThreshold,
		TopK:                cfg.Pipeline.TopK,
		MaxAttempts:         cfg.Pipeline.MaxAttempts,
		RetryBackoff:        cfg.RetryBackoff(),
		CallTimeout:         cfg.LLMTimeout(),
	}, logger)

	seq := sequencer.New(ctx, cfg.Sequencer.MaxWorkers, logger)

	// Telegram transport and action dispatcher; the bot is both the update
	// source and the transport the dispatcher drives.
	botDeps := telegram.Deps{
		Config:       cfg,
		Participants: participantRepo,
		Messages:     messageRepo,
		Knowledge:    knowledgeRepo,
		Moderation:   moderationRepo,
		Tags:         tagRepo,
		Pipeline:     pipe,
		Sequencer:    seq,
		Index:        idx,
		Embedder:     llm,
		Logger:       logger,
	}
	bot, err := telegram.NewBot(botDeps)
	if err != nil {
		logger.Fatal("Failed to initialize Telegram bot", zap.Error(err))
	}
	dispatcher := dispatch.New(bot, messageRepo, moderationRepo, tagRepo, knowledgeRepo, logger)
	bot.SetDispatcher(dispatcher)

	go func() {
		if err := bot.Start(ctx); err != nil {
			logger.Error("Telegram bot failed", zap.Error(err))
		}
	}()

	// Stats API.
	srv := server.NewServer(participantRepo, messageRepo, knowledgeRepo, moderationRepo, tagRepo, logger)
	go srv.Run(cfg.Server.Port)

	<-ctx.Done()
	seq.Shutdown()
	logger.Info("Application stopped.")
}

// refreshLoop periodically reloads the similarity index and mentor
// directory so admin edits and membership changes land without a restart.
func refreshLoop(ctx context.Context, cfg *config.Config, idx *index.Index, dir *directory.Directory, logger *zap.Logger) {
	interval := time.Duration(cfg.Index.RefreshIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := idx.Refresh(ctx); err != nil {
				logger.Error("Periodic index refresh failed", zap.Error(err))
			}
			if err := dir.Sync(ctx); err != nil {
				logger.Error("Periodic directory sync failed", zap.Error(err))
			}
		}
	}
}
