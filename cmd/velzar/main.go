package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/velzar/velzar/internal/adapters"
	"github.com/velzar/velzar/internal/adapters/llm"
	"github.com/velzar/velzar/internal/adapters/llm/gemini"
	"github.com/velzar/velzar/internal/adapters/llm/openai"
	"github.com/velzar/velzar/internal/bot"
	"github.com/velzar/velzar/internal/config"
	"github.com/velzar/velzar/internal/db/sqlite"
	"github.com/velzar/velzar/internal/deferred"
	adminHandlers "github.com/velzar/velzar/internal/handlers/admin"
	chatHandlers "github.com/velzar/velzar/internal/handlers/chat"
	"github.com/velzar/velzar/internal/infra"
	"github.com/velzar/velzar/internal/infrastructure/telegram"
	"github.com/velzar/velzar/internal/lifecycle"
	"github.com/velzar/velzar/internal/moderation"
	"github.com/velzar/velzar/internal/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	log.SetFormatter(&config.LineFormatter{WithSource: log.Level(cfg.LogLevel) >= log.DebugLevel})
	log.SetOutput(os.Stdout)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("cant load config")
	}
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, stop); err != nil && !errors.Is(err, context.Canceled) {
		log.WithField("error", err.Error()).Fatal("bot stopped")
	}
	log.Info("bye")
}

func run(ctx context.Context, cfg config.Config, restart context.CancelFunc) error {
	workDir, err := infra.GetWorkDir(cfg.DotPath)
	if err != nil {
		return err
	}
	dbClient, err := sqlite.NewSQLiteClient(ctx, workDir, "velzar.db")
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.WithField("error", err.Error()).Warn("cant close database")
		}
	}()

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		return err
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	log.WithField("bot", botAPI.Self.UserName).Info("authorized")

	oracle, err := newOracle(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	judge := moderation.NewAIJudge(oracle, cfg.LLM.Model, cfg.LLM.FallbackModel)
	chatClient := telegram.NewClient(botAPI, cfg.Moderation.AdminCacheTTL)
	scheduler := deferred.NewScheduler()
	engine := moderation.NewEngine(cfg.Moderation, cfg.OwnerID, moderation.Deps{
		Chat:      chatClient,
		Store:     dbClient,
		Judge:     judge,
		Scheduler: scheduler,
	})

	runtime := lifecycle.NewRuntime().
		Register("scheduler", scheduler).
		Register("observability", observability.NewServer(cfg.MetricsAddr)).
		Register("engine", engine).
		Register("executable_monitor", infra.NewExecutableMonitor(func() {
			log.Warn("executable file was modified, restarting")
			restart()
		}))
	if err := runtime.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithField("error", err.Error()).Warn("cant stop runtime cleanly")
		}
	}()

	service := bot.NewService(botAPI, dbClient, cfg.DefaultLanguage)
	bot.RegisterUpdateHandler("admin", adminHandlers.NewAdmin(service, adminHandlers.Deps{
		Engine:  engine,
		Trust:   engine.Trust(),
		Notices: engine.Notifier(),
		Members: chatClient,
		Judge:   judge,
		Store:   dbClient,
	}, cfg.OwnerID))
	bot.RegisterUpdateHandler("guard", chatHandlers.NewGuard(service, engine, chatClient))
	bot.RegisterUpdateHandler("responder", chatHandlers.NewResponder(
		service, judge, chatClient, moderation.DefaultHeuristicFilter(), cfg.OwnerID, botAPI.Self,
	))
	updateProcessor := bot.NewUpdateProcessor(service, cfg.EnabledHandlers)

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.AllowedUpdates = []string{"message", "edited_message", "callback_query"}

	g, gctx := errgroup.WithContext(ctx)
	updateChan, errorChan := bot.GetUpdatesChans(gctx, botAPI, updateConfig)
	g.Go(func() error {
		err, ok := <-errorChan
		if !ok {
			return nil
		}
		return err
	})
	g.Go(func() error {
		dispatched := make(chan error, 1)
		go infra.GoRecoverable(-1, "process_updates", func() {
			dispatched <- updateProcessor.Dispatch(gctx, updateChan, cfg.UpdateWorkers)
		})
		if err := <-dispatched; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

func newOracle(ctx context.Context, cfg config.LLM) (adapters.LLM, error) {
	logger := log.WithField("object", "oracle").WithField("type", cfg.Type)
	switch cfg.Type {
	case "gemini":
		return gemini.NewGemini(ctx, cfg.APIKey, cfg.RetryWaitMax, logger)
	case "openai":
		httpClient := llm.NewHTTPClient(llm.HTTPClientOptions{
			Timeout:      cfg.Timeout,
			RetryWaitMax: cfg.RetryWaitMax,
		})
		return openai.NewOpenAI(cfg.APIKey, cfg.BaseURL, httpClient, logger), nil
	default:
		return nil, errors.New("unsupported llm type " + cfg.Type)
	}
}
