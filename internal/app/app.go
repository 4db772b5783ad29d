package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/agents"
	"github.com/ternarybob/corpus/internal/chat"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/handlers"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/pipeline"
	"github.com/ternarybob/corpus/internal/queue"
	"github.com/ternarybob/corpus/internal/services/llm"
	"github.com/ternarybob/corpus/internal/services/objects"
	"github.com/ternarybob/corpus/internal/services/search"
	"github.com/ternarybob/corpus/internal/services/vector"
	"github.com/ternarybob/corpus/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager *storage.Manager
	QueueManager   interfaces.QueueManager
	ObjectStore    interfaces.ObjectStore

	// Pipeline
	LLMService   interfaces.LLMService
	SearchSink   interfaces.SearchSink
	VectorSink   interfaces.VectorSink
	Orchestrator *pipeline.Orchestrator
	WorkerPool   *pipeline.WorkerPool

	// Chat
	SessionManager *chat.SessionManager
	Router         *chat.Router
	Dispatcher     *chat.Dispatcher

	// HTTP handlers
	JobHandler      *handlers.JobHandler
	DocumentHandler *handlers.DocumentHandler
	SearchHandler   *handlers.SearchHandler
	StatusHandler   *handlers.StatusHandler
	ChatHandler     *handlers.ChatHandler

	scheduler *cron.Cron
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := app.initPipeline(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	if err := app.initChat(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize chat: %w", err)
	}
	app.initHandlers()

	if err := app.WorkerPool.Start(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	if cfg.Scheduler.Enabled {
		if err := app.startScheduler(); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	logger.Info().
		Str("llm_provider", app.LLMService.Provider()).
		Str("jobs_backend", cfg.Storage.Jobs).
		Int("stage_concurrency", cfg.Pipeline.Concurrency).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage brings up the record stores, the queue, and the object store.
func (a *App) initStorage() error {
	storageManager, err := storage.NewManager(a.Config, a.Logger)
	if err != nil {
		return err
	}
	a.StorageManager = storageManager

	// The queue shares the badger handle with the record store, so a single
	// process keeps one set of value logs on disk.
	queueManager, err := queue.NewManager(
		storageManager.BadgerConnection().DB(),
		a.Config.Queue.QueueName,
		common.Duration(a.Config.Queue.VisibilityTimeout, 0),
		a.Config.Queue.MaxReceive,
		a.Logger,
	)
	if err != nil {
		return err
	}
	a.QueueManager = queueManager

	objectStore, err := objects.NewStore(a.Config.Storage.Objects.Dir, a.Logger)
	if err != nil {
		return err
	}
	a.ObjectStore = objectStore

	return nil
}

// initPipeline wires the stage handlers, orchestrator, and worker pool.
func (a *App) initPipeline() error {
	llmService, err := llm.NewService(&a.Config.LLM, a.Logger)
	if err != nil {
		return err
	}
	a.LLMService = llmService

	searchSink, err := search.NewSink(&a.Config.Search, a.Logger)
	if err != nil {
		return err
	}
	a.SearchSink = searchSink

	vectorSink, err := vector.NewSink(&a.Config.Vector, a.Logger)
	if err != nil {
		return err
	}
	a.VectorSink = vectorSink

	jobs := a.StorageManager.JobStorage()
	documents := a.StorageManager.DocumentStorage()

	a.Orchestrator = pipeline.NewOrchestrator(jobs, a.QueueManager, a.ObjectStore, a.Config.Pipeline.MaxRetries, a.Logger)

	workerPool, err := pipeline.NewWorkerPool(
		a.QueueManager,
		a.Orchestrator,
		a.Config.Pipeline.Concurrency,
		common.Duration(a.Config.Queue.PollInterval, 0),
		common.Duration(a.Config.Pipeline.StageTimeout, 0),
		a.Logger,
	)
	if err != nil {
		return err
	}

	chunker := pipeline.NewChunker(a.Config.Pipeline.ChunkSize, a.Config.Pipeline.ChunkOverlap)
	workerPool.RegisterHandler(pipeline.NewConvertHandler(a.ObjectStore, documents, a.Logger))
	workerPool.RegisterHandler(pipeline.NewMetadataHandler(documents, llmService, a.Logger))
	workerPool.RegisterHandler(pipeline.NewSearchIndexHandler(documents, searchSink, a.Logger))
	workerPool.RegisterHandler(pipeline.NewVectorIndexHandler(documents, llmService, vectorSink, chunker, a.Config.Vector.Dimensions, a.Logger))
	a.WorkerPool = workerPool

	return nil
}

// initChat builds the agent roster and the streaming dispatcher.
func (a *App) initChat() error {
	descriptors, err := agents.LoadDescriptors(a.Config.Agents.DescriptorsDir)
	if err != nil {
		return err
	}

	roster, fallback, err := agents.Build(descriptors, agents.Deps{
		LLM:       a.LLMService,
		Search:    a.SearchSink,
		Documents: a.StorageManager.DocumentStorage(),
		Jobs:      a.StorageManager.JobStorage(),
	}, a.Logger)
	if err != nil {
		return err
	}

	a.SessionManager = chat.NewSessionManager(a.StorageManager.SessionStorage(), a.Config.Chat.HistoryLimit, a.Logger)
	a.Router = chat.NewRouter(roster, fallback, a.Config.Chat.ScoreThreshold, a.Config.Chat.MaxParallelAgents, a.Logger)

	dispatcher, err := chat.NewDispatcher(
		a.SessionManager,
		a.Router,
		a.Config.Chat.MaxParallelAgents*8,
		common.Duration(a.Config.Chat.GenerationTimeout, 0),
		a.Logger,
	)
	if err != nil {
		return err
	}
	a.Dispatcher = dispatcher

	a.Logger.Info().
		Int("agents", len(roster)).
		Str("fallback", fallback.Name()).
		Msg("Agent roster ready")
	return nil
}

func (a *App) initHandlers() {
	a.JobHandler = handlers.NewJobHandler(a.Orchestrator, a.Logger)
	a.DocumentHandler = handlers.NewDocumentHandler(a.StorageManager.DocumentStorage(), a.Logger)
	a.SearchHandler = handlers.NewSearchHandler(a.SearchSink, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(
		a.StorageManager.JobStorage(),
		a.StorageManager.DocumentStorage(),
		a.QueueManager,
		a.LLMService,
		a.Logger,
	)
	a.ChatHandler = handlers.NewChatHandler(a.SessionManager, a.Dispatcher, &a.Config.Chat, a.Logger)
}

// startScheduler runs the periodic sweep that requeues jobs stuck in
// processing after a worker crash.
func (a *App) startScheduler() error {
	schedule := a.Config.Scheduler.SweepSchedule
	if schedule == "" {
		schedule = "@every 1m"
	}

	maxAge := int(common.Duration(a.Config.Pipeline.StageTimeout, 0).Seconds()) * 2
	if maxAge <= 0 {
		maxAge = 240
	}

	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(schedule, func() {
		requeued, err := a.Orchestrator.RequeueStalled(context.Background(), maxAge)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Stalled job sweep failed")
			return
		}
		if requeued > 0 {
			a.Logger.Info().Int("requeued", requeued).Msg("Requeued stalled jobs")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	c.Start()
	a.scheduler = c
	a.Logger.Debug().Str("schedule", schedule).Int("max_age_seconds", maxAge).Msg("Stalled job sweeper started")
	return nil
}

// Close shuts down components in reverse dependency order.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Close()
	}
	if a.WorkerPool != nil {
		a.WorkerPool.Stop()
	}
	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Queue close failed")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
		}
	}
}
