package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"go-recruiter/internal/config"
	"go-recruiter/internal/db"
	"go-recruiter/internal/flow"
	"go-recruiter/internal/intent"
	"go-recruiter/internal/knowledge"
	"go-recruiter/internal/llm"
	"go-recruiter/internal/logging"
	redisdb "go-recruiter/internal/redis"
	"go-recruiter/internal/session"
	"go-recruiter/internal/turn"
)

const breakerTimeout = 30 * time.Second

// app is everything a command needs to run turns.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	proc    *turn.Processor
	locker  session.Locker
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

func buildApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	kb, err := knowledge.Load(cfg.Knowledge.Path)
	if err != nil {
		return nil, fmt.Errorf("knowledge base: %w", err)
	}
	machine := flow.NewMachine(kb)
	if err := machine.Check(); err != nil {
		return nil, fmt.Errorf("knowledge base incomplete: %w", err)
	}

	store, err := a.buildStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	reply, classify := a.buildGenerators()
	classifier := intent.NewClassifier(classify, cfg.LLM.HistoryTurns, logger)
	a.proc = turn.NewProcessor(store, classifier, machine, reply, kb, logger)

	logger.Info("[Main] recruiter ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("llm_backend", cfg.LLM.Backend),
		zap.String("llm_model", cfg.LLM.Name),
		zap.Int("plans", len(kb.Plans())),
		zap.Int("leaders", len(kb.Leaders())))
	return a, nil
}

func (a *app) buildStore(ctx context.Context) (session.Store, error) {
	cfg := a.cfg
	switch cfg.Store.Driver {
	case config.StoreRedis:
		rdb, err := redisdb.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { rdb.Close() })
		a.locker = session.NewRedisLocker(rdb, cfg.LockTTL())
		return session.NewRedisStore(rdb, cfg.SessionTTL()), nil

	case config.StorePostgres, config.StoreSQLite:
		if err := db.Init(cfg, a.logger); err != nil {
			return nil, fmt.Errorf("DB init: %w", err)
		}
		if sqlDB, err := db.DB.DB(); err == nil {
			a.closers = append(a.closers, func() { sqlDB.Close() })
		}
		a.locker = session.NewLocalLocker()
		return session.NewGormStore(db.DB), nil

	default:
		a.logger.Warn("[Main] using in-memory sessions; they are lost on restart")
		a.locker = session.NewLocalLocker()
		return session.NewMemoryStore(), nil
	}
}

// buildGenerators returns the reply generator and the classification
// generator, both wrapped with timeout and retries.
func (a *app) buildGenerators() (llm.Generator, llm.Generator) {
	cfg := a.cfg
	window := llm.WindowOptions{MaxTurns: cfg.LLM.HistoryTurns, ContextSize: cfg.LLM.ContextSize}
	className, classURL := cfg.ClassifierModel()

	var reply, classify llm.Generator
	switch cfg.LLM.Backend {
	case config.BackendOpenAI:
		reply = llm.NewOpenAIGenerator(cfg.LLM.APIKey, cfg.LLM.URL, cfg.LLM.Name, window)
		classify = llm.NewOpenAIGenerator(cfg.LLM.APIKey, classURL, className, window)
	default:
		breaker := llm.NewCircuitBreaker(cfg.LLM.BreakerThreshold, breakerTimeout, a.logger)
		mcfg := llm.DefaultManagerConfig()
		mcfg.MaxConcurrent = cfg.LLM.MaxConcurrent
		manager := llm.NewManager(mcfg, breaker, a.logger)
		a.closers = append(a.closers, manager.Stop)

		reply = llm.NewLocalGenerator(llm.NewClient(manager, llm.PriorityReply, cfg.LLM.Timeout()), cfg.LLM.URL, cfg.LLM.Name, window)
		classify = llm.NewLocalGenerator(llm.NewClient(manager, llm.PriorityClassify, cfg.LLM.Timeout()), classURL, className, window)
	}

	return llm.WithRetry(reply, cfg.LLM.MaxRetries, cfg.LLM.Timeout()),
		llm.WithRetry(classify, cfg.LLM.MaxRetries, cfg.LLM.Timeout())
}
