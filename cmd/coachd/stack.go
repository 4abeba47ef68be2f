package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dshills/coachgraph/coach"
	"github.com/dshills/coachgraph/graph"
	"github.com/dshills/coachgraph/graph/emit"
	"github.com/dshills/coachgraph/graph/model"
	"github.com/dshills/coachgraph/graph/model/anthropic"
	"github.com/dshills/coachgraph/graph/model/google"
	"github.com/dshills/coachgraph/graph/model/openai"
	"github.com/dshills/coachgraph/graph/store"
	"github.com/dshills/coachgraph/internal/config"
	"github.com/dshills/coachgraph/internal/logging"
	"github.com/dshills/coachgraph/internal/telemetry"
	"github.com/dshills/coachgraph/knowledge"
	"github.com/dshills/coachgraph/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// stack is everything a coachd command needs to run threads.
type stack struct {
	cfg       *config.Config
	logger    *logging.Logger
	registry  *prometheus.Registry
	tracing   *telemetry.Provider
	knowledge *knowledge.FileLoader
	records   *record.SQLRecorder
	runner    *coach.Runner
	closers   []io.Closer
}

// loadConfig reads the config named by the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

func buildStack(ctx context.Context, cfg *config.Config) (_ *stack, err error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	s := &stack{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			s.Close(context.Background())
		}
	}()

	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *graph.PrometheusMetrics
	if cfg.Metrics.Enabled {
		metrics = graph.NewPrometheusMetrics(s.registry)
	}

	s.tracing, err = telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Version:     version,
	})
	if err != nil {
		return nil, err
	}

	chat, err := newChatModel(cfg.Model, metrics, logger.Logger)
	if err != nil {
		return nil, err
	}

	st, locker, err := s.openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	var recorder coach.Recorder
	switch cfg.Recorder.Driver {
	case "sqlite":
		rec, err := record.NewSQLite(cfg.Recorder.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rec)
		s.records = rec
		recorder = rec
	case "mysql":
		rec, err := record.NewMySQL(cfg.Recorder.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rec)
		s.records = rec
		recorder = rec
	}

	var loader knowledge.Loader
	if cfg.Knowledge.Dir != "" {
		s.knowledge = knowledge.NewFileLoader(cfg.Knowledge.Dir, knowledge.WithLogger(logger.Named("knowledge")))
		loader = s.knowledge
	}

	invOpts := []graph.InvokerOption{graph.WithInvokerLogger(logger.Named("invoke"))}
	if metrics != nil {
		invOpts = append(invOpts, graph.WithInvokerMetrics(metrics))
	}
	inv, err := graph.NewInvoker(graph.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BaseDelay:      config.Duration(cfg.Retry.BaseDelay),
		MaxDelay:       config.Duration(cfg.Retry.MaxDelay),
		AttemptTimeout: config.Duration(cfg.Retry.AttemptTimeout),
		Retryable:      model.IsRetryable,
	}, invOpts...)
	if err != nil {
		return nil, err
	}

	engineOpts := []graph.Option{
		graph.WithMaxSteps(cfg.Engine.MaxSteps),
		graph.WithLogger(logger.Named("engine")),
		graph.WithEmitter(emit.NewMultiEmitter(
			emit.NewZapEmitter(logger.Named("events"), zapcore.DebugLevel),
			emit.NewOTelEmitter(s.tracing.Tracer()),
		)),
	}
	if ttl := config.Duration(cfg.Engine.LockTTL); ttl > 0 {
		engineOpts = append(engineOpts, graph.WithLockTTL(ttl))
	}
	if locker != nil {
		engineOpts = append(engineOpts, graph.WithLocker(locker))
	}
	if metrics != nil {
		engineOpts = append(engineOpts, graph.WithMetrics(metrics))
	}
	engine, err := graph.New(coach.Reduce, st, engineOpts...)
	if err != nil {
		return nil, err
	}

	err = coach.Build(engine, coach.DefaultTable(), coach.Deps{
		Model:     chat,
		Invoker:   inv,
		Recorder:  recorder,
		Knowledge: loader,
		Logger:    logger.Named("stage"),
		Metrics:   metrics,
		CapScope:  coach.ParseCapScope(cfg.Engine.CapScope),
		LoopCap:   cfg.Engine.LoopCap,
	})
	if err != nil {
		return nil, err
	}
	s.runner = coach.NewRunner(engine, logger.Named("runner"))
	return s, nil
}

func (s *stack) openStore(cfg config.StoreConfig) (store.Store[coach.State], graph.Locker, error) {
	switch cfg.Driver {
	case "sqlite":
		st, err := store.NewSQLiteStore[coach.State](cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, st)
		return st, nil, nil
	case "mysql":
		st, err := store.NewMySQLStore[coach.State](cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, st)
		return st, nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, client)
		st := store.NewRedisStoreFromClient[coach.State](client,
			store.WithRedisPrefix(cfg.Redis.Prefix),
			store.WithRedisTTL(config.Duration(cfg.Redis.TTL)),
		)
		return st, store.NewRedisLocker(client, cfg.Redis.Prefix), nil
	default:
		return store.NewMemStore[coach.State](), nil, nil
	}
}

// newChatModel builds the configured provider, wrapped with latency metrics
// and, when configured, a fallback for the last attempts of every call.
func newChatModel(cfg config.ModelConfig, metrics *graph.PrometheusMetrics, logger *zap.Logger) (model.ChatModel, error) {
	primary, err := providerModel(cfg, metrics, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Fallback == nil {
		return primary, nil
	}
	secondary, err := providerModel(*cfg.Fallback, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("fallback model: %w", err)
	}
	return &model.Fallback{Primary: primary, Secondary: secondary}, nil
}

func providerModel(cfg config.ModelConfig, metrics *graph.PrometheusMetrics, logger *zap.Logger) (model.ChatModel, error) {
	var m model.ChatModel
	switch cfg.Provider {
	case "openai":
		m = openai.NewChatModel(cfg.APIKey, cfg.Name)
	case "anthropic":
		m = anthropic.NewChatModel(cfg.APIKey, cfg.Name)
	case "google":
		m = google.NewChatModel(cfg.APIKey, cfg.Name)
	case "mock":
		m = demoModel{}
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Provider
	}
	return &model.Instrumented{Model: m, Name: name, Metrics: metrics, Logger: logger.Named("model")}, nil
}

// Close releases everything the stack opened.
func (s *stack) Close(ctx context.Context) {
	if s.tracing != nil {
		if err := s.tracing.Shutdown(ctx); err != nil {
			s.logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
}
