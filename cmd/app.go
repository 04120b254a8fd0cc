package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"guesthouse-sms-agent/handler"
	"guesthouse-sms-agent/internal/config"
	"guesthouse-sms-agent/internal/configcache"
	"guesthouse-sms-agent/internal/domain"
	"guesthouse-sms-agent/internal/integrations/gueststate"
	"guesthouse-sms-agent/internal/integrations/openai"
	"guesthouse-sms-agent/internal/integrations/paramstore"
	"guesthouse-sms-agent/internal/integrations/sms"
	"guesthouse-sms-agent/internal/knowledge"
	"guesthouse-sms-agent/internal/orchestrator"
	"guesthouse-sms-agent/internal/repository"
	"guesthouse-sms-agent/internal/scheduler"
	"guesthouse-sms-agent/internal/telemetry"
	"guesthouse-sms-agent/internal/usecase"
)

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   repository.Store
	admin   *usecase.AdminService
	handler *handler.Handler
	digest  *scheduler.Digest

	shutdownTracer func(context.Context) error
}

// awsLoader loads the shared AWS config on first use so SQLite deployments
// with a static key never need credentials.
type awsLoader struct {
	cfg    aws.Config
	loaded bool
}

func (l *awsLoader) get(ctx context.Context) (aws.Config, error) {
	if l.loaded {
		return l.cfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	l.cfg, l.loaded = cfg, true
	return cfg, nil
}

func loadConfig(ctx context.Context, path, dotenv string) (*config.Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Params.Overlay && cfg.Params.Prefix != "" {
		var loader awsLoader
		awsCfg, err := loader.get(ctx)
		if err != nil {
			return nil, err
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, err
		}
		cfg, err = config.Load(path, paramstore.NewProvider(ctx, ps, cfg.OverlayPath()))
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Log.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

func openStore(ctx context.Context, cfg *config.Config, loader *awsLoader) (repository.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendDynamoDB:
		if loader == nil {
			loader = &awsLoader{}
		}
		awsCfg, err := loader.get(ctx)
		if err != nil {
			return nil, err
		}
		return repository.NewDynamo(awsdynamodb.NewFromConfig(awsCfg), cfg.Store.DynamoTable)
	default:
		return repository.NewSQLite(ctx, cfg.Store.SQLitePath)
	}
}

// disabledChat stands in when no model is configured; the orchestrator
// never calls it.
type disabledChat struct{}

func (disabledChat) Chat(context.Context, string, []domain.ChatMessage) (string, error) {
	return "", errors.New("llm disabled")
}

func newChatClient(ctx context.Context, cfg *config.Config, loader *awsLoader) (orchestrator.ChatClient, error) {
	if cfg.LLM.Model == "" {
		return disabledChat{}, nil
	}
	opts := []openai.Option{
		openai.WithHTTPClient(&http.Client{Timeout: cfg.LLM.Timeout}),
	}
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.LLM.BaseURL))
	}
	if cfg.LLM.APIKey != "" {
		return openai.NewClient(nil, "", append(opts, openai.WithAPIKey(cfg.LLM.APIKey))...)
	}

	awsCfg, err := loader.get(ctx)
	if err != nil {
		return nil, err
	}
	ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}
	return openai.NewClient(ps, cfg.Params.Prefix, opts...)
}

func newApp(ctx context.Context, path, dotenv string) (*app, error) {
	// ---- Configuration ----
	cfg, err := loadConfig(ctx, path, dotenv)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	shutdownTracer, err := telemetry.InitTracer(telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// ---- Clients ----
	loader := &awsLoader{}
	store, err := openStore(ctx, cfg, loader)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	fail := func(err error) (*app, error) {
		_ = store.Close()
		_ = shutdownTracer(context.Background())
		return nil, err
	}

	chat, err := newChatClient(ctx, cfg, loader)
	if err != nil {
		return fail(fmt.Errorf("create llm client: %w", err))
	}
	orch, err := orchestrator.New(chat, cfg.LLM.Model, orchestrator.WithLogger(logger))
	if err != nil {
		return fail(err)
	}
	cache, err := configcache.New(store, configcache.WithLogger(logger))
	if err != nil {
		return fail(err)
	}
	retriever, err := knowledge.New(store)
	if err != nil {
		return fail(err)
	}
	sender := sms.NewLogSender(logger)

	// ---- Services ----
	inbound, err := usecase.NewInboundService(usecase.InboundDeps{
		Store:      store,
		Config:     cache,
		Knowledge:  retriever,
		Classifier: orch,
		GuestState: gueststate.NewStaticLookup(cfg.Guesthouse.GuestState),
		Sender:     sender,
	},
		usecase.WithLocation(loc),
		usecase.WithLogger(logger),
		usecase.WithSenderSerialization(cfg.Pipeline.SerializePerSender),
	)
	if err != nil {
		return fail(err)
	}
	admin, err := usecase.NewAdminService(store, cache, usecase.WithAdminLogger(logger))
	if err != nil {
		return fail(err)
	}
	schedule := cfg.Digest.Schedule
	if schedule == "" {
		schedule = config.Default().Digest.Schedule
	}
	digest, err := scheduler.NewDigest(store, sender, schedule,
		scheduler.WithLocation(loc),
		scheduler.WithStaffPhone(cfg.Digest.StaffPhone),
		scheduler.WithLogger(logger),
	)
	if err != nil {
		return fail(err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(inbound, admin, handler.WithLogger(logger))
	if err != nil {
		return fail(err)
	}

	if _, err := cache.Load(ctx); err != nil {
		logger.Warn("initial config load failed, continuing with empty snapshot", "err", err)
	}

	return &app{
		cfg:            cfg,
		logger:         logger,
		store:          store,
		admin:          admin,
		handler:        h,
		digest:         digest,
		shutdownTracer: shutdownTracer,
	}, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.shutdownTracer(ctx); err != nil {
		a.logger.Warn("tracer shutdown failed", "err", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "err", err)
	}
}
