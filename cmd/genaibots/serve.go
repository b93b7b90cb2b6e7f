package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/behavior"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/config"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/genai"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/httpapi"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/queue"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/threadqueue"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/turn"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: HTTP API, platform listeners and thread queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger())
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	shutdownTracing, err := setupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	// The discord sink is bound before the orchestrator exists; messages only flow
	// once the listener is started below.
	var orch *behavior.Orchestrator
	sink := func(ctx context.Context, event messaging.IncomingEvent) {
		outcome, err := orch.HandleIncoming(ctx, event)
		if err != nil {
			logger.Printf("incoming message failed platform=%s channel_id=%s message_id=%s err=%v", event.Platform, event.ChannelID, event.MessageID, err)
			return
		}
		logger.Printf("incoming message platform=%s channel_id=%s thread_id=%s message_id=%s outcome=%s", event.Platform, event.ChannelID, event.ThreadID, event.MessageID, outcome)
	}

	rt, err := openRuntime(ctx, cfg, logger, sink)
	if err != nil {
		return err
	}
	defer rt.Close()

	turns := turn.New(rt.dispatcher, turn.WithLogger(logger), turn.WithReactions(reactionsFromConfig(cfg.Reactions)))

	provider, err := newProvider(cfg.GenAI)
	if err != nil {
		return err
	}

	orch, err = behavior.New(behavior.Settings{
		RequireMentionNewMessage:    cfg.Behavior.RequireMentionNewMessage,
		RequireMentionThreadMessage: cfg.Behavior.RequireMentionThreadMessage,
		BreakKeyword:                cfg.Behavior.BreakKeyword,
		StartKeyword:                cfg.Behavior.StartKeyword,
		ClearQueueKeyword:           cfg.Behavior.ClearQueueKeyword,
		AllowedChannels:             cfg.Behavior.AllowedChannels,
		HistoryLimit:                cfg.Behavior.HistoryLimit,
		SystemPrompt:                cfg.Behavior.SystemPrompt,
		Model:                       cfg.GenAI.Model,
		MaxTokens:                   cfg.GenAI.MaxTokens,
	}, rt.dispatcher, turns, provider, rt.sessions, behavior.WithLogger(logger))
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := threadqueue.NewMetrics()
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	engineOpts := append(orch.EngineOptions(),
		threadqueue.WithLogger(logger),
		threadqueue.WithTTL(cfg.Queue.MessageTTL),
		threadqueue.WithSweepContainers(cfg.Queue.EventTTL, queue.ContainerInternalEvents, queue.ContainerExternalEvents, queue.ContainerDeadLetter),
		threadqueue.WithAtMostOnePending(cfg.Queue.DisableQueuing),
		threadqueue.WithMetrics(metrics),
	)
	engine := threadqueue.New(rt.store, orch.Handle, engineOpts...)
	orch.Bind(engine)

	replayed, err := rt.dispatcher.Replay(ctx)
	if err != nil {
		logger.Printf("event replay incomplete: %v", err)
	}
	logger.Printf("event replay done replayed=%d", len(replayed))

	recovered, err := engine.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover queues: %w", err)
	}
	logger.Printf("queue recovery done scheduled=%d", recovered)

	go engine.RunSweeper(ctx, cfg.Queue.SweepInterval)

	srv := httpapi.NewServer(logger, httpapi.Config{
		Addr:      cfg.HTTPAddr,
		RateLimit: cfg.RateLimit,
		Platform:  rt.rest.Name(),
		Stream:    rt.hub,
		Metrics:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, orch, rt.rest, engine)

	errCh := make(chan error, 2)
	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server crashed: %w", err)
		}
	}()

	if rt.discord != nil {
		if err := rt.discord.Start(ctx); err != nil {
			errCh <- err
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Printf("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http server shutdown error: %v", err)
	}
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Printf("queue engine shutdown error: %v", err)
	}
	return runErr
}

func newProvider(cfg config.GenAIConfig) (genai.Provider, error) {
	providers := genai.NewRegistry()
	anthropic, err := genai.NewAnthropicProvider(cfg.AnthropicAPIKey,
		genai.WithAnthropicModel(cfg.Model),
		genai.WithAnthropicMaxTokens(cfg.MaxTokens),
		genai.WithPricing(genai.Pricing{InputPer1K: cfg.InputTokenPrice, OutputPer1K: cfg.OutputTokenPrice}),
	)
	if err != nil {
		return nil, err
	}
	if err := providers.Register("anthropic", anthropic); err != nil {
		return nil, err
	}

	inner, err := providers.Resolve(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if cfg.BreakerThreshold <= 0 {
		return inner, nil
	}
	return genai.NewBreaker(cfg.Provider, inner, uint32(cfg.BreakerThreshold), cfg.BreakerCooldown), nil
}

func reactionsFromConfig(overrides map[string]string) turn.Reactions {
	named := make(map[turn.Status]string, len(overrides))
	for status, name := range overrides {
		named[turn.Status(strings.ToUpper(strings.TrimSpace(status)))] = strings.TrimSpace(name)
	}
	return turn.DefaultReactions().Merge(named)
}
