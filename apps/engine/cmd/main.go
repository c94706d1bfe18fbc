package main

import (
	"context"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/util"

	appconfig "github.com/antinvestor/pilot/apps/engine/config"
	"github.com/antinvestor/pilot/internal/engine"
	"github.com/antinvestor/pilot/internal/events"
	"github.com/antinvestor/pilot/internal/platform"
	"github.com/antinvestor/pilot/internal/transport"
)

func main() {
	ctx := context.Background()

	// Initialize configuration
	cfg, err := config.LoadWithOIDC[appconfig.EngineConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "pilot_engine"
	}

	// Create service with Frame
	ctx, svc := frame.NewServiceWithContext(
		ctx,
		frame.WithConfig(&cfg),
	)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	// ==========================================================================
	// Resolve Capabilities
	// ==========================================================================

	gitPlatform, err := engine.OpenPlatform(ctx, cfg.PlatformURI)
	if err != nil {
		log.WithError(err).Fatal("could not resolve git platform")
	}
	gitPlatform = platform.WithRetry(gitPlatform, platform.RetryConfig{
		InitialInterval: cfg.RetryInitial(),
		MaxInterval:     cfg.RetryMax(),
		MaxElapsed:      cfg.RetryElapsed(),
	})

	agent, err := engine.OpenAgent(ctx, cfg.AgentURI)
	if err != nil {
		log.WithError(err).Fatal("could not resolve coding agent")
	}

	// ==========================================================================
	// Assemble Engine
	// ==========================================================================

	store := events.NewStore()
	hub := transport.NewHub()

	eng, err := engine.New(engine.Config{
		BotLogin:        cfg.BotLogin,
		BaseBranch:      cfg.BaseBranch,
		WorkDir:         cfg.WorkDir,
		IncludeLabels:   cfg.IncludeLabels,
		ExcludeLabels:   cfg.ExcludeLabels,
		AutoApprove:     cfg.AutoApprove,
		ApprovalTimeout: cfg.ApprovalTimeout(),
		CIPollInterval:  cfg.CIPollInterval(),
		CITimeout:       cfg.CITimeout(),
	}, gitPlatform, agent, store, hub)
	if err != nil {
		log.WithError(err).Fatal("could not create engine")
	}

	if err = eng.Initialize(ctx); err != nil {
		log.WithError(err).Fatal("could not initialize engine")
	}

	poller := engine.NewPoller(eng, cfg.PollInterval())
	runner := transport.NewRunner(ctx, eng, poller)
	server := transport.NewServer(runner, hub, transport.ServerConfig{
		CommandsPerMinute: cfg.CommandsPerMinute,
		CommandBurst:      cfg.CommandBurst,
	})

	// ==========================================================================
	// Initialize Service
	// ==========================================================================

	svc.Init(ctx, frame.WithHTTPHandler(server.Handler()))

	if cfg.StartImmediately {
		poller.Start(ctx, cfg.RunOnce)
	}
	defer func() {
		poller.Stop()
		if derr := eng.Dispose(); derr != nil {
			log.WithError(derr).Warn("engine dispose failed")
		}
		hub.Dispose()
	}()

	// ==========================================================================
	// Start the Service
	// ==========================================================================

	log.Info("Starting pilot engine service...")
	err = svc.Run(ctx, "")
	if err != nil {
		log.WithError(err).Fatal("could not run server")
	}
}
