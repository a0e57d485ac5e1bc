// Package main is the entry point for the chat relay service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oremus-labs/ol-chat-relay/config"
	"github.com/oremus-labs/ol-chat-relay/internal/api"
	"github.com/oremus-labs/ol-chat-relay/internal/chatdb"
	"github.com/oremus-labs/ol-chat-relay/internal/completion"
	"github.com/oremus-labs/ol-chat-relay/internal/handlers"
	"github.com/oremus-labs/ol-chat-relay/internal/hub"
	"github.com/oremus-labs/ol-chat-relay/internal/lmstudio"
	"github.com/oremus-labs/ol-chat-relay/internal/logutil"
	"github.com/oremus-labs/ol-chat-relay/internal/markup"
	"github.com/oremus-labs/ol-chat-relay/internal/mirror"
	"github.com/oremus-labs/ol-chat-relay/internal/orchestrator"
	"github.com/oremus-labs/ol-chat-relay/internal/tools"
	"github.com/oremus-labs/ol-chat-relay/internal/transcript"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 5 * time.Second
)

// backendManager is the slice of lmstudio.Manager the server drives.
type backendManager interface {
	Ensure(ctx context.Context) error
	UnloadModel(ctx context.Context) error
	Stop(ctx context.Context) error
}

var newBackend = func(cfg *config.Config) backendManager {
	return lmstudio.New(lmstudio.Options{
		Binary:  cfg.LMSBinary,
		Model:   cfg.ModelName,
		APIBase: cfg.APIBase,
		APIKey:  cfg.APIKey,
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		_ = logutil.Init("info", "json")
		logutil.Error("Failed to load configuration", err, nil)
		logutil.Sync()
		os.Exit(1)
	}
	if err := logutil.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		logutil.Error("Chat relay failed", err, nil)
		logutil.Sync()
		os.Exit(1)
	}
	logutil.Sync()
}

// run serves until a signal arrives. Every resource acquired here is
// released by a deferred call, so startup failures also clean up.
func run(cfg *config.Config) error {
	logutil.Info("Starting chat relay", map[string]interface{}{
		"version":   version,
		"api_base":  cfg.APIBase,
		"model":     cfg.ModelName,
		"max_round": cfg.MaxToolRounds,
	})

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Make sure the model backend answers before taking messages.
	if cfg.ManageBackend {
		backend := newBackend(cfg)
		defer stopBackend(backend, cfg.UnloadOnExit)
		if err := backend.Ensure(rootCtx); err != nil {
			return fmt.Errorf("prepare LM Studio: %w", err)
		}
	}

	registry := tools.NewRegistry()
	registry.MustRegister(tools.MathTools()...)

	handlerOpts := handlers.Options{Shutdown: rootCtx}
	if cfg.DataStoreDriver != "" && cfg.DataStoreDriver != "none" {
		db, err := chatdb.Open(cfg.DataStoreDSN, cfg.DataStoreDriver)
		if err != nil {
			return fmt.Errorf("open chat database: %w", err)
		}
		defer db.Close()
		registry.MustRegister(tools.DirectoryTools(db)...)
		handlerOpts.Database = db
		logutil.Info("Directory tools enabled", map[string]interface{}{"driver": cfg.DataStoreDriver})
	}

	hubOpts := hub.Options{
		ConnectedMessage: cfg.ConnectedMessage,
		Buffer:           cfg.SubscriberBuffer,
		PollInterval:     cfg.PollInterval,
	}
	redisClient, err := mirror.Connect(rootCtx, mirror.Config{
		Addr:        cfg.RedisAddr,
		Username:    cfg.RedisUsername,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		TLSEnabled:  cfg.RedisTLSEnabled,
		TLSInsecure: cfg.RedisTLSInsecure,
	})
	if err != nil {
		logutil.Error("Event mirror disabled", err, nil)
	} else if redisClient != nil {
		defer redisClient.Close()
		hubOpts.Mirror = mirror.NewPublisher(redisClient, cfg.EventsChannel)
		logutil.Info("Mirroring events to Redis", map[string]interface{}{"channel": cfg.EventsChannel})
	}
	events := hub.New(hubOpts)

	history := transcript.New(registry.SystemPrompt(markup.OpenTag, markup.CloseTag))
	model := completion.New(completion.Config{
		BaseURL:               cfg.APIBase,
		APIKey:                cfg.APIKey,
		Model:                 cfg.ModelName,
		Buffer:                cfg.StreamBuffer,
		ResponseHeaderTimeout: cfg.RequestTimeout,
	})
	turns := orchestrator.New(history, model, registry, events, cfg.MaxToolRounds)

	handler := handlers.New(events, history, registry, handlerOpts)
	server := api.NewServer(handler, api.Options{APIToken: cfg.APIToken})

	serveErrs := make(chan error, 1)
	srv := server.Start(":"+cfg.ServerPort, serveErrs)
	logutil.Info("Server listening", map[string]interface{}{"port": cfg.ServerPort})

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		return turns.Run(gctx, events)
	})

	var runErr error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	select {
	case sig := <-quit:
		logutil.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	case runErr = <-serveErrs:
		runErr = fmt.Errorf("serve http: %w", runErr)
	case <-gctx.Done():
		logutil.Warn("Turn loop stopped", nil)
	}

	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logutil.Error("Server forced to shutdown", err, nil)
	}
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = fmt.Errorf("turn loop: %w", err)
	}

	logutil.Info("Server stopped", nil)
	return runErr
}

// stopBackend unloads the model when asked and stops a server this process
// started. It runs on its own deadline since the root context is gone by then.
func stopBackend(backend backendManager, unload bool) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if unload {
		if err := backend.UnloadModel(ctx); err != nil {
			logutil.Error("Failed to unload model", err, nil)
		}
	}
	if err := backend.Stop(ctx); err != nil {
		logutil.Error("Failed to stop LM Studio", err, nil)
	}
}
