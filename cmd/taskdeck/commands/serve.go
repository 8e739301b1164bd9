package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskdeck-ai/taskdeck/internal/agent"
	"github.com/taskdeck-ai/taskdeck/internal/config"
	"github.com/taskdeck-ai/taskdeck/internal/engine"
	"github.com/taskdeck-ai/taskdeck/internal/event"
	"github.com/taskdeck-ai/taskdeck/internal/lifecycle"
	"github.com/taskdeck-ai/taskdeck/internal/logging"
	"github.com/taskdeck-ai/taskdeck/internal/server"
	"github.com/taskdeck-ai/taskdeck/internal/storage"
	"github.com/taskdeck-ai/taskdeck/internal/task"
)

var (
	servePort      int
	serveEngineURL string
	serveDir       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the taskdeck workbench server",
	Long: `Start taskdeck as a server that exposes the task and conversation API
over HTTP and streams task events over SSE.

The server connects to an agent execution engine; point --engine-url at
its base URL.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on")
	serveCmd.Flags().StringVar(&serveEngineURL, "engine-url", "", "Agent execution engine base URL")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveEngineURL != "" {
		cfg.EngineURL = serveEngineURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if prettyLogs {
		cfg.PrettyLogs = true
	}

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Pretty: cfg.PrettyLogs,
	})
	log := logging.Component("serve")

	log.Info().
		Str("version", Version).
		Str("workDir", workDir).
		Str("engineURL", cfg.EngineURL).
		Str("dataDir", cfg.DataDir).
		Msg("starting taskdeck server")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	store := storage.New(cfg.DataDir)
	bus := event.NewBus()

	client := engine.NewClient(cfg.EngineURL)
	caps := engine.NewCapabilities(client)

	tasks := task.NewService(store)

	profiles := agent.NewRegistry()
	if cfg.ProfilesDir != "" {
		if err := profiles.LoadDir(cfg.ProfilesDir); err != nil {
			log.Warn().Err(err).Str("dir", cfg.ProfilesDir).Msg("failed to load agent profiles")
		}
	}

	manager := lifecycle.NewManager(lifecycle.Deps{
		Engine:   client,
		Caps:     caps,
		Tasks:    tasks,
		Profiles: profiles,
		Bus:      bus,
		Local:    store,
		Feed:     client,
	})

	serverConfig := server.DefaultConfig()
	serverConfig.Port = cfg.Port
	serverConfig.EnableCORS = cfg.EnableCORS

	srv := server.New(serverConfig, tasks, manager, profiles, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Config file edits apply the log level live; anything else needs a
	// restart.
	go func() {
		err := config.Watch(ctx, workDir, func(next *config.Config) {
			logging.Init(logging.Config{
				Level:  logging.ParseLevel(next.LogLevel),
				Pretty: next.PrettyLogs,
			})
			log.Info().Str("logLevel", next.LogLevel).Msg("configuration reloaded")
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("config watch stopped")
		}
	}()

	go func() {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}

	// Unmounting flushes pending conversation snapshots.
	manager.CloseAll()
	if err := bus.Close(); err != nil {
		log.Warn().Err(err).Msg("event bus close error")
	}

	log.Info().Msg("server stopped")
	return nil
}
