package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ovalle/stateflow/internal/config"
	"github.com/ovalle/stateflow/internal/database"
	"github.com/ovalle/stateflow/internal/logger"
	"github.com/ovalle/stateflow/internal/observability"
	"github.com/ovalle/stateflow/pkg/completion"
	"github.com/ovalle/stateflow/pkg/conversation"
	"github.com/ovalle/stateflow/pkg/engine"
	"github.com/ovalle/stateflow/pkg/graph"
	"github.com/ovalle/stateflow/pkg/intent"
	"github.com/ovalle/stateflow/pkg/server"
	"github.com/ovalle/stateflow/pkg/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Stateflow server",
	Long: `Run the Stateflow HTTP server in the foreground.
The server exposes the agent graph API, the turn endpoint and the
websocket chat channel until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()

	observability.EnsureRegistered()

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	graphStore, err := graph.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("failed to initialize graph store: %w", err)
	}
	convStore, err := conversation.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("failed to initialize conversation store: %w", err)
	}
	sessions := conversation.NewManager(convStore)

	registry := tools.NewRegistry()
	if err := registry.Register(tools.WeatherDefinition()); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}

	openAI := completion.NewOpenAIProvider(cfg.Providers.OpenAIAPIKey)
	var anthropic completion.Provider
	if cfg.Providers.AnthropicAPIKey != "" {
		anthropic = completion.NewAnthropicProvider(cfg.Providers.AnthropicAPIKey)
	}

	gateway, err := completion.NewGateway(openAI, anthropic, registry, cfg.Engine.CompletionTimeout)
	if err != nil {
		return fmt.Errorf("failed to build completion gateway: %w", err)
	}

	classifier := intent.NewClassifier(gateway, cfg.Engine.ClassifierTimeout)
	picker := completion.NewPicker(cfg.Models.Default, cfg.Models.Allowed)
	orchestrator := engine.NewOrchestrator(graphStore, sessions, gateway, classifier, picker)

	srv, err := server.NewServer(server.Config{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Graph:           graphStore,
		Sessions:        sessions,
		Engine:          orchestrator,
		Classifier:      classifier,
		Picker:          picker,
	})
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	var sweeper *conversation.Sweeper
	if cfg.Sweeper.Enabled {
		sweeper, err = conversation.NewSweeper(sessions, cfg.Sweeper.Schedule, cfg.Sweeper.IdleTTL)
		if err != nil {
			return fmt.Errorf("failed to build sweeper: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Info().
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Path).
		Msg("Stateflow is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Info().Str("signal", sig.String()).Msg("Shutting down")
	return srv.Stop()
}
