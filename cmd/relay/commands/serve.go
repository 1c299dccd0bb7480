package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/inkwellhq/relay/go/cmd/relay/internal/config"
	"github.com/inkwellhq/relay/go/pkg/kv"
	"github.com/inkwellhq/relay/go/pkg/modelsource"
	"github.com/inkwellhq/relay/go/pkg/relay"
	"github.com/inkwellhq/relay/go/pkg/stream"
)

var (
	flagServeAddr    string
	flagServeDataDir string
	flagEchoDelay    time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Long: `Run the relay server: a Badger-backed chunk log with SSE and
WebSocket viewer sessions.

Generations started via POST /v1/streams use the configured model
backend. Without a model (or for requests carrying no model) the
server echoes the prompt word by word, which is handy for demos.

Example:
  relay serve --addr :8080 --data-dir ~/.relay/data`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&flagServeDataDir, "data-dir", "", "Badger directory, empty = in-memory (overrides config)")
	serveCmd.Flags().DurationVar(&flagEchoDelay, "echo-delay", 50*time.Millisecond, "delay between fragments of echoed generations")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if IsVerbose() {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
	logger := slog.Default()

	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	addr := cfg.Addr
	if flagServeAddr != "" {
		addr = flagServeAddr
	}
	dataDir := cfg.DataDir
	if cmd.Flags().Changed("data-dir") {
		dataDir = flagServeDataDir
	}

	store, err := kv.NewBadger(kv.BadgerOptions{
		Dir:      dataDir,
		InMemory: dataDir == "",
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	if dataDir == "" {
		logger.Warn("no data_dir configured, streams will not survive restarts")
	}

	log := stream.NewLog(store)
	reg := stream.NewRegistry()
	prod := stream.NewProducer(log, reg)

	srv := &http.Server{
		Addr: addr,
		Handler: relay.NewServer(relay.Config{
			Log:       log,
			Registry:  reg,
			Producer:  prod,
			NewSource: newSourceFactory(cfg),
			QueueSize: cfg.QueueSize,
		}).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay server listening", "addr", addr, "data_dir", dataDir)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newSourceFactory routes generation requests to the configured backend.
// Requests may override the default model; "echo" always scripts the prompt.
func newSourceFactory(cfg *config.Config) relay.SourceFactory {
	return func(ctx context.Context, req relay.StartRequest) (stream.Source, error) {
		model := cfg.Model
		if req.Model != "" {
			model = req.Model
		}
		switch {
		case model == "" || model == "echo":
			return modelsource.SplitText(req.Prompt, flagEchoDelay), nil
		case cfg.OpenAIAPIKey != "":
			client := openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey))
			return modelsource.OpenAI(ctx, &client, model, req.Prompt), nil
		case cfg.GeminiAPIKey != "":
			client, err := genai.NewClient(ctx, &genai.ClientConfig{
				APIKey:  cfg.GeminiAPIKey,
				Backend: genai.BackendGeminiAPI,
			})
			if err != nil {
				return nil, fmt.Errorf("gemini client: %w", err)
			}
			return modelsource.Gemini(ctx, client, model, req.Prompt), nil
		default:
			return nil, fmt.Errorf("model %q requested but no API key configured", model)
		}
	}
}
