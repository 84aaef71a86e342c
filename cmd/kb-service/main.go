// Command kb-service serves the workflow knowledge base: tool-style queries
// over an in-memory corpus snapshot refreshed periodically from disk.
package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/workflowhub/kbservice/pkg/corpus"
	"github.com/workflowhub/kbservice/pkg/log"
	"github.com/workflowhub/kbservice/pkg/ratelimit"
	"github.com/workflowhub/kbservice/pkg/search"
	"github.com/workflowhub/kbservice/pkg/snapshot"
	"github.com/workflowhub/kbservice/pkg/tools"
	"github.com/workflowhub/kbservice/pkg/tracing"
	"github.com/workflowhub/kbservice/pkg/validate"
	"github.com/workflowhub/kbservice/pkg/web"
)

const defaultPort = 8080

func main() {
	logger := log.WithModule("kb-service")

	cmd := &cli.Command{
		Name:                  "kb-service",
		Usage:                 "Serve the workflow knowledge base query API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "corpus",
				Usage:    "Directory containing workflow JSON files and the anti-pattern rule file",
				Required: true,
				Sources:  cli.EnvVars("CORPUS_PATH"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.DurationFlag{
				Name:    "refresh-interval",
				Usage:   "How often the corpus snapshot is rebuilt from disk",
				Value:   snapshot.DefaultInterval,
				Sources: cli.EnvVars("REFRESH_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent",
				Usage:   "Concurrent in-flight requests allowed per client",
				Value:   ratelimit.DefaultMaxConcurrent,
				Sources: cli.EnvVars("RATE_LIMIT_MAX_CONCURRENT"),
			},
			&cli.IntFlag{
				Name:    "max-hourly",
				Usage:   "Requests allowed per client per trailing hour",
				Value:   ratelimit.DefaultMaxPerWindow,
				Sources: cli.EnvVars("RATE_LIMIT_MAX_HOURLY"),
			},
			&cli.StringFlag{
				Name:    "rate-limit-store",
				Usage:   "Rate-limit store URL (redis:// for shared state, empty for in-process)",
				Sources: cli.EnvVars("RATE_LIMIT_STORE_URL"),
			},
			&cli.DurationFlag{
				Name:    "min-message-delay",
				Usage:   "Smallest acceptable inter-step delay for messaging steps",
				Value:   validate.DefaultMinMessageDelay,
				Sources: cli.EnvVars("MIN_MESSAGE_DELAY"),
			},
			&cli.DurationFlag{
				Name:    "request-timeout",
				Usage:   "Per-request processing time limit",
				Value:   tools.DefaultTimeout,
				Sources: cli.EnvVars("REQUEST_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "tracing-endpoint",
				Usage:   "OTLP/HTTP endpoint for trace export (tracing disabled when empty)",
				Sources: cli.EnvVars("TRACING_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing knowledge base service")

			var tracer trace.Tracer

			if endpoint := command.String("tracing-endpoint"); endpoint != "" {
				provider, err := tracing.NewProvider(ctx, "kb-service", endpoint)
				if err != nil {
					return err
				}

				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()

					if err := provider.Shutdown(shutdownCtx); err != nil {
						logger.Error("Failed to shut down tracer provider", "error", err)
					}
				}()

				tracer = provider.Tracer("kb-service")
			}

			loader := corpus.NewLoader(command.String("corpus"), logger)

			snapshots := snapshot.NewManager(loader, command.Duration("refresh-interval"), logger)
			if err := snapshots.Start(ctx); err != nil {
				return err
			}
			defer snapshots.Stop()

			limiter, err := ratelimit.NewStore(command.String("rate-limit-store"), ratelimit.Config{
				MaxConcurrent: command.Int("max-concurrent"),
				MaxPerWindow:  command.Int("max-hourly"),
			}, logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := limiter.Close(); err != nil {
					logger.Error("Failed to close rate-limit store", "error", err)
				}
			}()

			workflowValidator, err := validate.NewValidator(validate.Config{
				MinMessageDelay: command.Duration("min-message-delay"),
			}, logger)
			if err != nil {
				return err
			}

			dispatcher := tools.NewDispatcher(
				snapshots,
				limiter,
				search.NewEngine(search.DefaultWeights()),
				workflowValidator,
				tracer,
				logger,
				command.Duration("request-timeout"),
			)

			server := web.NewServer(dispatcher, snapshots, logger)

			if err := server.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
