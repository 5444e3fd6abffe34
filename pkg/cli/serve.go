package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/cli/config"
	httpctrl "github.com/secmon-lab/asclepius/pkg/controller/http"
	"github.com/secmon-lab/asclepius/pkg/service/agent"
	"github.com/secmon-lab/asclepius/pkg/service/embedding"
	"github.com/secmon-lab/asclepius/pkg/service/worker"
	"github.com/secmon-lab/asclepius/pkg/usecase"
	"github.com/secmon-lab/asclepius/pkg/utils/async"
	"github.com/secmon-lab/asclepius/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var addr string
	var appCfg config.AppConfig
	var repoCfg config.Repository
	var storageCfg config.Storage
	var authCfg config.Auth
	var agentCfg config.Agent
	var geminiCfg config.Gemini

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("ASCLEPIUS_ADDR"),
			Destination: &addr,
		},
	}

	// Add shared config flags
	flags = append(flags, appCfg.Flags()...)
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, storageCfg.Flags()...)
	flags = append(flags, authCfg.Flags()...)
	flags = append(flags, agentCfg.Flags()...)
	flags = append(flags, geminiCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ragCfg, err := appCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to load RAG configuration")
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logging.Default().Error("failed to close repository", "error", err.Error())
				}
			}()

			blobStorage, closeStorage, err := storageCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize blob storage")
			}
			defer closeStorage()

			authUC, err := authCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to configure authentication")
			}

			agentClient, err := agentCfg.Configure(
				agent.WithHealthTimeout(ragCfg.HealthTimeout),
				agent.WithChatTimeout(ragCfg.GenerationTimeout),
				agent.WithEmbedTimeout(ragCfg.EmbeddingTimeout),
			)
			if err != nil {
				return goerr.Wrap(err, "failed to configure agent client")
			}

			embedOpts := []embedding.Option{embedding.WithTimeout(ragCfg.EmbeddingTimeout)}
			secondary, err := geminiCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize Gemini embedding provider")
			}
			if secondary != nil {
				embedOpts = append(embedOpts, embedding.WithSecondary(secondary))
				logging.Default().Info("Gemini fallback embedding enabled", "gemini", geminiCfg)
			} else {
				logging.Default().Info("Gemini project not configured, embedding has no fallback")
			}

			embedder := embedding.NewClient(embedding.NewAgentProvider(agentClient, agentCfg.Endpoint()), embedOpts...)
			if err := embedder.Validate(); err != nil {
				return goerr.Wrap(err, "invalid embedding configuration")
			}

			dispatcher := async.NewDispatcher()
			uc := usecase.New(repo,
				usecase.WithRAGConfig(ragCfg),
				usecase.WithAgent(agentClient, agentCfg.Endpoint()),
				usecase.WithEmbedder(embedder),
				usecase.WithBlobStorage(blobStorage),
				usecase.WithDispatcher(dispatcher),
				usecase.WithAuth(authUC),
			)

			sweepWorker := worker.NewSessionSweepWorker(uc.Session, ragCfg.SweepInterval)
			if err := sweepWorker.Start(ctx); err != nil {
				return goerr.Wrap(err, "failed to start session sweep worker")
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(uc, httpctrl.WithAuth(authUC)),
				ReadHeaderTimeout: 30 * time.Second,
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server",
					"addr", addr,
					"repository", repoCfg,
					"storage", storageCfg,
					"auth", authCfg,
					"agent", agentCfg,
				)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			select {
			case err := <-errCh:
				sweepWorker.Stop()
				return err
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)

				sweepWorker.Stop()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				// Uploads accepted before shutdown keep embedding until done
				if err := dispatcher.Wait(shutdownCtx); err != nil {
					logging.Default().Warn("upload jobs still running at shutdown", "error", err.Error())
				}

				logging.Default().Info("Server shutdown completed")
				return nil
			}
		},
	}
}
