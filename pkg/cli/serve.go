package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/kurame123/Yuki-bot/pkg/cli/config"
	httpctrl "github.com/kurame123/Yuki-bot/pkg/controller/http"
	"github.com/kurame123/Yuki-bot/pkg/service/worker"
	"github.com/kurame123/Yuki-bot/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var addr string
	var maintenanceInterval time.Duration
	var queueSize int

	var repoCfg config.Repository
	var geminiCfg config.Gemini
	var personaCfg config.Persona

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("YUKI_ADDR"),
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "maintenance-interval",
			Usage:       "Interval between scheduled GC and graph cleanup runs",
			Value:       time.Hour,
			Sources:     cli.EnvVars("YUKI_MAINTENANCE_INTERVAL"),
			Destination: &maintenanceInterval,
		},
		&cli.IntFlag{
			Name:        "queue-size",
			Usage:       "Post-turn job queue capacity",
			Value:       256,
			Sources:     cli.EnvVars("YUKI_QUEUE_SIZE"),
			Destination: &queueSize,
		},
	}
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, geminiCfg.Flags()...)
	flags = append(flags, personaCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server with post-turn workers",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			app, err := buildApp(ctx, &repoCfg, &geminiCfg, &personaCfg,
				worker.WithQueueSize(queueSize),
				worker.WithMaintenanceInterval(maintenanceInterval))
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			if err := app.Queue.Start(ctx); err != nil {
				return goerr.Wrap(err, "failed to start post-turn worker")
			}

			httpHandler, err := httpctrl.New(app.UseCases)
			if err != nil {
				return goerr.Wrap(err, "failed to create http server")
			}
			server := &http.Server{
				Addr:              addr,
				Handler:           httpHandler,
				ReadHeaderTimeout: 30 * time.Second,
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server", "addr", addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			select {
			case err := <-errCh:
				app.Queue.Stop()
				return err
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)

				app.Queue.Stop()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				logging.Default().Info("Server shutdown completed")
				return nil
			}
		},
	}
}
