package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/spf13/cobra"

	"github.com/thirdpath/thirdpath/docs"
	"github.com/thirdpath/thirdpath/internal/pkg/bootstrap"
	"github.com/thirdpath/thirdpath/internal/pkg/router"
)

const (
	bodyLimit       = 1 << 20 // 1 MiB
	shutdownTimeout = 10 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the mail workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	svc, err := loadServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	app := NewApplication(svc)
	svc.Start()

	errCh := make(chan error, 1)
	go func() {
		addr := svc.Config.ListenAddr()
		log.Infof("[Server] listening on %s (%s)", addr, svc.Config.App.Env)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("[Server] shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// NewApplication builds the fiber app around the wired services.
func NewApplication(svc *bootstrap.Services) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "thirdpath " + Version,
		BodyLimit:             bodyLimit,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          2 * time.Minute,
		DisableStartupMessage: !svc.Config.IsDev(),
	})

	router.InstallRouter(app, router.Options{
		Handlers:       svc.Handlers,
		Metrics:        svc.Metrics,
		MetricsAuth:    svc.Config.Metrics,
		LimiterStorage: router.LimiterStorage(svc.Config.Redis),
		OpenAPIFile:    docs.OpenAPIPath,
	})
	return app
}
