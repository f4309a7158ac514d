package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thirdpath/thirdpath/internal/pkg/bootstrap"
	"github.com/thirdpath/thirdpath/internal/pkg/config"
	"github.com/thirdpath/thirdpath/internal/pkg/env"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "thirdpath",
		Short:         "Checkout, download and group-admission service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(capacityCmd())
	rootCmd.AddCommand(deadLettersCmd())
	rootCmd.AddCommand(icsCmd())
	rootCmd.AddCommand(statsCmd())

	return rootCmd
}

// loadServices reads .env and the environment, then wires the services.
// Callers own the returned Services and must Close them.
func loadServices(ctx context.Context) (*bootstrap.Services, error) {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return bootstrap.New(ctx, cfg)
}
