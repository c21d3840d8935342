package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soundprediction/chronograph/pkg/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP API server",
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().String("host", "", "host to bind to")
	serverCmd.Flags().Int("port", 0, "port to listen on")
	serverCmd.Flags().String("mode", "", "gin mode (debug, release, test)")

	_ = viper.BindPFlag("server.host", serverCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serverCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.mode", serverCmd.Flags().Lookup("mode"))

	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := server.New(rt.cfg, rt.client, rt.logger)
	srv.Setup()

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("starting server", "host", rt.cfg.Server.Host, "port", rt.cfg.Server.Port)
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	rt.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		rt.logger.Error("server forced to shutdown", "error", err)
		return err
	}
	rt.logger.Info("server exited")
	return nil
}
