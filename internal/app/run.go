package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"poolwatch/internal/config"
)

// Run assembles the container, starts it, waits for a signal and stops
func Run(cfg *config.Config) error {
	ctxBuild, cancelBuild := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBuild()

	container, cleanup, err := Build(ctxBuild, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = container.Start(sigCtx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-sigCtx.Done():
	case runErr = <-container.app.Errors():
		runErr = fmt.Errorf("http server stopped, error=%w", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err = container.Stop(shutdownCtx); err != nil {
		return err
	}
	return runErr
}
