package app

import (
	"context"
	"errors"
	"net/http"

	"gitlab.com/nevasik7/alerting/logger"
)

type HTTPServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Worker is a background loop with its own Start/Stop (scheduler, delivery queue)
type Worker interface {
	Start(ctx context.Context)
	Stop()
}

// App owns the long-running parts. Workers start in order and stop in reverse order.
type App struct {
	log     logger.Logger
	httpSrv HTTPServer
	workers []Worker

	errCh chan error
}

func NewApp(log logger.Logger, httpSrv HTTPServer, workers ...Worker) *App {
	return &App{log: log, httpSrv: httpSrv, workers: workers, errCh: make(chan error, 1)}
}

func (a *App) Start(ctx context.Context) error {
	a.log.Debugf("App started begin...")

	for _, w := range a.workers {
		w.Start(ctx)
	}

	go func() {
		if err := a.httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Errorf("Start HTTP server is error=%v", err)
			a.errCh <- err
		}
	}()

	a.log.Infof("App started")
	return nil
}

// Errors reports a server that died on its own
func (a *App) Errors() <-chan error {
	return a.errCh
}

// Shutdown stops producers of work before the things they feed: scheduler, then queue, then HTTP
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Debugf("App stopped begin...")

	for i := len(a.workers) - 1; i >= 0; i-- {
		a.workers[i].Stop()
	}

	if err := a.httpSrv.Shutdown(ctx); err != nil {
		return err
	}

	a.log.Infof("App stopped")
	return nil
}
