package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"Backtest/internal/domain/models"
	"Backtest/internal/usecase"
	"Backtest/pkg/config"
	xhttp "Backtest/pkg/http"
	applogger "Backtest/pkg/logger"
	"Backtest/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	backtester *usecase.Backtester
	consumer   *queue.RedisQueue
	publisher  *queue.RedisQueue
	httpServer *xhttp.Server
	closers    []io.Closer
}

// New creates a new App instance. consumer, publisher and httpServer may be
// nil; closers are released on shutdown in reverse order.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	backtester *usecase.Backtester,
	consumer *queue.RedisQueue,
	publisher *queue.RedisQueue,
	httpServer *xhttp.Server,
	closers ...io.Closer,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		backtester: backtester,
		consumer:   consumer,
		publisher:  publisher,
		httpServer: httpServer,
		closers:    closers,
	}
}

// Serving reports whether the app has anything to do besides a one-shot run.
func (a *App) Serving() bool {
	return a.httpServer != nil || a.consumer != nil
}

// RunOnce replays the feed and strategies named in the configuration.
func (a *App) RunOnce(ctx context.Context) (*models.RunResult, error) {
	opts, err := a.cfg.FeedOptions()
	if err != nil {
		return nil, err
	}
	if len(a.cfg.Strategies) == 0 {
		return nil, errors.New("no strategies configured")
	}
	return a.backtester.Run(ctx, models.RunSpec{Feed: opts, Strategies: a.cfg.Strategies})
}

// Run starts the configured services and blocks until ctx is cancelled.
// Without any service it performs one run from the configuration and returns.
func (a *App) Run(ctx context.Context) error {
	defer a.shutdown()

	if !a.Serving() {
		_, err := a.RunOnce(ctx)
		return err
	}

	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start queue consumer: %w", err)
		}
	}
	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}

	if a.cfg.Replay.RunOnStart {
		go func() {
			if _, err := a.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("startup run failed", applogger.Error(err))
			}
		}()
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return nil
}

// shutdown gracefully stops all services.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("queue consumer stop error", applogger.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Stop(ctx); err != nil {
			a.log.Warn("queue publisher stop error", applogger.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("close error", applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}
