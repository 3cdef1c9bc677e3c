// Package server initializes and runs the authoritative sync remote.
// It selects the record storage backend, handles graceful shutdown and
// starts the gRPC endpoint.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/tourkeeper/internal/logging"
	"github.com/dmitrijs2005/tourkeeper/internal/server/config"
	"github.com/dmitrijs2005/tourkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tourkeeper/internal/server/services"

	gs "github.com/dmitrijs2005/tourkeeper/internal/server/grpc"
)

type App struct {
	config        *config.Config
	logger        logging.Logger
	repomanager   repomanager.RepositoryManager
	recordService *services.RecordService
}

// NewApp wires storage and services. An empty DatabaseDSN keeps records in
// memory.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	var rm repomanager.RepositoryManager
	if c.DatabaseDSN == "" {
		logger.Warn(ctx, "no database configured, records are kept in memory")
		rm = repomanager.NewInMemoryRepositoryManager()
	} else {
		pm, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		rm = pm
	}

	rs := services.NewRecordService(rm, logger, c.ChangesPageLimit)

	return &App{config: c, logger: logger, repomanager: rm, recordService: rs}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.recordService,
		app.config.SecretKey, app.config.ApplyRateLimit, app.config.ApplyBurst)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.repomanager.Close(); err != nil {
		app.logger.Error(ctx, "failed to close storage", "error", err.Error())
	}
	app.logger.Info(ctx, "Stopped")
}
