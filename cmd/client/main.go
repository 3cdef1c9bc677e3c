package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/dmitrijs2005/tourkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/tourkeeper/internal/client/cli"
	"github.com/dmitrijs2005/tourkeeper/internal/client/config"
	"github.com/dmitrijs2005/tourkeeper/internal/logging"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.NewFileLogger(cfg.LogFile, slog.LevelInfo)

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}

}
