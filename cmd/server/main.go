package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/tourkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/tourkeeper/internal/logging"
	"github.com/dmitrijs2005/tourkeeper/internal/server"
	"github.com/dmitrijs2005/tourkeeper/internal/server/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg, logging.NewJSONLogger())

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
