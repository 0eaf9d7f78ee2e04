package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wolftax/oferta_tools/internal/model"
	"github.com/wolftax/oferta_tools/internal/server"
	"github.com/wolftax/oferta_tools/pkg/config"
	"github.com/wolftax/oferta_tools/pkg/database"
	"github.com/wolftax/oferta_tools/pkg/logger"
	"github.com/wolftax/oferta_tools/pkg/util"
)

func main() {
	configFile := flag.String("config", "config.yaml", "configuration file path")
	flag.Parse()

	if err := config.Init(*configFile); err != nil {
		fmt.Printf("config file not loaded, using defaults: %v\n", err)
	}

	if err := util.InitNode(config.GetUint64("server.node_id")); err != nil {
		fmt.Printf("init id generator failed: %v\n", err)
		os.Exit(1)
	}

	logger.Init()
	defer logger.Sync()

	if err := database.Init(); err != nil {
		logger.Fatal("init database failed", logger.F("error", err.Error()))
	}
	defer database.Close()

	if err := model.AutoMigrate(database.GetDB()); err != nil {
		logger.Fatal("migrate database failed", logger.F("error", err.Error()))
	}

	if err := server.Start(); err != nil {
		logger.Fatal("server exited", logger.F("error", err.Error()))
	}
}
