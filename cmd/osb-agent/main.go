package main

import (
	app "osb-tracker/internal/app/server"
	"osb-tracker/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)
	app.Run(cfg)
}
