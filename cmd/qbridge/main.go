package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"qbridge/internal/account"
	"qbridge/internal/auth"
	"qbridge/internal/config"
	"qbridge/internal/db"
	"qbridge/internal/metrics"
	"qbridge/internal/monitor"
	"qbridge/internal/server"
	"qbridge/internal/translator"
	"qbridge/internal/upstream"
)

func main() {
	configPath := flag.String("config", "qbridge.yaml", "path to config file")
	staticDir := flag.String("static", "static", "dashboard directory served at /")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := account.NewStore(cfg.Accounts.File)
	if err != nil {
		log.Fatalf("Failed to load account pool: %v", err)
	}
	defer store.Close()
	if err := store.Watch(); err != nil {
		log.Printf("⚠️ Account file watching disabled: %v", err)
	}
	metrics.ActiveAccounts.Set(float64(store.Len()))

	client := upstream.NewClient(
		cfg.Backend.APIEndpoint,
		cfg.Backend.AuthEndpoint,
		cfg.Backend.RefreshTimeout,
		cfg.Backend.ChatTimeout,
	)
	manager := auth.NewManager(store, client)

	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		database, err := db.InitDB(cfg.Monitor.DBPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		mon = monitor.New(database)
	}

	sweeper := auth.NewSweeper(manager, cfg.Accounts.SweepInterval, cfg.Accounts.StaleAfter)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start renewal sweep: %v", err)
	}
	defer sweeper.Stop()

	router := server.NewRouter(server.Deps{
		Store:      store,
		Manager:    manager,
		Client:     client,
		Translator: translator.New(cfg.Backend.DefaultModel),
		Monitor:    mon,
		StaticDir:  *staticDir,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("🚀 qbridge listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
