package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"FinScreen/internal/di"
	"FinScreen/internal/service/version"
	"FinScreen/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "config file path (empty runs the built-in defaults)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.NewManager().CodeVersion())
		return
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("finscreen %s env=%s provider=%s cache=%s",
		version.NewManager().CodeVersion(), cfg.App.Environment, cfg.Screening.Provider, cfg.Cache.Backend)

	// Everything downstream of config comes out of the DI graph.
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if cfg.Screening.Provider == "clickhouse" {
		log.Printf("clickhouse: connected and schema ready - db: %s", cfg.ClickHouse.Database)
	}
	if cfg.Kafka.Enabled {
		log.Printf("kafka: brokers=%v requests=%s results=%s", cfg.Kafka.Brokers, cfg.Kafka.RequestsTopic, cfg.Kafka.ResultsTopic)
	}

	// Blocks until SIGINT/SIGTERM.
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
