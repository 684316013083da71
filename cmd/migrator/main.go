package main

import (
	"flag"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/technosupport/falcon/internal/config"
	"github.com/technosupport/falcon/internal/data"
)

func main() {
	configPath := flag.String("config", "config/default.yaml", "Path to config file")
	source := flag.String("source", "file://db/migrations", "Migration source")
	up := flag.Bool("up", false, "Apply all up migrations")
	down := flag.Bool("down", false, "Roll back all migrations")
	steps := flag.Int("steps", 0, "Apply +/- N steps")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[FATAL] Migrator: load config: %v", err)
	}

	db, err := data.Open(cfg.DSN())
	if err != nil {
		log.Fatalf("[FATAL] Migrator: %v", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("[FATAL] Migrator: create driver: %v", err)
	}
	m, err := migrate.NewWithDatabaseInstance(*source, "postgres", driver)
	if err != nil {
		log.Fatalf("[FATAL] Migrator: init: %v", err)
	}

	start := time.Now()
	switch {
	case *up:
		log.Printf("[INFO] Migrator: applying up migrations")
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("[FATAL] Migrator: up: %v", err)
		}
	case *down:
		log.Printf("[INFO] Migrator: rolling back all migrations")
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("[FATAL] Migrator: down: %v", err)
		}
	case *steps != 0:
		log.Printf("[INFO] Migrator: applying %d steps", *steps)
		if err := m.Steps(*steps); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("[FATAL] Migrator: steps: %v", err)
		}
	default:
		version, dirty, err := m.Version()
		if err != nil {
			log.Printf("[INFO] Migrator: no version recorded (empty database?)")
		} else {
			log.Printf("[INFO] Migrator: version %d, dirty=%v", version, dirty)
		}
		return
	}
	log.Printf("[INFO] Migrator: done in %v", time.Since(start))
}
