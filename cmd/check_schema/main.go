// Dev tool: verifies the falcon schema is migrated and seeded.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/technosupport/falcon/internal/config"
	"github.com/technosupport/falcon/internal/data"
)

func main() {
	configPath := flag.String("config", "config/default.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	db, err := data.Open(cfg.DSN())
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	tables := []string{"areas", "access_conditions", "detect_events", "bird_risks", "interactions"}
	for _, table := range tables {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1", table).Scan(&count)
		if err != nil {
			log.Fatal(err)
		}
		if count == 0 {
			fmt.Printf("- %s: MISSING (run cmd/migrator -up)\n", table)
			continue
		}
		var rows int
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&rows); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("- %s: ok, %d rows\n", table, rows)
	}
}
