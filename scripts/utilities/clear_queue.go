//go:build ignore

// Clears the hype queue (and optionally the activity log) of a development
// database. Accounts, credentials and preferences are kept.
//
//	go run scripts/utilities/clear_queue.go [-activity]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/hypetrain/hypetrain/internal/config"
	"github.com/hypetrain/hypetrain/internal/database"
)

func main() {
	withActivity := flag.Bool("activity", false, "also clear the activity log")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		log.Fatalf("STORE_DRIVER=%s has nothing to clear", cfg.Database.Driver)
	}

	url, err := database.BuildDatabaseURL(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to build database URL: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbCfg := database.DefaultConfig()
	dbCfg.URL = url
	db, err := database.Connect(ctx, dbCfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Fatalf("Failed to start transaction: %v", err)
	}
	defer tx.Rollback()

	tables := []string{"tweet_queue"}
	if *withActivity {
		tables = append(tables, "activity")
	}

	var total int64
	for _, table := range tables {
		fmt.Printf("Clearing %s... ", table)
		result, err := tx.ExecContext(ctx, "DELETE FROM "+table)
		if err != nil {
			log.Fatalf("Failed to clear %s: %v", table, err)
		}
		n, _ := result.RowsAffected()
		total += n
		fmt.Printf("%d rows deleted\n", n)
	}

	if err := tx.Commit(); err != nil {
		log.Fatalf("Failed to commit transaction: %v", err)
	}

	fmt.Printf("\nDone: %d rows deleted. Preserved: users, user_twitter, preferences\n", total)
}
