// One-shot knowledge-base import.
//
// The same import runs through the main binary's -import flag; this
// script exists for loading extraction files into a database without
// starting the server.
//
// Usage: go run scripts/import_knowledge.go -file extraction.json

package main

import (
	"flag"
	"log"
	"tutor_backend/internal/config"
	"tutor_backend/internal/importer"
	"tutor_backend/pkg/database"
	"tutor_backend/pkg/logger"
)

func main() {
	file := flag.String("file", "", "extraction JSON file to import")
	flag.Parse()

	if *file == "" {
		log.Fatal("usage: go run scripts/import_knowledge.go -file extraction.json")
	}

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	if err := importer.Run(db, *file); err != nil {
		log.Fatalf("Import failed: %v", err)
	}
}
