// Command migrate runs schema operations for devpress.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"devpress/internal/config"
	"devpress/internal/database"

	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return errors.New("usage: go run ./cmd/migrate <up|status|reset>")
}

func run() error {
	flag.Parse()
	if flag.NArg() < 1 {
		return usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(flag.Arg(0))) {
	case "up":
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Println("migrations applied")
	case "status":
		status(db)
	case "reset":
		if cfg.IsProduction() {
			return errors.New("reset is disabled in production")
		}
		if err := reset(db); err != nil {
			return err
		}
		log.Println("schema dropped and recreated")
	default:
		return usage()
	}
	return nil
}

func status(db *gorm.DB) {
	m := db.Migrator()
	for _, model := range database.PersistentModels() {
		stmt := &gorm.Statement{DB: db}
		name := fmt.Sprintf("%T", model)
		if err := stmt.Parse(model); err == nil {
			name = stmt.Schema.Table
		}
		log.Printf("%-14s present=%t", name, m.HasTable(model))
	}
}

func reset(db *gorm.DB) error {
	tables := database.PersistentModels()
	for i := len(tables) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(tables[i]); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
	}
	return database.Migrate(db)
}
