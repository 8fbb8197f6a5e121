package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// Applies every .sql file under migrations/ in lexical order, tracking
// applied files in schema_migrations. Day-to-day schema changes go through
// AutoMigrate; this runner exists for the statements GORM cannot express,
// like partial unique indexes.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database successfully")

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		log.Fatalf("Failed to create schema_migrations table: %v", err)
	}

	files, err := filepath.Glob("migrations/*.sql")
	if err != nil {
		log.Fatalf("Failed to list migrations: %v", err)
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		name := filepath.Base(file)

		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)", name).Scan(&exists)
		if err != nil {
			log.Fatalf("Failed to check migration %s: %v", name, err)
		}
		if exists {
			continue
		}

		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("Failed to read migration file %s: %v", name, err)
		}

		log.Printf("Applying migration: %s", name)
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			log.Fatalf("Failed to apply migration %s: %v", name, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (filename) VALUES ($1)", name); err != nil {
			log.Fatalf("Failed to record migration %s: %v", name, err)
		}
		applied++
	}

	log.Printf("Migrations complete (%d applied, %d already up to date)", applied, len(files)-applied)
}
