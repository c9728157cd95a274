package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/thrillee/aegisbox-smsc/internal/auth"
	"github.com/thrillee/aegisbox-smsc/internal/database"
)

type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
}

func main() {
	mode := flag.String("mode", "dev", "Environment mode (dev, prod)")
	seedSystemID := flag.String("seed-system-id", "", "Create or reset this SMPP credential after migrating")
	seedPassword := flag.String("seed-password", "", "Password for -seed-system-id")
	flag.Parse()

	var cfg Config
	log.Println("Loading configuration...")

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found: %v", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log.Printf("Running migrations in %s mode", *mode)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	version, err := database.Version(ctx, db)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	log.Printf("Migrations completed successfully (version %d)", version)

	if *seedSystemID == "" {
		return
	}
	if *mode == "prod" {
		log.Fatalf("Refusing to seed credentials in prod mode")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()
	if err := auth.SaveCredential(ctx, pool, *seedSystemID, *seedPassword); err != nil {
		log.Fatalf("Failed to seed credential: %v", err)
	}
	log.Printf("Credential for %s saved", *seedSystemID)
}
