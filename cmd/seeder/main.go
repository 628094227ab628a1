// The seeder applies the schema and inserts a handful of demo opt-outs
// so a fresh environment has something to exercise the compliance path.
package main

import (
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/unclebandit/voicecast-backend/internal/config"
	"github.com/unclebandit/voicecast-backend/internal/db"
	"github.com/unclebandit/voicecast-backend/internal/model"
	"github.com/unclebandit/voicecast-backend/internal/repository"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cfg := config.Load()
	conn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal(err)
	}

	if err := db.Migrate(conn); err != nil {
		log.Fatal("failed to apply schema:", err)
	}
	log.Println("✅ Schema applied")

	optOutRepo := &repository.OptOutRepository{DB: conn}
	demo := []string{"+15550100", "+15550101"}
	for _, phone := range demo {
		err := optOutRepo.Upsert(phone, model.OptOutSourceManual, 365*24*time.Hour, map[string]string{
			"seeded": "true",
		})
		if err != nil {
			log.Println("⚠️ seeding opt-out", phone, ":", err)
			continue
		}
		log.Println("Seeded opt-out:", phone)
	}

	log.Println("✅ Done")
}
