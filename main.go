package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/finchley/matchbank/internal/catalog"
	"github.com/finchley/matchbank/internal/httpserver"
	"github.com/finchley/matchbank/internal/materials"
	"github.com/finchley/matchbank/internal/store"
)

func main() {
	_ = godotenv.Load()
	if lvl, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := catalog.Init(); err != nil {
		log.Fatal().Err(err).Msg("failed to load activity catalog")
	}

	db, err := openDB(getEnv("DB_PATH", "./data/matchbank.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	if err := migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	mem := store.NewMemoryStore()
	mat := materials.NewClient(os.Getenv("MATERIALS_BASE_URL"))
	srv := httpserver.New(mem, db, mat)
	port := getEnv("PORT", "5178")
	log.Info().Str("port", port).Int("activities", catalog.Stats()).Msg("starting matchbank server")
	if err := srv.Start(":" + port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
