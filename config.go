package main

import (
	"log"
	"os"
	"strconv"
)

const (
	backendPostgres = "postgres"
	backendREST     = "rest"

	storeSQLite = "sqlite"
	storeMemory = "memory"
)

type config struct {
	DatabaseURL string
	HTTPAddr    string
	Backend     string
	RESTURL     string
	RESTKey     string
	RESTRPS     float64
	RESTBurst   int
	Store       string
	CacheDBPath string
	JWTSecret   string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL: getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		Backend:     getenvDefault("BACKEND", backendPostgres),
		RESTURL:     getenvDefault("REST_URL", ""),
		RESTKey:     getenvDefault("REST_KEY", ""),
		RESTRPS:     getenvFloat("REST_RPS", 10),
		RESTBurst:   getenvInt("REST_BURST", 5),
		Store:       getenvDefault("STORE", storeSQLite),
		CacheDBPath: getenvDefault("CACHE_DB_PATH", "taxreport-cache.db"),
		JWTSecret:   getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
	switch cfg.Backend {
	case backendPostgres:
		if cfg.DatabaseURL == "" {
			log.Fatal("DATABASE_URL or PG_DSN is required for BACKEND=postgres")
		}
	case backendREST:
		if cfg.RESTURL == "" {
			log.Fatal("REST_URL is required for BACKEND=rest")
		}
	default:
		log.Fatalf("unknown BACKEND %q", cfg.Backend)
	}
	if cfg.Store != storeSQLite && cfg.Store != storeMemory {
		log.Fatalf("unknown STORE %q", cfg.Store)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Fatalf("invalid %s %q: %v", key, value, err)
	}
	return parsed
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s %q: %v", key, value, err)
	}
	return parsed
}
