package main

import (
	"context"

	"github.com/apex/log"
	"github.com/joho/godotenv"

	"civic311/classifier"
	"civic311/config"
	"civic311/database"
	"civic311/geocoder"
	"civic311/handlers"
	"civic311/imagestore"
	"civic311/ingest"
	"civic311/scraper"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn(".env file not found, using system environment variables")
	}

	cfg := config.Load()

	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.EnsureTables(context.Background()); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}

	images, err := imagestore.NewStore(cfg.UploadsDir)
	if err != nil {
		log.Fatalf("Failed to initialize image store: %v", err)
	}

	classifierClient := classifier.NewClient(cfg.ClassifierURL, cfg.ClassifierTimeout)
	geocoderClient := geocoder.NewClient(cfg.GeocoderURL, cfg.GeocoderTimeout)
	ingestService := ingest.NewService(db, classifierClient, geocoderClient, images)

	feedClient, err := scraper.NewClient(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize feed client: %v", err)
	}
	scraperService := scraper.NewService(db, feedClient, cfg.FeedSource)
	scraperService.Start(cfg.ScrapeInterval)
	defer scraperService.Stop()

	h := handlers.NewHandlers(db, ingestService, scraperService, images)
	router := h.Router()

	addr := cfg.Host + ":" + cfg.Port
	log.Infof("Starting civic311 service on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
}
