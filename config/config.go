package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	Host string
	Port string

	// Database
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	// Image storage
	UploadsDir string

	// Classifier sidecar
	ClassifierURL     string
	ClassifierTimeout time.Duration

	// Reverse geocoder
	GeocoderURL     string
	GeocoderTimeout time.Duration

	// 311 feed scraper
	FeedSource     string
	FeedBaseURL    string
	FeedAPIURL     string
	FeedCenterLat  float64
	FeedCenterLng  float64
	FeedRadiusM    int
	FeedPageSize   int
	ScrapeInterval time.Duration
}

func Load() *Config {
	return &Config{
		Host: getEnv("HOST", "0.0.0.0"),
		Port: getEnv("PORT", "8080"),

		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBName:     getEnv("DB_NAME", "civic311"),

		UploadsDir: getEnv("UPLOADS_DIR", "uploads"),

		ClassifierURL:     getEnv("CLASSIFIER_URL", "http://localhost:9090"),
		ClassifierTimeout: getDuration("CLASSIFIER_TIMEOUT", 30*time.Second),

		GeocoderURL:     getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org"),
		GeocoderTimeout: getDuration("GEOCODER_TIMEOUT", 10*time.Second),

		FeedSource:     getEnv("FEED_SOURCE", "gainesville-311"),
		FeedBaseURL:    getEnv("FEED_BASE_URL", "https://gainesvillefl.citysourced.com/servicerequests/nearby"),
		FeedAPIURL:     getEnv("FEED_API_URL", "https://gainesvillefl.citysourced.com/pages/ajax/callapiendpoint.ashx"),
		FeedCenterLat:  getFloat("FEED_CENTER_LAT", 29.651964),
		FeedCenterLng:  getFloat("FEED_CENTER_LNG", -82.325002),
		FeedRadiusM:    getInt("FEED_RADIUS_M", 20000),
		FeedPageSize:   getInt("FEED_PAGE_SIZE", 1000),
		ScrapeInterval: getDuration("SCRAPE_INTERVAL", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
