package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"

	"civic311/config"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Database handles all database operations.
type Database struct {
	db *sql.DB
}

// NewDatabase opens a connection pool and verifies connectivity.
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Infof("Database connected to %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)

	return &Database{db: db}, nil
}

// NewDatabaseWithDB wraps an existing connection, used by tests.
func NewDatabaseWithDB(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// EnsureTables creates the schema if it doesn't exist.
func (d *Database) EnsureTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INT NOT NULL AUTO_INCREMENT,
			username VARCHAR(50) NOT NULL,
			email VARCHAR(120) NOT NULL,
			PRIMARY KEY (id),
			UNIQUE KEY uq_username (username),
			UNIQUE KEY uq_email (email)
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id INT NOT NULL AUTO_INCREMENT,
			user_id INT NOT NULL,
			image_filename VARCHAR(120) NOT NULL,
			thumbnail_filename VARCHAR(130),
			issue_type VARCHAR(50) NOT NULL,
			user_defined_issue_type VARCHAR(100),
			details VARCHAR(500),
			address VARCHAR(255),
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			status ENUM('submitted', 'in progress', 'closed') NOT NULL DEFAULT 'submitted',
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			INDEX idx_reports_user (user_id),
			INDEX idx_reports_coords (latitude, longitude)
		)`,
		`CREATE TABLE IF NOT EXISTS scraped_reports (
			id INT NOT NULL AUTO_INCREMENT,
			source VARCHAR(64) NOT NULL,
			source_id VARCHAR(64) NOT NULL,
			issue_type VARCHAR(120) NOT NULL,
			date_created DATETIME NOT NULL,
			address VARCHAR(255) NOT NULL,
			details TEXT,
			latitude DOUBLE,
			longitude DOUBLE,
			status VARCHAR(64) NOT NULL,
			image_url VARCHAR(512),
			PRIMARY KEY (id),
			UNIQUE KEY uq_scraped_source (source, source_id),
			INDEX idx_scraped_coords (latitude, longitude)
		)`,
	}

	for _, q := range queries {
		if _, err := d.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	log.Info("Database schema ensured")
	return nil
}

// BoundingBox is a map viewport. All four corners are required; a partial
// box is ignored upstream, never an error.
type BoundingBox struct {
	SwLat float64
	SwLng float64
	NeLat float64
	NeLng float64
}

// ListFilter narrows list queries. Status is "", "open" or "closed".
type ListFilter struct {
	BBox   *BoundingBox
	Status string
}

// listCap is a hard safety limit on list queries, not a page size.
const listCap = 500

// SearchCap limits per-family search results; the merged result is capped
// again at the same value.
const SearchCap = 50
