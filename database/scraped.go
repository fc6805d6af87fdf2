package database

import (
	"context"
	"database/sql"
	"fmt"

	"civic311/models"
)

const scrapedColumns = `id, source, source_id, issue_type, date_created,
	address, details, latitude, longitude, status, image_url`

func scanScraped(row interface{ Scan(...interface{}) error }) (*models.ScrapedReport, error) {
	var (
		s        models.ScrapedReport
		details  sql.NullString
		lat, lng sql.NullFloat64
		imageURL sql.NullString
	)
	err := row.Scan(&s.ID, &s.Source, &s.SourceID, &s.IssueType, &s.DateCreated,
		&s.Address, &details, &lat, &lng, &s.Status, &imageURL)
	if err != nil {
		return nil, err
	}
	if details.Valid {
		s.Details = &details.String
	}
	if lat.Valid {
		s.Latitude = &lat.Float64
	}
	if lng.Valid {
		s.Longitude = &lng.Float64
	}
	if imageURL.Valid {
		s.ImageURL = &imageURL.String
	}
	return &s, nil
}

// GetScrapedReport fetches one scraped record by id.
func (d *Database) GetScrapedReport(ctx context.Context, id int) (*models.ScrapedReport, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+scrapedColumns+` FROM scraped_reports WHERE id = ?`, id)
	s, err := scanScraped(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scraped report %d: %w", id, err)
	}
	return s, nil
}

// ListScrapedReports returns scraped records matching the filter, newest
// first, capped. Records whose status is NotAnIssue or Cancelled never
// appear, regardless of the requested filter.
func (d *Database) ListScrapedReports(ctx context.Context, filter ListFilter) ([]models.ScrapedReport, error) {
	clauses := []string{
		`LOWER(status) <> 'notanissue'`,
		`LOWER(status) <> 'cancelled'`,
	}
	var args []interface{}
	if filter.BBox != nil {
		clauses = append(clauses, `latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`)
		args = append(args, filter.BBox.SwLat, filter.BBox.NeLat, filter.BBox.SwLng, filter.BBox.NeLng)
	}
	switch filter.Status {
	case "open":
		clauses = append(clauses, `LOWER(status) NOT LIKE '%close%'`)
	case "closed":
		clauses = append(clauses, `LOWER(status) LIKE '%close%'`)
	}

	query := `SELECT ` + scrapedColumns + ` FROM scraped_reports` + whereClause(clauses) +
		fmt.Sprintf(` ORDER BY date_created DESC LIMIT %d`, listCap)

	return d.queryScraped(ctx, query, args...)
}

// SearchScrapedReports matches the term case-insensitively against issue
// type and details.
func (d *Database) SearchScrapedReports(ctx context.Context, term string) ([]models.ScrapedReport, error) {
	pattern := "%" + term + "%"
	return d.queryScraped(ctx,
		`SELECT `+scrapedColumns+` FROM scraped_reports
		 WHERE LOWER(issue_type) LIKE LOWER(?)
		    OR LOWER(details) LIKE LOWER(?)
		 ORDER BY date_created DESC LIMIT `+fmt.Sprint(SearchCap),
		pattern, pattern)
}

// ExistingSourceIDs returns the set of source-native ids already stored for
// one source.
func (d *Database) ExistingSourceIDs(ctx context.Context, source string) (map[string]struct{}, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT source_id FROM scraped_reports WHERE source = ?`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing source ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan source id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// InsertScrapedReports stores a batch of new records in one transaction.
// Either every record is committed or none is.
func (d *Database) InsertScrapedReports(ctx context.Context, reports []models.ScrapedReport) error {
	if len(reports) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, s := range reports {
		_, err := tx.ExecContext(ctx, `INSERT INTO scraped_reports
			(source, source_id, issue_type, date_created, address, details,
			 latitude, longitude, status, image_url)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.Source, s.SourceID, s.IssueType, s.DateCreated, s.Address, s.Details,
			s.Latitude, s.Longitude, s.Status, s.ImageURL)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert scraped report %s: %w", s.SourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scraped batch: %w", err)
	}
	return nil
}

func (d *Database) queryScraped(ctx context.Context, query string, args ...interface{}) ([]models.ScrapedReport, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scraped reports: %w", err)
	}
	defer rows.Close()

	reports := make([]models.ScrapedReport, 0)
	for rows.Next() {
		s, err := scanScraped(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scraped row: %w", err)
		}
		reports = append(reports, *s)
	}
	return reports, rows.Err()
}
