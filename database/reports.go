package database

import (
	"context"
	"database/sql"
	"fmt"

	"civic311/models"
)

const reportColumns = `id, user_id, image_filename, thumbnail_filename, issue_type,
	user_defined_issue_type, details, address, latitude, longitude, status, timestamp`

func scanReport(row interface{ Scan(...interface{}) error }) (*models.Report, error) {
	var (
		r       models.Report
		thumb   sql.NullString
		udType  sql.NullString
		details sql.NullString
		address sql.NullString
	)
	err := row.Scan(&r.ID, &r.UserID, &r.ImageFilename, &thumb, &r.IssueType,
		&udType, &details, &address, &r.Latitude, &r.Longitude, &r.Status, &r.Timestamp)
	if err != nil {
		return nil, err
	}
	if thumb.Valid {
		r.ThumbnailFilename = thumb.String
	}
	if udType.Valid {
		r.UserDefinedIssueType = &udType.String
	}
	if details.Valid {
		r.Details = &details.String
	}
	if address.Valid {
		r.Address = address.String
	}
	return &r, nil
}

// SaveReport inserts a new report and fills in its assigned id.
func (d *Database) SaveReport(ctx context.Context, r *models.Report) error {
	var thumb interface{}
	if r.ThumbnailFilename != "" {
		thumb = r.ThumbnailFilename
	}
	result, err := d.db.ExecContext(ctx, `INSERT INTO reports
		(user_id, image_filename, thumbnail_filename, issue_type, user_defined_issue_type,
		 details, address, latitude, longitude, status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.ImageFilename, thumb, r.IssueType, r.UserDefinedIssueType,
		r.Details, r.Address, r.Latitude, r.Longitude, r.Status, r.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get inserted report id: %w", err)
	}
	r.ID = int(id)
	return nil
}

// GetReport fetches one report by id.
func (d *Database) GetReport(ctx context.Context, id int) (*models.Report, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report %d: %w", id, err)
	}
	return r, nil
}

// GetUser fetches one user by id.
func (d *Database) GetUser(ctx context.Context, id int) (*models.User, error) {
	var u models.User
	err := d.db.QueryRowContext(ctx,
		`SELECT id, username, email FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.Email)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &u, nil
}

// ListReports returns reports matching the filter, newest first, capped.
func (d *Database) ListReports(ctx context.Context, filter ListFilter) ([]models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports`
	var (
		clauses []string
		args    []interface{}
	)
	if filter.BBox != nil {
		clauses = append(clauses, `latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`)
		args = append(args, filter.BBox.SwLat, filter.BBox.NeLat, filter.BBox.SwLng, filter.BBox.NeLng)
	}
	switch filter.Status {
	case "open":
		clauses = append(clauses, `status IN ('submitted', 'in progress')`)
	case "closed":
		clauses = append(clauses, `status = 'closed'`)
	}
	query += whereClause(clauses)
	query += fmt.Sprintf(` ORDER BY timestamp DESC LIMIT %d`, listCap)

	return d.queryReports(ctx, query, args...)
}

// ReportsByUser returns all reports owned by one user, newest first.
func (d *Database) ReportsByUser(ctx context.Context, userID int) ([]models.Report, error) {
	return d.queryReports(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE user_id = ? ORDER BY timestamp DESC`,
		userID)
}

// SearchReports matches the term case-insensitively against issue type,
// user-defined type and details.
func (d *Database) SearchReports(ctx context.Context, term string) ([]models.Report, error) {
	pattern := "%" + term + "%"
	return d.queryReports(ctx,
		`SELECT `+reportColumns+` FROM reports
		 WHERE LOWER(issue_type) LIKE LOWER(?)
		    OR LOWER(user_defined_issue_type) LIKE LOWER(?)
		    OR LOWER(details) LIKE LOWER(?)
		 ORDER BY timestamp DESC LIMIT `+fmt.Sprint(SearchCap),
		pattern, pattern, pattern)
}

// DeleteReport removes one report row.
func (d *Database) DeleteReport(ctx context.Context, id int) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete report %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get delete status: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *Database) queryReports(ctx context.Context, query string, args ...interface{}) ([]models.Report, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := make([]models.Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

func whereClause(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	q := ` WHERE ` + clauses[0]
	for _, c := range clauses[1:] {
		q += ` AND ` + c
	}
	return q
}
