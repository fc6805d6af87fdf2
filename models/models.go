package models

import (
	"time"
)

// Report statuses for citizen-submitted reports. "submitted" is the initial
// status; "in progress" is set by moderation outside this service; "closed"
// is terminal.
const (
	StatusSubmitted  = "submitted"
	StatusInProgress = "in progress"
	StatusClosed     = "closed"
)

// IssueTypeOther requires a user-supplied label in UserDefinedIssueType.
const IssueTypeOther = "other"

// Report represents a citizen-submitted issue report.
type Report struct {
	ID                   int       `json:"id"`
	UserID               int       `json:"user_id"`
	ImageFilename        string    `json:"-"`
	ThumbnailFilename    string    `json:"-"`
	IssueType            string    `json:"issue_type"`
	UserDefinedIssueType *string   `json:"user_defined_issue_type"`
	Details              *string   `json:"details"`
	Address              string    `json:"address"`
	Latitude             float64   `json:"latitude"`
	Longitude            float64   `json:"longitude"`
	Status               string    `json:"status"`
	Timestamp            time.Time `json:"-"`
}

// ScrapedReport represents a normalized record pulled from an external 311
// feed. Rows are insert-only; the feed's own id (SourceID) is the dedup key.
type ScrapedReport struct {
	ID          int       `json:"id"`
	SourceID    string    `json:"source_id"`
	Source      string    `json:"source"`
	IssueType   string    `json:"issue_type"`
	DateCreated time.Time `json:"-"`
	Address     string    `json:"address"`
	Details     *string   `json:"details"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	Status      string    `json:"status"`
	ImageURL    *string   `json:"image_url"`
}

// User is the owning principal of a report. Registration and authentication
// live outside this service; we only look rows up.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ReportResponse is the wire shape of a citizen report.
type ReportResponse struct {
	ID                   int     `json:"id"`
	UserID               int     `json:"user_id"`
	ImageURL             string  `json:"image_url"`
	ThumbnailURL         *string `json:"thumbnail_url"`
	IssueType            string  `json:"issue_type"`
	UserDefinedIssueType *string `json:"user_defined_issue_type"`
	Details              *string `json:"details"`
	Address              string  `json:"address"`
	Latitude             float64 `json:"latitude"`
	Longitude            float64 `json:"longitude"`
	Status               string  `json:"status"`
	Timestamp            string  `json:"timestamp"`
}

// ScrapedReportResponse is the wire shape of a scraped record.
type ScrapedReportResponse struct {
	ID          int      `json:"id"`
	SourceID    string   `json:"source_id"`
	Source      string   `json:"source"`
	IssueType   string   `json:"issue_type"`
	DateCreated string   `json:"date_created"`
	Address     string   `json:"address"`
	Details     *string  `json:"details"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Status      string   `json:"status"`
	ImageURL    *string  `json:"image_url"`
}

// Search provenance tags.
const (
	SourceUser    = "user"
	SourceScraped = "scraped"
)

// TaggedUserReport is a citizen report as it appears in merged search
// results.
type TaggedUserReport struct {
	ReportResponse
	Type string `json:"type"`
}

// TaggedScrapedReport is a scraped record as it appears in merged search
// results.
type TaggedScrapedReport struct {
	ScrapedReportResponse
	Type string `json:"type"`
}

// SearchHit pairs a tagged record with the sort key used for the merged
// newest-first ordering. Record is TaggedUserReport or TaggedScrapedReport.
type SearchHit struct {
	Record  interface{}
	SortKey time.Time
}

// ToResponse projects a Report for the wire. Timestamps are ISO-8601 UTC.
func (r *Report) ToResponse() ReportResponse {
	var thumbURL *string
	if r.ThumbnailFilename != "" {
		u := "/uploads/" + r.ThumbnailFilename
		thumbURL = &u
	}
	return ReportResponse{
		ID:                   r.ID,
		UserID:               r.UserID,
		ImageURL:             "/uploads/" + r.ImageFilename,
		ThumbnailURL:         thumbURL,
		IssueType:            r.IssueType,
		UserDefinedIssueType: r.UserDefinedIssueType,
		Details:              r.Details,
		Address:              r.Address,
		Latitude:             r.Latitude,
		Longitude:            r.Longitude,
		Status:               r.Status,
		Timestamp:            r.Timestamp.UTC().Format(time.RFC3339),
	}
}

// ToResponse projects a ScrapedReport for the wire.
func (s *ScrapedReport) ToResponse() ScrapedReportResponse {
	return ScrapedReportResponse{
		ID:          s.ID,
		SourceID:    s.SourceID,
		Source:      s.Source,
		IssueType:   s.IssueType,
		DateCreated: s.DateCreated.UTC().Format(time.RFC3339),
		Address:     s.Address,
		Details:     s.Details,
		Latitude:    s.Latitude,
		Longitude:   s.Longitude,
		Status:      s.Status,
		ImageURL:    s.ImageURL,
	}
}
