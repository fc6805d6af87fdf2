// Package ingest implements the report submission pipeline: validate,
// classify, store the image, reverse-geocode and commit.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/golang/geo/s2"

	"civic311/classifier"
	"civic311/database"
	"civic311/geocoder"
	"civic311/imagestore"
	"civic311/metrics"
	"civic311/models"
)

var (
	// ErrValidation marks malformed or missing caller input.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized marks an ownership mismatch.
	ErrUnauthorized = errors.New("unauthorized")
)

// unclassifiedLabel is stored as the user-defined type when neither the
// caller nor the model produced a category.
const unclassifiedLabel = "unclassified"

// maxDetailsLength bounds the free-text details field.
const maxDetailsLength = 500

// Service orchestrates report ingestion. The classifier and geocoder are
// injected so tests can substitute doubles.
type Service struct {
	db         *database.Database
	classifier classifier.Classifier
	geocoder   geocoder.Geocoder
	images     *imagestore.Store
}

// NewService creates the ingestion pipeline.
func NewService(db *database.Database, cls classifier.Classifier, geo geocoder.Geocoder, images *imagestore.Store) *Service {
	return &Service{
		db:         db,
		classifier: cls,
		geocoder:   geo,
		images:     images,
	}
}

// Submission is one incoming report.
type Submission struct {
	UserID               int
	Image                []byte
	ImageName            string
	Latitude             float64
	Longitude            float64
	IssueType            string
	UserDefinedIssueType string
	Details              string
}

// Submit runs the full pipeline and returns the committed report.
//
// Classifier and geocoder failures degrade (unclassified label, fallback
// address); they never abort a submission. A commit failure after the image
// write leaves orphaned files for an out-of-band sweep.
func (s *Service) Submit(ctx context.Context, sub Submission) (*models.Report, error) {
	if len(sub.Image) == 0 {
		return nil, fmt.Errorf("%w: missing image", ErrValidation)
	}
	if !imagestore.AllowedExtension(sub.ImageName) {
		return nil, fmt.Errorf("%w: file type not allowed", ErrValidation)
	}
	if !s2.LatLngFromDegrees(sub.Latitude, sub.Longitude).IsValid() {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}
	if len(sub.Details) > maxDetailsLength {
		return nil, fmt.Errorf("%w: details too long", ErrValidation)
	}

	if _, err := s.db.GetUser(ctx, sub.UserID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("user %d: %w", sub.UserID, database.ErrNotFound)
		}
		return nil, err
	}

	issueType, userDefined := s.resolveIssueType(ctx, sub)
	if issueType == models.IssueTypeOther && userDefined == "" {
		return nil, fmt.Errorf("%w: user-defined issue type is required when issue type is %q",
			ErrValidation, models.IssueTypeOther)
	}

	filename := imagestore.Filename(sub.UserID, sub.ImageName)
	thumbnail, err := s.images.Save(filename, sub.Image)
	if err != nil {
		metrics.ReportsIngestedTotal.WithLabelValues("persistence_error").Inc()
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	address := s.resolveAddress(ctx, sub.Latitude, sub.Longitude)

	report := &models.Report{
		UserID:            sub.UserID,
		ImageFilename:     filename,
		ThumbnailFilename: thumbnail,
		IssueType:         issueType,
		Address:           address,
		Latitude:          sub.Latitude,
		Longitude:         sub.Longitude,
		Status:            models.StatusSubmitted,
		Timestamp:         time.Now().UTC(),
	}
	if userDefined != "" {
		report.UserDefinedIssueType = &userDefined
	}
	if sub.Details != "" {
		details := sub.Details
		report.Details = &details
	}

	if err := s.db.SaveReport(ctx, report); err != nil {
		// The files written above are now orphaned; cleanup is an
		// out-of-band sweep, not part of this transaction.
		metrics.ReportsIngestedTotal.WithLabelValues("persistence_error").Inc()
		return nil, err
	}

	metrics.ReportsIngestedTotal.WithLabelValues("accepted").Inc()
	log.Infof("Report %d saved for user %d (%s)", report.ID, report.UserID, report.IssueType)
	return report, nil
}

// Classify labels an image without creating a report, backing the
// standalone /classify endpoint. Unlike submission, failures surface here.
func (s *Service) Classify(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("%w: missing image", ErrValidation)
	}
	return s.classifier.Classify(ctx, image)
}

// Delete removes a report owned by userID, with best-effort cleanup of its
// stored files.
func (s *Service) Delete(ctx context.Context, reportID, userID int) error {
	report, err := s.db.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if report.UserID != userID {
		return fmt.Errorf("report %d: %w", reportID, ErrUnauthorized)
	}
	if err := s.db.DeleteReport(ctx, reportID); err != nil {
		return err
	}
	s.images.Remove(report.ImageFilename, report.ThumbnailFilename)
	return nil
}

// resolveIssueType picks the effective category. The classifier runs only
// when the caller supplied none; its failure or an empty label degrades to
// other/unclassified.
func (s *Service) resolveIssueType(ctx context.Context, sub Submission) (issueType, userDefined string) {
	if sub.IssueType != "" {
		return sub.IssueType, sub.UserDefinedIssueType
	}

	label, err := s.classifier.Classify(ctx, sub.Image)
	if err != nil {
		log.Errorf("Classifier failed, storing as unclassified: %v", err)
		label = ""
	}
	if label == "" {
		metrics.ClassifierFallbackTotal.Inc()
		userDefined = sub.UserDefinedIssueType
		if userDefined == "" {
			userDefined = unclassifiedLabel
		}
		return models.IssueTypeOther, userDefined
	}
	return label, sub.UserDefinedIssueType
}

// resolveAddress reverse-geocodes, falling back to a fixed string so a slow
// or unreachable geocoder can delay but never fail a submission.
func (s *Service) resolveAddress(ctx context.Context, lat, lng float64) string {
	address, err := s.geocoder.ReverseGeocode(ctx, lat, lng)
	if err != nil {
		log.Errorf("Reverse geocoding failed, using fallback address: %v", err)
		metrics.GeocoderFallbackTotal.Inc()
		return geocoder.FallbackAddress
	}
	return address
}
