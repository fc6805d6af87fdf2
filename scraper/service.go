// Package scraper pulls records from an external 311 feed and stores them
// as scraped reports, idempotently: a source-native id that is already
// stored is never inserted again and never updated.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"

	"civic311/metrics"
	"civic311/models"
)

// ErrHandshake marks a failed upstream session handshake; the run aborts
// with zero side effects and is always safe to re-run.
var ErrHandshake = errors.New("feed handshake failed")

// Field sentinels stored when the source omits a value the schema requires.
const (
	UnknownIssueType = "Unknown"
	NoAddress        = "No Address Provided"
	UnknownStatus    = "Unknown"
)

// Store is the slice of the record store the sync job needs.
type Store interface {
	ExistingSourceIDs(ctx context.Context, source string) (map[string]struct{}, error)
	InsertScrapedReports(ctx context.Context, reports []models.ScrapedReport) error
}

// Summary reports one sync run to the invoker.
type Summary struct {
	RanAt           time.Time `json:"ran_at"`
	FetchedRecords  int       `json:"fetched_records"`
	Added           int       `json:"added"`
	SkippedExisting int       `json:"skipped_existing"`
	SkippedBadDate  int       `json:"skipped_bad_date"`
}

// Service runs the batch sync job, manually or on an interval.
type Service struct {
	store  Store
	feed   Feed
	source string

	mu       sync.Mutex
	lastRun  *Summary
	running  bool
	stopChan chan struct{}
}

// NewService creates a sync service for one feed source.
func NewService(store Store, feed Feed, source string) *Service {
	return &Service{
		store:  store,
		feed:   feed,
		source: source,
	}
}

// Run executes one full sync: handshake, fetch, normalize, commit. All new
// records are committed in a single transaction; on any failure before the
// commit the store is untouched.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	log.Infof("Starting %s feed sync", s.source)

	session, err := s.feed.EstablishSession(ctx)
	if err != nil {
		metrics.ScrapeRunsTotal.WithLabelValues("handshake_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	records, err := s.feed.FetchRecords(ctx, session)
	if err != nil {
		metrics.ScrapeRunsTotal.WithLabelValues("fetch_error").Inc()
		return nil, fmt.Errorf("failed to fetch feed records: %w", err)
	}
	log.Infof("Feed returned %d records", len(records))

	existing, err := s.store.ExistingSourceIDs(ctx, s.source)
	if err != nil {
		metrics.ScrapeRunsTotal.WithLabelValues("fetch_error").Inc()
		return nil, err
	}

	summary := &Summary{RanAt: time.Now().UTC(), FetchedRecords: len(records)}
	var batch []models.ScrapedReport
	seen := make(map[string]struct{})

	for _, record := range records {
		sourceID := record.ID.String()
		if sourceID == "" {
			continue
		}
		if _, ok := existing[sourceID]; ok {
			summary.SkippedExisting++
			continue
		}
		if _, ok := seen[sourceID]; ok {
			continue
		}

		dateCreated, err := ParseSourceDate(record.DateCreated)
		if err != nil {
			log.Warnf("Skipping feed record %s: %v", sourceID, err)
			summary.SkippedBadDate++
			continue
		}

		seen[sourceID] = struct{}{}
		batch = append(batch, normalizeRecord(s.source, sourceID, dateCreated, record))
	}

	if err := s.store.InsertScrapedReports(ctx, batch); err != nil {
		// The transaction rolled back; zero records were added.
		metrics.ScrapeRunsTotal.WithLabelValues("commit_error").Inc()
		return nil, err
	}
	summary.Added = len(batch)

	metrics.ScrapeRunsTotal.WithLabelValues("ok").Inc()
	metrics.ScrapedRecordsTotal.WithLabelValues("added").Add(float64(summary.Added))
	metrics.ScrapedRecordsTotal.WithLabelValues("skipped_existing").Add(float64(summary.SkippedExisting))
	metrics.ScrapedRecordsTotal.WithLabelValues("skipped_bad_date").Add(float64(summary.SkippedBadDate))

	s.mu.Lock()
	s.lastRun = summary
	s.mu.Unlock()

	log.Infof("Feed sync done: %d added, %d already stored, %d bad dates",
		summary.Added, summary.SkippedExisting, summary.SkippedBadDate)
	return summary, nil
}

// normalizeRecord maps a raw feed record into the scraped report shape,
// substituting sentinels where the schema requires a value.
func normalizeRecord(source, sourceID string, dateCreated time.Time, r FeedRecord) models.ScrapedReport {
	issueType := r.RequestType
	if issueType == "" {
		issueType = UnknownIssueType
	}
	address := r.FormattedAddress
	if address == "" {
		address = NoAddress
	}
	status := r.StatusType
	if status == "" {
		status = UnknownStatus
	}
	return models.ScrapedReport{
		Source:      source,
		SourceID:    sourceID,
		IssueType:   issueType,
		DateCreated: dateCreated,
		Address:     address,
		Details:     r.Description,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Status:      status,
		ImageURL:    r.OriginalImageURL,
	}
}

// LastRun returns the most recent successful run summary, or nil.
func (s *Service) LastRun() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Start begins periodic syncing. A zero interval disables the ticker and
// leaves the job trigger-only. A stopped service may be started again.
func (s *Service) Start(interval time.Duration) {
	s.mu.Lock()
	if s.running || interval <= 0 {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	stop := s.stopChan
	s.mu.Unlock()

	log.Infof("Starting feed sync ticker with interval %v", interval)
	go s.loop(interval, stop)
}

// Stop halts periodic syncing.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
}

func (s *Service) loop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			log.Info("Feed sync ticker stopped")
			return
		case <-ticker.C:
			if _, err := s.Run(context.Background()); err != nil {
				log.Errorf("Scheduled feed sync failed: %v", err)
			}
		}
	}
}
