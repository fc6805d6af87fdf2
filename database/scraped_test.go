package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"civic311/models"
)

func scrapedRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "source", "source_id", "issue_type", "date_created",
		"address", "details", "latitude", "longitude", "status", "image_url",
	})
}

func TestListScrapedReportsAlwaysExcludesJunkStatuses(t *testing.T) {
	it(func() {
		// The exclusion clauses must be present with or without a
		// requested status filter.
		for _, status := range []string{"", "open", "closed"} {
			mock.ExpectQuery(`SELECT (.+) FROM scraped_reports WHERE LOWER\(status\) <> 'notanissue' AND LOWER\(status\) <> 'cancelled'(.*) ORDER BY date_created DESC LIMIT 500`).
				WillReturnRows(scrapedRows().AddRow(1, "gainesville-311", "4711",
					"Pothole", time.Now(), "addr", nil, nil, nil, "Open", nil))

			reports, err := d.ListScrapedReports(context.Background(), ListFilter{Status: status})
			if err != nil {
				t.Fatalf("status %q: ListScrapedReports: %v", status, err)
			}
			if len(reports) != 1 {
				t.Errorf("status %q: expected 1 report, got %d", status, len(reports))
			}
		}
	})
}

func TestListScrapedReportsStatusClauses(t *testing.T) {
	it(func() {
		mock.ExpectQuery(`LOWER\(status\) NOT LIKE '%close%'`).
			WillReturnRows(scrapedRows())
		if _, err := d.ListScrapedReports(context.Background(), ListFilter{Status: "open"}); err != nil {
			t.Fatalf("open: %v", err)
		}

		mock.ExpectQuery(`<> 'cancelled' AND LOWER\(status\) LIKE '%close%'`).
			WillReturnRows(scrapedRows())
		if _, err := d.ListScrapedReports(context.Background(), ListFilter{Status: "closed"}); err != nil {
			t.Fatalf("closed: %v", err)
		}
	})
}

func TestExistingSourceIDs(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT source_id FROM scraped_reports WHERE source = ?").
			WithArgs("gainesville-311").
			WillReturnRows(sqlmock.NewRows([]string{"source_id"}).
				AddRow("100").AddRow("101"))

		ids, err := d.ExistingSourceIDs(context.Background(), "gainesville-311")
		if err != nil {
			t.Fatalf("ExistingSourceIDs: %v", err)
		}
		if len(ids) != 2 {
			t.Errorf("expected 2 ids, got %d", len(ids))
		}
		if _, ok := ids["100"]; !ok {
			t.Errorf("expected id 100 in set")
		}
	})
}

func TestInsertScrapedReportsCommitsOnce(t *testing.T) {
	it(func() {
		batch := []models.ScrapedReport{
			{Source: "gainesville-311", SourceID: "200", IssueType: "Pothole",
				DateCreated: time.Now(), Address: "addr", Status: "Open"},
			{Source: "gainesville-311", SourceID: "201", IssueType: "Trash",
				DateCreated: time.Now(), Address: "addr", Status: "Closed"},
		}

		mock.ExpectBegin()
		for _, s := range batch {
			mock.ExpectExec("INSERT INTO scraped_reports").
				WithArgs(s.Source, s.SourceID, s.IssueType, sqlmock.AnyArg(),
					s.Address, nil, nil, nil, s.Status, nil).
				WillReturnResult(sqlmock.NewResult(1, 1))
		}
		mock.ExpectCommit()

		if err := d.InsertScrapedReports(context.Background(), batch); err != nil {
			t.Fatalf("InsertScrapedReports: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestInsertScrapedReportsRollsBackWholeBatch(t *testing.T) {
	it(func() {
		batch := []models.ScrapedReport{
			{Source: "s", SourceID: "1", IssueType: "A", DateCreated: time.Now(), Address: "x", Status: "Open"},
			{Source: "s", SourceID: "2", IssueType: "B", DateCreated: time.Now(), Address: "y", Status: "Open"},
		}

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO scraped_reports").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO scraped_reports").
			WillReturnError(fmt.Errorf("duplicate key"))
		mock.ExpectRollback()

		err := d.InsertScrapedReports(context.Background(), batch)
		if err == nil {
			t.Fatal("expected error on failed insert")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestInsertScrapedReportsEmptyBatchIsNoop(t *testing.T) {
	it(func() {
		// No Begin/Commit expected.
		if err := d.InsertScrapedReports(context.Background(), nil); err != nil {
			t.Fatalf("empty batch: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestGetScrapedReportNotFound(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT (.+) FROM scraped_reports WHERE id = ?").
			WithArgs(12345).
			WillReturnRows(scrapedRows())

		_, err := d.GetScrapedReport(context.Background(), 12345)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
