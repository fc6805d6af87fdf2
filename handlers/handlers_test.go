package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"civic311/database"
	"civic311/imagestore"
	"civic311/ingest"
	"civic311/scraper"
)

type stubClassifier struct {
	label string
	err   error
	calls int
}

func (s *stubClassifier) Classify(ctx context.Context, image []byte) (string, error) {
	s.calls++
	return s.label, s.err
}

type stubGeocoder struct {
	address string
	err     error
}

func (s *stubGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	return s.address, s.err
}

type stubFeed struct {
	handshakeErr error
	records      []scraper.FeedRecord
}

func (s *stubFeed) EstablishSession(ctx context.Context) (*scraper.Session, error) {
	if s.handshakeErr != nil {
		return nil, s.handshakeErr
	}
	return &scraper.Session{Token: "t", UniqueID: "u"}, nil
}

func (s *stubFeed) FetchRecords(ctx context.Context, session *scraper.Session) ([]scraper.FeedRecord, error) {
	return s.records, nil
}

type testEnv struct {
	router *gin.Engine
	mock   sqlmock.Sqlmock
	cls    *stubClassifier
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithFeed(t, &stubFeed{})
}

func newTestEnvWithFeed(t *testing.T, feed scraper.Feed) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	d := database.NewDatabaseWithDB(db)

	images, err := imagestore.NewStore(t.TempDir())
	assert.NoError(t, err)

	cls := &stubClassifier{label: "pothole"}
	geo := &stubGeocoder{address: "13 SE 1st St, Gainesville, FL"}
	ingestService := ingest.NewService(d, cls, geo, images)
	scraperService := scraper.NewService(d, feed, "gainesville-311")

	h := NewHandlers(d, ingestService, scraperService, images)
	return &testEnv{router: h.Router(), mock: mock, cls: cls}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func multipartReport(t *testing.T, fields map[string]string, withImage bool) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if withImage {
		part, err := writer.CreateFormFile("image", "pothole.jpg")
		assert.NoError(t, err)
		_, err = part.Write([]byte("jpeg bytes"))
		assert.NoError(t, err)
	}
	for k, v := range fields {
		assert.NoError(t, writer.WriteField(k, v))
	}
	assert.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func userRow(mock sqlmock.Sqlmock, id int) {
	mock.ExpectQuery("SELECT id, username, email FROM users WHERE id = ?").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email"}).
			AddRow(id, "ana", "ana@example.com"))
}

func reportColumns() []string {
	return []string{
		"id", "user_id", "image_filename", "thumbnail_filename", "issue_type",
		"user_defined_issue_type", "details", "address", "latitude", "longitude",
		"status", "timestamp",
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestSubmitReport(t *testing.T) {
	env := newTestEnv(t)
	userRow(env.mock, 7)
	env.mock.ExpectExec("INSERT INTO reports").
		WillReturnResult(sqlmock.NewResult(42, 1))

	body, contentType := multipartReport(t, map[string]string{
		"user_id": "7",
		"lat":     "29.65",
		"lon":     "-82.32",
	}, true)
	req := httptest.NewRequest("POST", "/report", body)
	req.Header.Set("Content-Type", contentType)

	w := env.do(req)
	assert.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(42), resp["id"])
	assert.Equal(t, "pothole", resp["issue_type"])
	assert.Equal(t, "submitted", resp["status"])
	assert.Equal(t, "13 SE 1st St, Gainesville, FL", resp["address"])
	assert.Contains(t, resp["image_url"], "/uploads/")
	assert.Equal(t, 1, env.cls.calls)
}

func TestSubmitReportMissingImage(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartReport(t, map[string]string{
		"user_id": "7", "lat": "29.65", "lon": "-82.32",
	}, false)
	req := httptest.NewRequest("POST", "/report", body)
	req.Header.Set("Content-Type", contentType)

	w := env.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestSubmitReportMissingUserID(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartReport(t, map[string]string{
		"lat": "29.65", "lon": "-82.32",
	}, true)
	req := httptest.NewRequest("POST", "/report", body)
	req.Header.Set("Content-Type", contentType)

	w := env.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitReportUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery("SELECT id, username, email FROM users WHERE id = ?").
		WithArgs(99).
		WillReturnError(sql.ErrNoRows)

	body, contentType := multipartReport(t, map[string]string{
		"user_id": "99", "lat": "29.65", "lon": "-82.32",
	}, true)
	req := httptest.NewRequest("POST", "/report", body)
	req.Header.Set("Content-Type", contentType)

	w := env.do(req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "User not found")
}

func TestClassifyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartReport(t, nil, true)
	req := httptest.NewRequest("POST", "/classify", body)
	req.Header.Set("Content-Type", contentType)

	w := env.do(req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"issue_type":"pothole"`)
}

func TestClassifyMissingImage(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("POST", "/classify", strings.NewReader(""))
	w := env.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetReportNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery("SELECT (.+) FROM reports WHERE id = ?").
		WithArgs(5).
		WillReturnError(sql.ErrNoRows)

	w := env.do(httptest.NewRequest("GET", "/report/5", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteReportWrongOwner(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery("SELECT (.+) FROM reports WHERE id = ?").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(reportColumns()).
			AddRow(5, 7, "img.jpg", nil, "trash", nil, nil, "addr",
				29.65, -82.32, "submitted", time.Now()))

	req := httptest.NewRequest("DELETE", "/report/5",
		strings.NewReader(`{"user_id": 8}`))
	req.Header.Set("Content-Type", "application/json")

	w := env.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	// The row itself must not have been deleted.
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestDeleteReportMissingUserID(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("DELETE", "/report/5", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	w := env.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListUserReportsIgnoresPartialBoundingBox(t *testing.T) {
	env := newTestEnv(t)
	// Only 3 of 4 corners: the box must be ignored entirely. The
	// expectation has no WHERE clause between the table and the ordering.
	env.mock.ExpectQuery(`SELECT (.+) FROM reports ORDER BY timestamp DESC LIMIT 500`).
		WillReturnRows(sqlmock.NewRows(reportColumns()))

	w := env.do(httptest.NewRequest("GET",
		"/user_reports?sw_lat=29.6&sw_lng=-82.4&ne_lat=29.7", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestListUserReportsMalformedNumbersDegrade(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(`SELECT (.+) FROM reports ORDER BY timestamp DESC LIMIT 500`).
		WillReturnRows(sqlmock.NewRows(reportColumns()))

	w := env.do(httptest.NewRequest("GET",
		"/user_reports?sw_lat=abc&sw_lng=-82.4&ne_lat=29.7&ne_lng=-82.3", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestSearchShortQueryReturnsEmptyArray(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"", "a", "ab"} {
		w := env.do(httptest.NewRequest("GET", "/reports/search?q="+q, nil))
		assert.Equal(t, http.StatusOK, w.Code, "q=%q", q)
		assert.Equal(t, "[]", w.Body.String(), "q=%q", q)
	}
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestSearchMergesAndTagsBothFamilies(t *testing.T) {
	env := newTestEnv(t)
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	env.mock.ExpectQuery(`SELECT (.+) FROM reports\s+WHERE LOWER\(issue_type\)`).
		WillReturnRows(sqlmock.NewRows(reportColumns()).
			AddRow(1, 7, "img.jpg", nil, "pothole", nil, "pothole on main", "addr",
				29.65, -82.32, "submitted", older))
	env.mock.ExpectQuery(`SELECT (.+) FROM scraped_reports\s+WHERE LOWER\(issue_type\)`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "source", "source_id", "issue_type", "date_created",
			"address", "details", "latitude", "longitude", "status", "image_url",
		}).AddRow(2, "gainesville-311", "900", "Pothole Repair", newer,
			"addr2", nil, nil, nil, "Open", nil))

	w := env.do(httptest.NewRequest("GET", "/reports/search?q=pothole", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var results []map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	assert.Len(t, results, 2)
	// Newest first: the scraped record is more recent.
	assert.Equal(t, "scraped", results[0]["type"])
	assert.Equal(t, "user", results[1]["type"])
}

func TestSearchCapsMergedResults(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	userRows := sqlmock.NewRows(reportColumns())
	scrapedRows := sqlmock.NewRows([]string{
		"id", "source", "source_id", "issue_type", "date_created",
		"address", "details", "latitude", "longitude", "status", "image_url",
	})
	for i := 0; i < database.SearchCap; i++ {
		userRows.AddRow(i+1, 7, "img.jpg", nil, "pothole", nil, nil, "addr",
			29.65, -82.32, "submitted", base.Add(time.Duration(i)*time.Minute))
		scrapedRows.AddRow(i+1, "gainesville-311", fmt.Sprint(900+i), "Pothole Repair",
			base.Add(time.Duration(i)*time.Second), "addr2", nil, nil, nil, "Open", nil)
	}
	env.mock.ExpectQuery(`SELECT (.+) FROM reports\s+WHERE LOWER\(issue_type\)`).
		WillReturnRows(userRows)
	env.mock.ExpectQuery(`SELECT (.+) FROM scraped_reports\s+WHERE LOWER\(issue_type\)`).
		WillReturnRows(scrapedRows)

	w := env.do(httptest.NewRequest("GET", "/reports/search?q=pothole", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var results []map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	assert.Len(t, results, database.SearchCap)
}

func TestScrapeTriggerHandshakeFailure(t *testing.T) {
	env := newTestEnvWithFeed(t, &stubFeed{handshakeErr: fmt.Errorf("no token")})
	w := env.do(httptest.NewRequest("POST", "/scrape/trigger", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestScrapeTriggerAndStatus(t *testing.T) {
	env := newTestEnvWithFeed(t, &stubFeed{records: []scraper.FeedRecord{
		{ID: json.Number("500"), RequestType: "Pothole",
			DateCreated: "2025-01-02T03:04:05Z", StatusType: "Open"},
	}})
	env.mock.ExpectQuery("SELECT source_id FROM scraped_reports WHERE source = ?").
		WillReturnRows(sqlmock.NewRows([]string{"source_id"}))
	env.mock.ExpectBegin()
	env.mock.ExpectExec("INSERT INTO scraped_reports").
		WillReturnResult(sqlmock.NewResult(1, 1))
	env.mock.ExpectCommit()

	w := env.do(httptest.NewRequest("POST", "/scrape/trigger", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"added":1`)

	w = env.do(httptest.NewRequest("GET", "/scrape/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"added":1`)
}

func TestMyReportsUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery("SELECT id, username, email FROM users WHERE id = ?").
		WithArgs(42).
		WillReturnError(sql.ErrNoRows)

	w := env.do(httptest.NewRequest("GET", "/my-reports/42", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "User not found")
}

func TestServeUploadNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest("GET", "/uploads/nope.jpg", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
