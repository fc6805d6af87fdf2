// Package handlers exposes the HTTP surface. Handlers stay thin: parse,
// call a service, map errors to status codes. All error bodies carry a
// machine-readable reason string and nothing else.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"civic311/database"
	"civic311/imagestore"
	"civic311/ingest"
	"civic311/models"
	"civic311/scraper"
)

// Handlers wires the HTTP surface to the services behind it.
type Handlers struct {
	db      *database.Database
	ingest  *ingest.Service
	scraper *scraper.Service
	images  *imagestore.Store
}

// NewHandlers creates the handler set.
func NewHandlers(db *database.Database, ingestService *ingest.Service, scraperService *scraper.Service, images *imagestore.Store) *Handlers {
	return &Handlers{
		db:      db,
		ingest:  ingestService,
		scraper: scraperService,
		images:  images,
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "civic311",
	})
}

// Classify runs the image classifier without creating a report.
func (h *Handlers) Classify(c *gin.Context) {
	image, _, ok := readUpload(c)
	if !ok {
		return
	}
	label, err := h.ingest.Classify(c.Request.Context(), image)
	if err != nil {
		if errors.Is(err, ingest.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No image part"})
			return
		}
		log.Errorf("Classification failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Classification failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"issue_type": label})
}

// SubmitReport handles POST /report.
func (h *Handlers) SubmitReport(c *gin.Context) {
	image, imageName, ok := readUpload(c)
	if !ok {
		return
	}

	userID, err := strconv.Atoi(c.PostForm("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user_id"})
		return
	}
	lat, latErr := strconv.ParseFloat(c.PostForm("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.PostForm("lon"), 64)
	if latErr != nil || lngErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error fetching coordinates"})
		return
	}

	report, err := h.ingest.Submit(c.Request.Context(), ingest.Submission{
		UserID:               userID,
		Image:                image,
		ImageName:            imageName,
		Latitude:             lat,
		Longitude:            lng,
		IssueType:            c.PostForm("issue_type"),
		UserDefinedIssueType: c.PostForm("user_defined_issue_type"),
		Details:              c.PostForm("details"),
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.writeError(c, err, "Failed to save the report")
		return
	}
	c.JSON(http.StatusCreated, report.ToResponse())
}

// GetReport handles GET /report/:id.
func (h *Handlers) GetReport(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
		return
	}
	report, err := h.db.GetReport(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "Failed to read the report")
		return
	}
	c.JSON(http.StatusOK, report.ToResponse())
}

// DeleteReport handles DELETE /report/:id. Only the owner may delete.
func (h *Handlers) DeleteReport(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
		return
	}
	var body struct {
		UserID *int `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.UserID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user_id for authorization"})
		return
	}
	if err := h.ingest.Delete(c.Request.Context(), id, *body.UserID); err != nil {
		h.writeError(c, err, "Failed to delete the report")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Report deleted successfully"})
}

// ListUserReports handles GET /user_reports with optional bounding box and
// status filters.
func (h *Handlers) ListUserReports(c *gin.Context) {
	reports, err := h.db.ListReports(c.Request.Context(), listFilter(c))
	if err != nil {
		h.writeError(c, err, "Failed to list reports")
		return
	}
	out := make([]models.ReportResponse, 0, len(reports))
	for i := range reports {
		out = append(out, reports[i].ToResponse())
	}
	c.JSON(http.StatusOK, out)
}

// ListScrapedReports handles GET /scraped-reports.
func (h *Handlers) ListScrapedReports(c *gin.Context) {
	reports, err := h.db.ListScrapedReports(c.Request.Context(), listFilter(c))
	if err != nil {
		h.writeError(c, err, "Failed to list scraped reports")
		return
	}
	out := make([]models.ScrapedReportResponse, 0, len(reports))
	for i := range reports {
		out = append(out, reports[i].ToResponse())
	}
	c.JSON(http.StatusOK, out)
}

// GetScrapedReport handles GET /scraped-reports/:id.
func (h *Handlers) GetScrapedReport(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Scraped report not found"})
		return
	}
	report, err := h.db.GetScrapedReport(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "Failed to read the scraped report")
		return
	}
	c.JSON(http.StatusOK, report.ToResponse())
}

// MyReports handles GET /my-reports/:user_id.
func (h *Handlers) MyReports(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if _, err := h.db.GetUser(c.Request.Context(), userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.writeError(c, err, "Failed to list reports")
		return
	}
	reports, err := h.db.ReportsByUser(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "Failed to list reports")
		return
	}
	out := make([]models.ReportResponse, 0, len(reports))
	for i := range reports {
		out = append(out, reports[i].ToResponse())
	}
	c.JSON(http.StatusOK, out)
}

// Search handles GET /reports/search: a merged, provenance-tagged search
// across both record families. Queries under 3 characters yield an empty
// result, not an error.
func (h *Handlers) Search(c *gin.Context) {
	query := c.Query("q")
	if len(query) < 3 {
		c.JSON(http.StatusOK, []interface{}{})
		return
	}

	userReports, err := h.db.SearchReports(c.Request.Context(), query)
	if err != nil {
		h.writeError(c, err, "Search failed")
		return
	}
	scrapedReports, err := h.db.SearchScrapedReports(c.Request.Context(), query)
	if err != nil {
		h.writeError(c, err, "Search failed")
		return
	}

	hits := make([]models.SearchHit, 0, len(userReports)+len(scrapedReports))
	for i := range userReports {
		hits = append(hits, models.SearchHit{
			Record: models.TaggedUserReport{
				ReportResponse: userReports[i].ToResponse(),
				Type:           models.SourceUser,
			},
			SortKey: userReports[i].Timestamp,
		})
	}
	for i := range scrapedReports {
		hits = append(hits, models.SearchHit{
			Record: models.TaggedScrapedReport{
				ScrapedReportResponse: scrapedReports[i].ToResponse(),
				Type:                  models.SourceScraped,
			},
			SortKey: scrapedReports[i].DateCreated,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].SortKey.After(hits[j].SortKey)
	})
	if len(hits) > database.SearchCap {
		hits = hits[:database.SearchCap]
	}

	out := make([]interface{}, 0, len(hits))
	for _, hit := range hits {
		out = append(out, hit.Record)
	}
	c.JSON(http.StatusOK, out)
}

// ServeUpload handles GET /uploads/:filename.
func (h *Handlers) ServeUpload(c *gin.Context) {
	path, err := h.images.Path(c.Param("filename"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	c.File(path)
}

// TriggerScrape handles POST /scrape/trigger: one synchronous sync run.
func (h *Handlers) TriggerScrape(c *gin.Context) {
	summary, err := h.scraper.Run(c.Request.Context())
	if err != nil {
		log.Errorf("Feed sync failed: %v", err)
		if errors.Is(err, scraper.ErrHandshake) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream feed handshake failed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Feed sync failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ScrapeStatus handles GET /scrape/status.
func (h *Handlers) ScrapeStatus(c *gin.Context) {
	last := h.scraper.LastRun()
	if last == nil {
		c.JSON(http.StatusOK, gin.H{"last_run": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_run": last})
}

// listFilter builds the shared list filter. Malformed numeric parameters
// are treated as absent; a bounding box is applied only when all four
// corners parse.
func listFilter(c *gin.Context) database.ListFilter {
	filter := database.ListFilter{}

	swLat, e1 := strconv.ParseFloat(c.Query("sw_lat"), 64)
	swLng, e2 := strconv.ParseFloat(c.Query("sw_lng"), 64)
	neLat, e3 := strconv.ParseFloat(c.Query("ne_lat"), 64)
	neLng, e4 := strconv.ParseFloat(c.Query("ne_lng"), 64)
	if e1 == nil && e2 == nil && e3 == nil && e4 == nil {
		filter.BBox = &database.BoundingBox{
			SwLat: swLat, SwLng: swLng,
			NeLat: neLat, NeLng: neLng,
		}
	}

	if status := c.Query("status"); status == "open" || status == "closed" {
		filter.Status = status
	}
	return filter
}

// readUpload pulls the multipart image field, answering 400 itself when the
// part is missing or empty.
func readUpload(c *gin.Context) (data []byte, filename string, ok bool) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image part"})
		return nil, "", false
	}
	if fileHeader.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No selected file"})
		return nil, "", false
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image part"})
		return nil, "", false
	}
	defer file.Close()
	data, err = io.ReadAll(file)
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image part"})
		return nil, "", false
	}
	return data, fileHeader.Filename, true
}

// writeError maps service errors onto the HTTP surface. Unrecognized errors
// become a generic 500; internals are never exposed.
func (h *Handlers) writeError(c *gin.Context, err error, generic string) {
	switch {
	case errors.Is(err, ingest.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": reason(err)})
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, ingest.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
	default:
		log.Errorf("Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": generic})
	}
}

// reason strips nothing for validation errors; their messages are written
// for callers and carry no internals.
func reason(err error) string {
	return err.Error()
}
