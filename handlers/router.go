package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	EndPointHealth        = "/health"
	EndPointMetrics       = "/metrics"
	EndPointClassify      = "/classify"
	EndPointReport        = "/report"
	EndPointReportByID    = "/report/:id"
	EndPointUserReports   = "/user_reports"
	EndPointScraped       = "/scraped-reports"
	EndPointScrapedByID   = "/scraped-reports/:id"
	EndPointMyReports     = "/my-reports/:user_id"
	EndPointSearch        = "/reports/search"
	EndPointUploads       = "/uploads/:filename"
	EndPointScrapeTrigger = "/scrape/trigger"
	EndPointScrapeStatus  = "/scrape/status"
)

// Router builds the gin engine with all routes and middleware.
func (h *Handlers) Router() *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowOrigins:     []string{"*"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET(EndPointHealth, h.HealthCheck)
	router.GET(EndPointMetrics, gin.WrapH(promhttp.Handler()))

	router.POST(EndPointClassify, h.Classify)
	router.POST(EndPointReport, h.SubmitReport)
	router.GET(EndPointReportByID, h.GetReport)
	router.DELETE(EndPointReportByID, h.DeleteReport)
	router.GET(EndPointUserReports, h.ListUserReports)
	router.GET(EndPointScraped, h.ListScrapedReports)
	router.GET(EndPointScrapedByID, h.GetScrapedReport)
	router.GET(EndPointMyReports, h.MyReports)
	router.GET(EndPointSearch, h.Search)
	router.GET(EndPointUploads, h.ServeUpload)

	router.POST(EndPointScrapeTrigger, h.TriggerScrape)
	router.GET(EndPointScrapeStatus, h.ScrapeStatus)

	return router
}
