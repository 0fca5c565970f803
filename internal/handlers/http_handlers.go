package handlers

import (
	"errors"
	"net/http"

	"tombola/internal/export"
	"tombola/internal/models"
	"tombola/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
)

// HTTPHandler holds the dependencies for the HTTP handlers, like the draw session.
type HTTPHandler struct {
	session *services.DrawSession
	metrics http.Handler
}

// NewHTTPHandler creates a new HTTPHandler. metrics may be nil.
func NewHTTPHandler(session *services.DrawSession, metrics http.Handler) *HTTPHandler {
	return &HTTPHandler{
		session: session,
		metrics: metrics,
	}
}

// RegisterRoutes registers all the application routes.
func (h *HTTPHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/state", h.GetState)
	router.POST("/draw", h.PerformDraw)
	router.POST("/save", h.Save)
	router.POST("/reset", h.ResetHistory)
	router.GET("/results", h.GetResults)
	router.GET("/results/public", h.GetPublicResults)
	router.GET("/export/results.csv", h.ExportResultsCSV)
	router.GET("/export/public.csv", h.ExportPublicCSV)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}
}

// refresh picks up draws made by another session on the same ledger.
func (h *HTTPHandler) refresh(c *gin.Context) {
	if err := h.session.Refresh(c.Request.Context()); err != nil {
		logger.Warningf("Refreshing session: %v", err)
	}
}

func (h *HTTPHandler) results(c *gin.Context) []models.Result {
	h.refresh(c)
	return h.session.Results()
}

// GetState returns the progress of the draw and a preview of the next lot.
func (h *HTTPHandler) GetState(c *gin.Context) {
	h.refresh(c)
	c.JSON(http.StatusOK, h.session.State())
}

// PerformDraw draws the next group of lots.
func (h *HTTPHandler) PerformDraw(c *gin.Context) {
	draw, err := h.session.DrawNext(c.Request.Context())

	var perr *services.PersistenceError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"draw": drawView(draw), "state": h.session.State()})
	case errors.As(err, &perr):
		// The winners stand; the operator must retry the save, not the draw.
		body := gin.H{"error": err.Error(), "state": h.session.State()}
		if draw != nil {
			body["draw"] = drawView(draw)
		}
		c.JSON(http.StatusInternalServerError, body)
	case errors.Is(err, services.ErrAllLotsDrawn),
		errors.Is(err, services.ErrNoTicketsLeft),
		errors.Is(err, services.ErrInsufficientTickets):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "state": h.session.State()})
	default:
		logger.Errorf("Draw failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func drawView(draw *services.GroupDraw) gin.H {
	view := gin.H{
		"lot":          draw.Lot.Name,
		"sponsor":      draw.Lot.Sponsor,
		"restricted":   draw.Restricted,
		"size":         draw.Size,
		"winners":      draw.Results,
		"unattributed": draw.Unattributed,
		"roundResets":  draw.RoundResets,
		"batchId":      draw.BatchID,
	}
	if draw.Shortage != nil {
		view["warning"] = draw.Shortage.Error()
	}
	return view
}

// Save retries writing results that could not be persisted.
func (h *HTTPHandler) Save(c *gin.Context) {
	if err := h.session.Save(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "state": h.session.State()})
		return
	}
	c.JSON(http.StatusOK, h.session.State())
}

// ResetHistory clears every result and restores the original tickets.
func (h *HTTPHandler) ResetHistory(c *gin.Context) {
	if err := h.session.Reset(c.Request.Context()); err != nil {
		logger.Errorf("Reset failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.session.State())
}

// GetResults returns the full results, emails included.
func (h *HTTPHandler) GetResults(c *gin.Context) {
	c.JSON(http.StatusOK, h.results(c))
}

// GetPublicResults returns the redacted results.
func (h *HTTPHandler) GetPublicResults(c *gin.Context) {
	c.JSON(http.StatusOK, models.PublicResults(h.results(c)))
}

// ExportResultsCSV downloads the full results as a CSV file.
func (h *HTTPHandler) ExportResultsCSV(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment;filename=tirage_gagnants.csv")

	if err := export.WriteResults(c.Writer, h.results(c)); err != nil {
		// Headers are already sent.
		logger.Errorf("Error writing results CSV: %v", err)
	}
}

// ExportPublicCSV downloads the redacted results as a CSV file.
func (h *HTTPHandler) ExportPublicCSV(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment;filename=tirage_gagnants_export.csv")

	if err := export.WritePublic(c.Writer, h.results(c)); err != nil {
		logger.Errorf("Error writing public CSV: %v", err)
	}
}
