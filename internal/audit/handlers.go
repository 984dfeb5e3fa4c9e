package audit

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/payroute/internal/logging"
	"github.com/mbd888/payroute/internal/pagination"
)

// Handler provides HTTP endpoints over the audit log.
type Handler struct {
	log *Log
}

// NewHandler creates a new audit handler
func NewHandler(l *Log) *Handler {
	return &Handler{log: l}
}

// RegisterRoutes sets up the audit routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payments/:id/trail", h.GetTrail)
	r.GET("/payments/:id/report", h.GetReport)
	r.GET("/audit/summary", h.GetSummary)
	r.GET("/audit/events", h.ListEvents)
}

// RegisterAdminRoutes sets up the bulk export route. Callers must put it
// behind operator authentication.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/audit/export", h.Export)
}

// GetTrail handles GET /payments/:id/trail
func (h *Handler) GetTrail(c *gin.Context) {
	id := c.Param("id")
	events, err := h.log.Trail(c.Request.Context(), id)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"paymentId": id,
		"events":    events,
		"count":     len(events),
	})
}

// GetReport handles GET /payments/:id/report
func (h *Handler) GetReport(c *gin.Context) {
	report, err := h.log.PaymentReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNoEvents) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No audit events for this payment",
			})
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListEvents handles GET /audit/events?kind=&paymentId=&limit=&cursor=
func (h *Handler) ListEvents(c *gin.Context) {
	cur, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": err.Error(),
		})
		return
	}
	kind := Kind(c.Query("kind"))
	if kind != "" && !slices.Contains(Kinds, kind) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_kind",
			"message": fmt.Sprintf("kind must be one of %v", Kinds),
		})
		return
	}

	var events []Event
	if paymentID, ok := c.GetQuery("paymentId"); ok {
		events, err = h.log.Trail(c.Request.Context(), paymentID)
	} else {
		events, err = h.log.Events(c.Request.Context())
	}
	if err != nil {
		internalError(c, err)
		return
	}
	if kind != "" {
		events = slices.DeleteFunc(events, func(e Event) bool { return e.Kind != kind })
	}
	// Trail and Events order by (Timestamp, Seq), which matches Seq order.
	page, next, more := pagination.Page(events, cur, pagination.ParseLimit(c.Query("limit")), func(e Event) int64 { return e.Seq })

	c.JSON(http.StatusOK, gin.H{
		"events":     page,
		"count":      len(page),
		"nextCursor": next,
		"hasMore":    more,
	})
}

// GetSummary handles GET /audit/summary
func (h *Handler) GetSummary(c *gin.Context) {
	summary, err := h.log.SessionSummary(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Export handles GET /audit/export and streams the session as JSONL.
func (h *Handler) Export(c *gin.Context) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.log.SessionID()+".jsonl"))
	c.Status(http.StatusOK)
	if err := h.log.ExportJSONL(c.Request.Context(), c.Writer); err != nil {
		logging.L(c.Request.Context()).Error("audit export failed", "error", err)
	}
}

func internalError(c *gin.Context, err error) {
	logging.L(c.Request.Context()).Error("audit query failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Failed to read audit log",
	})
}
