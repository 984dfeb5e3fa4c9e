package registry

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mbd888/payroute/internal/logging"
	"github.com/mbd888/payroute/internal/payment"
)

// Handler provides HTTP handlers for processor health.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new registry handler
func NewHandler(r *Registry) *Handler {
	return &Handler{registry: r}
}

// RegisterRoutes sets up the read-only processor routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/processors", h.ListProcessors)
	r.GET("/processors/chain", h.GetFallbackChain)
	r.GET("/processors/:id", h.GetProcessor)
	r.GET("/processors/:id/risk", h.AssessProcessor)
}

// RegisterAdminRoutes sets up operator routes. Callers must put these
// behind operator authentication.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/processors/:id/freeze", h.FreezeProcessor)
	r.POST("/processors/:id/restore", h.RestoreProcessor)
	r.POST("/processors/:id/maintenance", h.SetMaintenance)
}

// ListProcessors handles GET /processors
func (h *Handler) ListProcessors(c *gin.Context) {
	procs := h.registry.List()
	c.JSON(http.StatusOK, gin.H{
		"processors": procs,
		"count":      len(procs),
	})
}

// GetProcessor handles GET /processors/:id
func (h *Handler) GetProcessor(c *gin.Context) {
	rec, err := h.registry.Get(c.Param("id"))
	if err != nil {
		notFound(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetFallbackChain handles GET /processors/chain?exclude=a,b
func (h *Handler) GetFallbackChain(c *gin.Context) {
	excluding := make(map[string]struct{})
	for _, id := range strings.Split(c.Query("exclude"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			excluding[id] = struct{}{}
		}
	}
	chain := h.registry.FallbackChain(excluding)
	c.JSON(http.StatusOK, gin.H{"chain": chain})
}

// AssessProcessor handles GET /processors/:id/risk?amount=100.00&currency=USD
func (h *Handler) AssessProcessor(c *gin.Context) {
	rec, err := h.registry.Get(c.Param("id"))
	if err != nil {
		notFound(c, err)
		return
	}
	amount, err := decimal.NewFromString(c.DefaultQuery("amount", "100"))
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "amount must be a positive decimal",
		})
		return
	}
	tx := payment.Transaction{
		Amount:   amount,
		Currency: strings.ToUpper(c.DefaultQuery("currency", "USD")),
	}
	c.JSON(http.StatusOK, Assess(rec, tx))
}

// FreezeProcessor handles POST /processors/:id/freeze
func (h *Handler) FreezeProcessor(c *gin.Context) {
	h.operatorAction(c, "freeze", h.registry.Freeze)
}

// RestoreProcessor handles POST /processors/:id/restore
func (h *Handler) RestoreProcessor(c *gin.Context) {
	h.operatorAction(c, "restore", h.registry.Restore)
}

// MaintenanceRequest toggles maintenance mode.
type MaintenanceRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetMaintenance handles POST /processors/:id/maintenance
func (h *Handler) SetMaintenance(c *gin.Context) {
	var req MaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "body must be {\"enabled\": true|false}",
		})
		return
	}
	h.operatorAction(c, "maintenance", func(id string) error {
		return h.registry.SetMaintenance(id, *req.Enabled)
	})
}

func (h *Handler) operatorAction(c *gin.Context, action string, fn func(id string) error) {
	id := c.Param("id")
	logger := logging.L(c.Request.Context())

	if err := fn(id); err != nil {
		notFound(c, err)
		return
	}
	rec, _ := h.registry.Get(id)
	logger.Info("operator action applied",
		"action", action,
		"processor", id,
		"status", rec.Status,
		"operator", c.GetString("operator"),
	)
	c.JSON(http.StatusOK, rec)
}

func notFound(c *gin.Context, err error) {
	if errors.Is(err, ErrProcessorNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Processor not found",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": err.Error(),
	})
}
