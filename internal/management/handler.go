package management

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mailroute/internal/logger"
	"mailroute/internal/routing"
	"mailroute/pkg/errors"
	"mailroute/pkg/health"
	"mailroute/pkg/middleware"
)

type BaseHandler struct {
	Service *Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *BaseHandler) bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err))
		return false
	}
	return true
}

func changeContext(c *gin.Context) ChangeContext {
	changedBy := c.GetString(middleware.SubjectKey)
	if changedBy == "" {
		changedBy = c.GetHeader("X-Changed-By")
	}
	return ChangeContext{ChangedBy: changedBy, IPAddress: c.ClientIP()}
}

type Handler struct {
	BaseHandler
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
}

// RegisterRoutes mounts the operator API under /api/v1. middlewares run for
// every route in the group, e.g. authentication.
func (h *Handler) RegisterRoutes(router gin.IRouter, middlewares ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1", middlewares...)
	{
		rules := v1.Group("/rules")
		{
			rules.GET("", h.ListRules)
			rules.POST("", h.CreateRule)
			rules.GET("/export", h.ExportRules)
			rules.POST("/validate", h.ValidateCondition)
			rules.POST("/test", h.TestCondition)
			rules.GET("/:name", h.GetRule)
			rules.DELETE("/:name", h.DeleteRule)
			rules.POST("/:name/enable", h.EnableRule)
			rules.POST("/:name/disable", h.DisableRule)
		}

		v1.GET("/stats", h.GetStatistics)
		v1.POST("/stats/reset", h.ResetStatistics)
		v1.GET("/health", h.GetHealth)
		v1.POST("/process", h.Process)

		v1.GET("/queues/test", h.TestQueues)
		v1.GET("/audit/logs", h.GetAuditLogs)
	}
}

func (h *Handler) ListRules(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.ListRules())
}

func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.Service.GetRule(c.Param("name"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// CreateRule registers a rule. Duplicate names answer 409, conditions that do
// not compile answer 400.
func (h *Handler) CreateRule(c *gin.Context) {
	var def routing.RuleDefinition
	if !h.bindJSON(c, &def) {
		return
	}

	rule, err := h.Service.CreateRule(c.Request.Context(), def, changeContext(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.Service.DeleteRule(c.Request.Context(), c.Param("name"), changeContext(c)); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) EnableRule(c *gin.Context) {
	h.setEnabled(c, true)
}

func (h *Handler) DisableRule(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *Handler) setEnabled(c *gin.Context, enabled bool) {
	rule, err := h.Service.SetRuleEnabled(c.Request.Context(), c.Param("name"), enabled, changeContext(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// ValidateCondition always answers 200; the body says whether the condition compiles.
func (h *Handler) ValidateCondition(c *gin.Context) {
	var req ConditionRequest
	if !h.bindJSON(c, &req) {
		return
	}
	c.JSON(http.StatusOK, h.Service.ValidateCondition(req.Condition))
}

func (h *Handler) TestCondition(c *gin.Context) {
	var req TestConditionRequest
	if !h.bindJSON(c, &req) {
		return
	}

	report, err := h.Service.TestCondition(c.Request.Context(), req.Condition, req.Records)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) ExportRules(c *gin.Context) {
	data, format, err := h.Service.ExportRules(c.DefaultQuery("format", "yaml"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	contentType := "application/x-yaml"
	if format == "json" {
		contentType = "application/json"
	}
	c.Header("Content-Disposition", "attachment; filename=rules."+format)
	c.Data(http.StatusOK, contentType, data)
}

func (h *Handler) GetStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.Statistics())
}

func (h *Handler) ResetStatistics(c *gin.Context) {
	h.Service.ResetStatistics(c.Request.Context(), changeContext(c))
	c.JSON(http.StatusOK, h.Service.Statistics())
}

// GetHealth answers 503 only when a component is unhealthy.
func (h *Handler) GetHealth(c *gin.Context) {
	result := h.Service.Health(c.Request.Context())
	status := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

// Process routes the posted records. Without an explicit "dry_run": false
// nothing is delivered.
func (h *Handler) Process(c *gin.Context) {
	var req ProcessRequest
	if !h.bindJSON(c, &req) {
		return
	}

	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}

	resp, err := h.Service.Process(c.Request.Context(), req.Records, dryRun)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) TestQueues(c *gin.Context) {
	queues, err := h.Service.TestQueues(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queues": queues})
}

func (h *Handler) GetAuditLogs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.HandleError(c, errors.ErrValidation.WithMessage("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	c.JSON(http.StatusOK, h.Service.AuditLogs(c.Query("rule"), limit))
}
