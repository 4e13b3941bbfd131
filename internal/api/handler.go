package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rongwang/sts-clearance/internal/cache"
	"github.com/rongwang/sts-clearance/internal/dashboard"
	"github.com/rongwang/sts-clearance/internal/models"
	"github.com/rongwang/sts-clearance/internal/service"
)

// Options carries the optional collaborators of Handler
type Options struct {
	// Cache holds rendered dashboards; nil disables dashboard caching.
	Cache    cache.Store
	CacheTTL time.Duration
	// Ready backs /readyz, typically a database ping.
	Ready func(ctx context.Context) error
}

// Handler handles HTTP requests
type Handler struct {
	service    service.Service
	projection *dashboard.ProjectionService
	dashboards dashboard.Services
	cache      cache.Store
	cacheTTL   time.Duration
	ready      func(ctx context.Context) error
	logger     *zap.Logger
}

// NewHandler creates a new Handler
func NewHandler(
	svc service.Service,
	projection *dashboard.ProjectionService,
	dashboards dashboard.Services,
	logger *zap.Logger,
	opts Options,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Handler{
		service:    svc,
		projection: projection,
		dashboards: dashboards,
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
		ready:      opts.Ready,
		logger:     logger.Named("api"),
	}
}

// SetupRoutes configures all API routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Healthz)
	router.GET("/readyz", h.Readyz)

	// Public routes
	auth := router.Group("/api/auth")
	{
		auth.POST("/signup", h.SignUp)
		auth.POST("/login", h.Login)
	}

	// Protected routes
	api := router.Group("/api")
	api.Use(AuthMiddleware())
	{
		api.GET("/rooms", h.ListRooms)
		api.POST("/rooms", h.CreateRoom)
		api.GET("/rooms/:id", h.GetRoom)
		api.PATCH("/rooms/:id/status", h.UpdateRoomStatus)
		api.DELETE("/rooms/:id", h.DeleteRoom)
		api.POST("/rooms/:id/parties", h.AddParty)
		api.POST("/rooms/:id/vessels", h.AddVessel)
		api.POST("/rooms/:id/documents", h.CreateDocument)
		api.POST("/rooms/:id/party-metrics", h.RecordPartyMetric)
		api.GET("/rooms/:id/metrics", h.GetMetricHistory)
		api.GET("/rooms/:id/demurrage/hourly", h.GetDemurrageHourly)
		api.GET("/rooms/:id/demurrage/forecast", h.GetDemurrageForecast)

		api.PATCH("/documents/:id/status", h.UpdateDocumentStatus)
		api.PATCH("/approvals/:id", h.UpdateApproval)

		api.POST("/vessels/:id/findings", h.CreateFinding)
		api.POST("/vessels/:id/crew", h.AddCrewCertification)
		api.GET("/vessels/:id/crew", h.GetCrewStatus)
		api.GET("/vessels/:id/sire", h.SyncSire)

		api.PATCH("/findings/:id/progress", h.UpdateFindingProgress)
		api.GET("/findings/:id/remediation", h.GetRemediationStatus)

		api.GET("/notifications", h.ListNotifications)
		api.POST("/notifications/:id/read", h.MarkNotificationRead)

		api.GET("/dashboard", h.GetDashboard)
		api.GET("/dashboard/access", h.GetDashboardAccess)
		for _, role := range []dashboard.Role{
			dashboard.RoleAdmin,
			dashboard.RoleCharterer,
			dashboard.RoleBroker,
			dashboard.RoleShipowner,
			dashboard.RoleInspector,
		} {
			api.GET("/dashboard/"+role.String(), h.dashboardFor(role))
		}
	}
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Readyz(c *gin.Context) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
				Status:  "error",
				Code:    "NOT_READY",
				Message: "database unavailable",
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Auth handlers
func (h *Handler) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := h.service.SignUp(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Room handlers
func (h *Handler) ListRooms(c *gin.Context) {
	resp, err := h.service.ListRooms(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := h.service.CreateRoom(c.Request.Context(), c.GetString(ctxUserID), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) GetRoom(c *gin.Context) {
	resp, err := h.service.GetRoom(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) UpdateRoomStatus(c *gin.Context) {
	var req models.UpdateRoomStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := h.service.UpdateRoomStatus(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) DeleteRoom(c *gin.Context) {
	if err := h.service.DeleteRoom(c.Request.Context(), c.GetString(ctxUserID), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) AddParty(c *gin.Context) {
	var req models.AddPartyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	party, err := h.service.AddParty(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, party)
}

func (h *Handler) AddVessel(c *gin.Context) {
	var req models.AddVesselRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	vessel, err := h.service.AddVessel(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, vessel)
}

// Document and approval handlers
func (h *Handler) CreateDocument(c *gin.Context) {
	var req models.CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	doc, err := h.service.CreateDocument(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *Handler) UpdateDocumentStatus(c *gin.Context) {
	var req models.UpdateDocumentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	doc, err := h.service.UpdateDocumentStatus(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) UpdateApproval(c *gin.Context) {
	var req models.UpdateApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	approval, err := h.service.UpdateApproval(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, approval)
}

// Compliance record handlers
func (h *Handler) CreateFinding(c *gin.Context) {
	var req models.CreateFindingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	finding, err := h.service.CreateFinding(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, finding)
}

func (h *Handler) UpdateFindingProgress(c *gin.Context) {
	var req models.UpdateFindingProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	finding, err := h.service.UpdateFindingProgress(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, finding)
}

func (h *Handler) AddCrewCertification(c *gin.Context) {
	var req models.AddCrewCertificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	cert, err := h.service.AddCrewCertification(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cert)
}

func (h *Handler) RecordPartyMetric(c *gin.Context) {
	var req models.RecordPartyMetricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	metric, err := h.service.RecordPartyMetric(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, metric)
}

// GetMetricHistory serves the daily snapshot series, ?type= filters and ?days= defaults to 30.
func (h *Handler) GetMetricHistory(c *gin.Context) {
	days, ok := intQuery(c, "days", 30)
	if !ok {
		return
	}

	resp, err := h.service.GetMetricHistory(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"), c.Query("type"), days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Notification handlers
func (h *Handler) ListNotifications(c *gin.Context) {
	unreadOnly, _ := strconv.ParseBool(c.Query("unread"))

	resp, err := h.service.ListNotifications(c.Request.Context(), c.GetString(ctxUserID), unreadOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) MarkNotificationRead(c *gin.Context) {
	if err := h.service.MarkNotificationRead(c.Request.Context(), c.GetString(ctxUserID), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// intQuery reads an optional integer query parameter, answering 400 itself when malformed.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "query parameter "+name+" must be an integer")
		return 0, false
	}
	return v, true
}
