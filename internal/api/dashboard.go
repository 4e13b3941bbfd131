package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rongwang/sts-clearance/internal/cache"
	"github.com/rongwang/sts-clearance/internal/dashboard"
)

// MetricResponse wraps a single fail-soft metric. When Partial is set, Data holds
// the safe default and Errors says what could not be computed.
type MetricResponse struct {
	Status  string   `json:"status"`
	Data    any      `json:"data"`
	Partial bool     `json:"partial"`
	Errors  []string `json:"errors"`
}

func metricResponse(c *gin.Context, data any, err error) {
	resp := MetricResponse{Status: "success", Data: data, Errors: []string{}}
	var metricErr *dashboard.MetricError
	switch {
	case err == nil:
	case errors.As(err, &metricErr):
		_ = c.Error(err)
		resp.Partial = true
		resp.Errors = append(resp.Errors, err.Error())
	default:
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetDashboard serves the overview of the caller's own role.
func (h *Handler) GetDashboard(c *gin.Context) {
	h.serveDashboard(c, dashboard.RoleUnknown)
}

func (h *Handler) dashboardFor(role dashboard.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.serveDashboard(c, role)
	}
}

func (h *Handler) GetDashboardAccess(c *gin.Context) {
	c.JSON(http.StatusOK, h.projection.ValidateUserAccessToDashboard(c.Request.Context(), c.GetString(ctxUserID)))
}

func dashboardCacheKey(userID string, role dashboard.Role) string {
	if role == dashboard.RoleUnknown {
		return "dashboard:" + userID + ":self"
	}
	return fmt.Sprintf("dashboard:%s:%s", userID, role)
}

func (h *Handler) serveDashboard(c *gin.Context, requested dashboard.Role) {
	ctx := c.Request.Context()
	userID := c.GetString(ctxUserID)

	// access is checked before the cache lookup
	decision := h.projection.ValidateUserAccessToDashboard(ctx, userID)
	if !decision.Allowed {
		respondError(c, &dashboard.AccessDeniedError{Reason: decision.Reason})
		return
	}
	if requested != dashboard.RoleUnknown && requested != decision.Role && decision.Role != dashboard.RoleAdmin {
		respondError(c, &dashboard.AccessDeniedError{
			Reason: fmt.Sprintf("%s users cannot view the %s dashboard", decision.Role, requested),
		})
		return
	}

	key := dashboardCacheKey(userID, requested)
	if h.cache != nil && !noCache(c) {
		body, ok, err := h.cache.Get(ctx, key)
		if err != nil {
			h.logger.Warn("dashboard cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, "application/json; charset=utf-8", body)
			return
		}
	}

	envelope, err := h.projection.GetDashboardForRole(ctx, userID, requested)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.cache != nil && !envelope.Metadata.Partial {
		if err := cache.SetJSON(ctx, h.cache, key, envelope, h.cacheTTL); err != nil {
			h.logger.Warn("dashboard cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	c.Header("X-Cache", "MISS")
	c.JSON(http.StatusOK, envelope)
}

func noCache(c *gin.Context) bool {
	return c.GetHeader("Cache-Control") == "no-cache"
}

// GetDemurrageHourly breaks down demurrage by hour; ?rate= overrides the room's daily rate.
func (h *Handler) GetDemurrageHourly(c *gin.Context) {
	roomID := c.Param("id")
	if err := h.service.AuthorizeRoom(c.Request.Context(), c.GetString(ctxUserID), roomID); err != nil {
		respondError(c, err)
		return
	}

	var rate *float64
	if raw := c.Query("rate"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			badRequest(c, "query parameter rate must be a non-negative number")
			return
		}
		rate = &v
	}

	out, err := h.dashboards.Demurrage.CalculateDemurrageHourly(c.Request.Context(), roomID, rate)
	metricResponse(c, out, err)
}

func (h *Handler) GetDemurrageForecast(c *gin.Context) {
	roomID := c.Param("id")
	if err := h.service.AuthorizeRoom(c.Request.Context(), c.GetString(ctxUserID), roomID); err != nil {
		respondError(c, err)
		return
	}
	days, ok := intQuery(c, "days", dashboard.DefaultProjectionDays)
	if !ok {
		return
	}

	out, err := h.dashboards.Demurrage.PredictDemurrageEscalation(c.Request.Context(), roomID, days)
	metricResponse(c, out, err)
}

func (h *Handler) GetCrewStatus(c *gin.Context) {
	vesselID := c.Param("id")
	if err := h.service.AuthorizeVessel(c.Request.Context(), c.GetString(ctxUserID), vesselID); err != nil {
		respondError(c, err)
		return
	}

	out, err := h.dashboards.Compliance.ValidateCrewCertifications(c.Request.Context(), vesselID)
	metricResponse(c, out, err)
}

// SyncSire returns the vessel's SIRE score; ?force=true bypasses the score cache.
func (h *Handler) SyncSire(c *gin.Context) {
	vesselID := c.Param("id")
	if err := h.service.AuthorizeVessel(c.Request.Context(), c.GetString(ctxUserID), vesselID); err != nil {
		respondError(c, err)
		return
	}
	force, _ := strconv.ParseBool(c.Query("force"))

	out, err := h.dashboards.Compliance.SyncSireExternalAPI(c.Request.Context(), vesselID, force)
	metricResponse(c, out, err)
}

func (h *Handler) GetRemediationStatus(c *gin.Context) {
	findingID := c.Param("id")
	if err := h.service.AuthorizeFinding(c.Request.Context(), c.GetString(ctxUserID), findingID); err != nil {
		respondError(c, err)
		return
	}

	out, err := h.dashboards.Compliance.CalculateFindingRemediationStatus(c.Request.Context(), findingID)
	metricResponse(c, out, err)
}
