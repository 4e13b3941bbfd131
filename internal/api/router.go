package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the gin engine with recovery, access logging and the JWT secret
// installed ahead of the routes.
func NewRouter(h *Handler, jwtSecret string, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	router.Use(SecretMiddleware(jwtSecret))

	h.SetupRoutes(router)
	return router
}
