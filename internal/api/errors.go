package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rongwang/sts-clearance/internal/models"
)

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{models.ErrValidation, http.StatusBadRequest, "INVALID_REQUEST"},
	{models.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
	{models.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{models.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{models.ErrConflict, http.StatusConflict, "CONFLICT"},
}

// respondError maps a service error onto its HTTP status. Unclassified errors
// become a 500 whose detail only reaches the access log.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			c.JSON(e.status, models.ErrorResponse{Status: "error", Code: e.code, Message: err.Error()})
			return
		}
	}
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Status:  "error",
		Code:    "INTERNAL_ERROR",
		Message: "Internal server error",
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Status:  "error",
		Code:    "INVALID_REQUEST",
		Message: message,
	})
}
