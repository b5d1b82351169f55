package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ParseViewIDParam reads a view ID path parameter and writes a 400 response
// when it is not a UUID.
func ParseViewIDParam(c *gin.Context, param string) (string, bool) {
	idStr := strings.TrimSpace(c.Param(param))
	if idStr == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: "ID cannot be empty",
		})
		return "", false
	}
	if _, err := uuid.Parse(idStr); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: "ID must be a UUID",
		})
		return "", false
	}
	return idStr, true
}
