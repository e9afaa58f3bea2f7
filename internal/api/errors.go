// Package api implements the REST surface: gin handlers translating
// HTTP requests into witness checks and core-action calls, and mapping
// usererr.UserError back to the wire `{code, message}` body.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/netsblox/cloud/internal/logging"
	"github.com/netsblox/cloud/internal/usererr"
)

// errorBody is the wire representation every failed request returns.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondErr maps any error from a core action to its HTTP status and body.
// Internal kinds never leak their cause; everything else echoes its
// Message, which core actions always populate with a safe string.
func respondErr(c *gin.Context, err error) {
	var ue *usererr.UserError
	if !errors.As(err, &ue) {
		logging.Error(c.Request.Context(), "unclassified error reached the REST layer", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Code: string(usererr.DatabaseConnection), Message: "internal error"})
		return
	}
	if ue.Internal() {
		logging.Error(c.Request.Context(), "internal error", zap.Error(ue))
		c.AbortWithStatusJSON(usererr.Status(ue.Kind), errorBody{Code: string(ue.Kind), Message: "internal error"})
		return
	}
	c.AbortWithStatusJSON(usererr.Status(ue.Kind), errorBody{Code: string(ue.Kind), Message: ue.Error()})
}
