package middleware

import (
	"errors"
	"net/http"

	"taskmarket/pkg/errutil"
	"taskmarket/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached with c.Error once the handler chain returns.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var be errutil.BaseError
		if errors.As(last.Err, &be) {
			if be.Code == errutil.StatusInternal {
				logger.FromContext(c.Request.Context()).Error("request failed", zap.Error(be))
			}
			c.AbortWithStatusJSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		logger.FromContext(c.Request.Context()).Error("unhandled error", zap.Error(last.Err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: "internal server error",
		}.JSON())
	}
}
