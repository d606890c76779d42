// Package middleware provides HTTP middleware components.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"concreterp/internal/core/apperror"
	appctx "concreterp/internal/core/context"
	"concreterp/pkg/logger"
)

// Recovery turns a handler panic into a 500 rendered by ErrorHandler. The
// stack goes to the log only; the client sees the request id.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			ctx := c.Request.Context()
			requestID := appctx.GetRequestID(ctx)
			logger.Error(ctx, "handler panic",
				"method", c.Request.Method,
				"route", c.FullPath(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)

			appErr := apperror.NewInternal(fmt.Errorf("handler panic: %v", r))
			if requestID != "" {
				appErr = appErr.WithDetail("request_id", requestID)
			}
			_ = c.Error(appErr)
			c.Abort()
		}()
		c.Next()
	}
}
