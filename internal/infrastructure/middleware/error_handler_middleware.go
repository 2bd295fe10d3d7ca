package middleware

import (
	"net/http"

	"pairlink/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// httpStatusFor maps orchestration error codes to HTTP statuses.
func httpStatusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodePrerequisiteViolation, errors.ErrCodeInvariantViolation:
		return http.StatusConflict
	case errors.ErrCodeLockContention:
		return http.StatusLocked
	case errors.ErrCodeTimeoutExpired:
		return http.StatusGatewayTimeout
	case errors.ErrCodeConfigDegraded:
		return http.StatusServiceUnavailable
	case errors.ErrCodeNegotiationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandlerMiddleware handles application errors and returns appropriate HTTP responses
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Check if there are any errors
		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err

			// Try to extract OrchestrationError
			oErr := errors.GetOrchestrationError(err)
			if oErr != nil {
				status := httpStatusFor(oErr.Code)
				logger.Errorw("orchestration error",
					"code", oErr.Code,
					"message", oErr.Message,
					"status", status,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"context", oErr.Context,
				)

				c.JSON(status, gin.H{
					"error":   string(oErr.Code),
					"message": oErr.Message,
					"details": oErr.Context,
				})
				return
			}

			// Handle plain errors
			logger.Errorw("unhandled error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)

			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   string(errors.ErrCodeInternal),
				"message": "Internal server error",
			})
		}
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
