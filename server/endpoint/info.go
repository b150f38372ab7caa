package endpoint

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/conduit/version"
)

var startTime = time.Now()

// Info reports the build and a few runtime figures.
func Info(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":    serviceName,
			"build":      version.Get(),
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(startTime).Round(time.Second).String(),
		})
	}
}
