package runtime

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	HealthPath  = "/health"
	WorkersPath = "/workers"
)

// NewOpsHandler registers the operational endpoints of a worker process:
// liveness plus per-step-type counters.
func NewOpsHandler(rt *Runtime, g *gin.Engine) {
	g.GET(HealthPath, handleHealth(rt))
	g.GET(WorkersPath, handleWorkers(rt))
	g.GET(WorkersPath+"/:stepType", handleWorker(rt))
}

func handleHealth(rt *Runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		rt.mu.Lock()
		current := rt.state
		workers := len(rt.order)
		rt.mu.Unlock()

		status, code := "ok", http.StatusOK
		switch current {
		case stateIdle:
			status, code = "starting", http.StatusServiceUnavailable
		case stateStopped:
			status, code = "stopping", http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":  status,
			"workers": workers,
		})
	}
}

func handleWorkers(rt *Runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"workers": rt.Stats()})
	}
}

func handleWorker(rt *Runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		stepType := c.Param("stepType")
		stats, ok := rt.WorkerStats(stepType)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"message": "Unknown step type: " + stepType,
			})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
