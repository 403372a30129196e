package http

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/yaoapp/weave/engine"
)

// Status the body of GET /health
type Status struct {
	Status      string  `json:"status"`
	Uptime      string  `json:"uptime"`
	Scripts     int     `json:"scripts"`
	Routes      int     `json:"routes"`
	Streams     int     `json:"streams"`
	Connections int     `json:"connections"`
	Schedules   int     `json:"schedules"`
	Goroutines  int     `json:"goroutines"`
	RSS         uint64  `json:"rss,omitempty"`
	FDs         int32   `json:"fds,omitempty"`
	MemoryUsed  float64 `json:"memoryUsed,omitempty"` // host memory, percent
}

// Health reports liveness and resource usage. Resource readings that fail are omitted.
func Health(e *engine.Engine) gin.HandlerFunc {
	started := time.Now()
	proc, _ := process.NewProcess(int32(os.Getpid()))

	return func(c *gin.Context) {
		d := e.Dispatcher
		status := Status{
			Status:      "ok",
			Uptime:      time.Since(started).Round(time.Second).String(),
			Scripts:     e.Scripts.Len(),
			Routes:      d.Routes().Len(),
			Streams:     d.Streams().Len(),
			Connections: d.Hub().Len(),
			Schedules:   len(d.Scheduler().List()),
			Goroutines:  runtime.NumGoroutine(),
		}

		if proc != nil {
			if info, err := proc.MemoryInfo(); err == nil {
				status.RSS = info.RSS
			}
			if fds, err := proc.NumFDs(); err == nil {
				status.FDs = fds
			}
		}
		if vm, err := mem.VirtualMemory(); err == nil {
			status.MemoryUsed = vm.UsedPercent
		}

		c.JSON(http.StatusOK, status)
	}
}
