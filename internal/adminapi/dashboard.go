package adminapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultChartWindow = 24 * time.Hour

// parsePeriod maps the ?period= query param of spec.md's dashboard chart
// routes ({1h,24h,7d,30d}) onto a lookback window and a bucket format,
// defaulting to 24h/hourly for an empty or unrecognized value.
func parsePeriod(c *gin.Context) (time.Duration, string) {
	switch c.Query("period") {
	case "1h":
		return time.Hour, "2006-01-02T15:04"
	case "7d":
		return 7 * 24 * time.Hour, "2006-01-02"
	case "30d":
		return 30 * 24 * time.Hour, "2006-01-02"
	case "24h", "":
		return defaultChartWindow, "2006-01-02T15:00"
	default:
		return defaultChartWindow, "2006-01-02T15:00"
	}
}

func memStats() gin.H {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return gin.H{
		"allocBytes":      m.Alloc,
		"totalAllocBytes": m.TotalAlloc,
		"sysBytes":        m.Sys,
		"numGoroutine":    runtime.NumGoroutine(),
	}
}

func (s *Server) handleDashboardStats(c *gin.Context) {
	bots, err := s.store.Bots()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Ошибка получения статистики"})
		return
	}
	running := 0
	for _, b := range bots {
		if s.supervisor.IsActive(b.ID) {
			running++
		}
	}
	dbs, err := s.store.Databases()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Ошибка получения статистики"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalBots":   len(bots),
		"runningBots": running,
		"databases":   len(dbs),
		"requests":    s.stats.Snapshot(),
		"mem":         memStats(),
	})
}

// handleChartMessages buckets chat history writes over the requested
// period.
func (s *Server) handleChartMessages(c *gin.Context) {
	window, layout := parsePeriod(c)
	since := time.Now().Add(-window)
	entries, err := s.store.ChatHistorySince(since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Ошибка получения графика"})
		return
	}
	buckets := make(map[string]int)
	for _, e := range entries {
		buckets[e.Timestamp.Format(layout)]++
	}
	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

func (s *Server) handleChartAIRequests(c *gin.Context) {
	window, layout := parsePeriod(c)
	since := time.Now().Add(-window)
	logs, err := s.store.AIRequestsSince(since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Ошибка получения графика"})
		return
	}
	buckets := make(map[string]struct {
		Total   int `json:"total"`
		Success int `json:"success"`
		Failed  int `json:"failed"`
	})
	for _, l := range logs {
		key := l.CreatedAt.Format(layout)
		b := buckets[key]
		b.Total++
		if l.Success {
			b.Success++
		} else {
			b.Failed++
		}
		buckets[key] = b
	}
	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

func (s *Server) handleChartSystem(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stats": s.stats.Snapshot(), "mem": memStats()})
}
