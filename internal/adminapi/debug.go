package adminapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"controlplane/internal/logbuf"
)

func (s *Server) handleDebugLogs(c *gin.Context) {
	limit := 200
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var level *logbuf.Level
	if v := c.Query("level"); v != "" {
		l := logbuf.Level(v)
		level = &l
	}
	var category *logbuf.Category
	if v := c.Query("category"); v != "" {
		cat := logbuf.Category(v)
		category = &cat
	}

	entries := s.logs.Read(limit, level, category)
	c.JSON(http.StatusOK, gin.H{"logs": entries, "total": s.logs.Len()})
}

func (s *Server) handleDebugStats(c *gin.Context) {
	bots, err := s.store.Bots()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Ошибка получения статистики"})
		return
	}
	activeBots := 0
	for _, b := range bots {
		if s.supervisor.IsActive(b.ID) {
			activeBots++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":      s.stats.Snapshot(),
		"activeBots": activeBots,
	})
}
