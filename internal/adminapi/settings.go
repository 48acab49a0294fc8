package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"controlplane/internal/logbuf"
)

type settingUpdate struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleGetSettings(c *gin.Context) {
	settings, err := s.store.Settings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Ошибка получения настроек"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var updates []settingUpdate
	if err := c.ShouldBindJSON(&updates); err != nil || len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Некорректное тело запроса"})
		return
	}
	for _, u := range updates {
		if u.Key == "" {
			continue
		}
		if err := s.store.SetSetting(u.Key, u.Value); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Не удалось сохранить настройку " + u.Key})
			return
		}
	}
	s.logs.Append(logbuf.LevelInfo, logbuf.CategorySettings, "настройки обновлены", "")
	c.JSON(http.StatusOK, gin.H{"success": true})
}
