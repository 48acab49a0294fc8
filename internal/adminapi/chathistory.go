package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListChatHistory(c *gin.Context) {
	botID, err := parseID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор бота"})
		return
	}
	entries, err := s.store.HistoryForBot(botID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Ошибка получения истории"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleClearChatHistory(c *gin.Context) {
	botID, err := parseID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор бота"})
		return
	}
	if err := s.store.DeleteHistoryForBot(botID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Не удалось очистить историю"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleDeleteChatHistoryEntry(c *gin.Context) {
	msgID, err := parseID(c, "msgId")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор записи"})
		return
	}
	if err := s.store.DeleteHistoryEntry(msgID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Не удалось удалить запись"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
