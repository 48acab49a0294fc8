package adminapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"controlplane/internal/store"
)

type databaseRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

func (s *Server) handleListDatabases(c *gin.Context) {
	dbs, err := s.store.Databases()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Ошибка получения списка баз"})
		return
	}
	c.JSON(http.StatusOK, dbs)
}

func (s *Server) handleGetDatabase(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор базы"})
		return
	}
	db, err := s.store.Database(id)
	if err != nil {
		respondNotFound(c, err)
		return
	}
	c.JSON(http.StatusOK, db)
}

func (s *Server) handleCreateDatabase(c *gin.Context) {
	var req databaseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Укажите название базы"})
		return
	}
	db := &store.Database{
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
		Content:     req.Content,
	}
	if err := s.store.CreateDatabase(db); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Не удалось создать базу: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "databaseId": db.ID})
}

func (s *Server) handleUpdateDatabase(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор базы"})
		return
	}
	existing, err := s.store.Database(id)
	if err != nil {
		respondNotFound(c, err)
		return
	}
	var req databaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Некорректное тело запроса"})
		return
	}
	existing.Name = req.Name
	existing.Type = req.Type
	existing.Description = req.Description
	existing.Content = req.Content
	if err := s.store.UpdateDatabase(existing); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Не удалось обновить базу: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleDeleteDatabase(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор базы"})
		return
	}
	if err := s.store.DeleteDatabase(id); err != nil {
		if errors.Is(err, store.ErrDatabaseReferenced) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "База используется одним или несколькими ботами"})
			return
		}
		respondNotFound(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
