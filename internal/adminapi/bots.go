package adminapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"controlplane/internal/apierr"
	"controlplane/internal/store"
)

type botRequest struct {
	Name                string `json:"name"`
	Tag                 string `json:"tag"`
	Description         string `json:"description"`
	Token               string `json:"token"`
	APIURL              string `json:"apiUrl"`
	APIKey              string `json:"apiKey"`
	AIModel             string `json:"aiModel"`
	SystemPrompt        string `json:"systemPrompt"`
	DatabaseID          *uint  `json:"databaseId"`
	IsActive            bool   `json:"isActive"`
	MemoryEnabled       bool   `json:"memoryEnabled"`
	MemoryMessagesCount int    `json:"memoryMessagesCount"`
}

func (s *Server) handleListBots(c *gin.Context) {
	bots, err := s.store.Bots()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Ошибка получения списка ботов"})
		return
	}
	// Reconcile the live flag on read, per spec.md §6's GET /api/bots note.
	for i := range bots {
		bots[i].IsRunning = s.supervisor.IsActive(bots[i].ID)
	}
	c.JSON(http.StatusOK, bots)
}

func (s *Server) handleCreateBot(c *gin.Context) {
	var req botRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" || req.Name == "" {
		respond(c, apierr.BadRequest("Укажите название и токен бота"))
		return
	}

	b := &store.Bot{
		Name:                req.Name,
		Tag:                 req.Tag,
		Description:         req.Description,
		Token:               req.Token,
		APIURL:              req.APIURL,
		APIKey:              req.APIKey,
		AIModel:             req.AIModel,
		SystemPrompt:        req.SystemPrompt,
		DatabaseID:          req.DatabaseID,
		IsActive:            req.IsActive,
		MemoryEnabled:       req.MemoryEnabled,
		MemoryMessagesCount: clamp(req.MemoryMessagesCount, 0, 50),
	}
	if err := s.store.CreateBot(b); err != nil {
		respond(c, apierr.BadRequest("Не удалось создать бота: "+err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "botId": b.ID})
}

func (s *Server) handleUpdateBot(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор бота"})
		return
	}

	existing, err := s.store.Bot(id)
	if err != nil {
		respondNotFound(c, err)
		return
	}

	var req botRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Некорректное тело запроса"})
		return
	}

	tokenChanged := req.Token != "" && req.Token != existing.Token

	existing.Name = req.Name
	existing.Tag = req.Tag
	existing.Description = req.Description
	if req.Token != "" {
		existing.Token = req.Token
	}
	existing.APIURL = req.APIURL
	existing.APIKey = req.APIKey
	existing.AIModel = req.AIModel
	existing.SystemPrompt = req.SystemPrompt
	existing.DatabaseID = req.DatabaseID
	existing.IsActive = req.IsActive
	existing.MemoryEnabled = req.MemoryEnabled
	existing.MemoryMessagesCount = clamp(req.MemoryMessagesCount, 0, 50)

	if err := s.supervisor.UpdateConfig(id, existing, tokenChanged); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Не удалось обновить бота: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleToggleBot(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор бота"})
		return
	}
	running, err := s.supervisor.Toggle(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Не удалось переключить бота: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "isRunning": running})
}

func (s *Server) handleRefreshBotInfo(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор бота"})
		return
	}
	me, err := s.supervisor.RefreshInfo(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Не удалось получить данные бота: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "botInfo": me})
}

func (s *Server) handleDeleteBot(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор бота"})
		return
	}
	if err := s.supervisor.Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Не удалось удалить бота: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func parseID(c *gin.Context, param string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}

// respondNotFound maps a store lookup error onto the small typed HTTP
// error vocabulary in apierr, then writes it as JSON.
func respondNotFound(c *gin.Context, err error) {
	apiErr := apierr.Internal("Внутренняя ошибка сервера")
	if errors.Is(err, store.ErrNotFound) {
		apiErr = apierr.NotFound("Запись не найдена")
	}
	respond(c, apiErr)
}

// respond writes an *apierr.Error as the handler's JSON response.
func respond(c *gin.Context, err *apierr.Error) {
	c.JSON(err.Status, gin.H{"success": false, "message": err.Message})
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
