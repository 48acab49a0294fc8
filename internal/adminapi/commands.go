package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"controlplane/internal/store"
)

type commandRequest struct {
	Name                  string          `json:"name"`
	Description           string          `json:"description"`
	JSONCode              json.RawMessage `json:"jsonCode"`
	IsActive              bool            `json:"isActive"`
	IsMultiCommand        bool            `json:"isMultiCommand"`
	ParentMultiCommandID  *uint           `json:"parentMultiCommandId"`
	AllowExternalCommands bool            `json:"allowExternalCommands"`
}

func (s *Server) handleListCommands(c *gin.Context) {
	botID, err := parseID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор бота"})
		return
	}
	cmds, err := s.store.CommandsForBot(botID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Ошибка получения команд"})
		return
	}
	c.JSON(http.StatusOK, cmds)
}

func (s *Server) handleGetCommand(c *gin.Context) {
	cmdID, err := parseID(c, "cmdId")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор команды"})
		return
	}
	cmd, err := s.store.Command(cmdID)
	if err != nil {
		respondNotFound(c, err)
		return
	}
	c.JSON(http.StatusOK, cmd)
}

func (s *Server) handleCreateCommand(c *gin.Context) {
	botID, err := parseID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор бота"})
		return
	}
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" || len(req.JSONCode) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Укажите название и код команды"})
		return
	}
	cmd := &store.Command{
		BotID:                 botID,
		Name:                  req.Name,
		Description:           req.Description,
		JSONCode:              datatypes.JSON(req.JSONCode),
		IsActive:              req.IsActive,
		IsMultiCommand:        req.IsMultiCommand,
		ParentMultiCommandID:  req.ParentMultiCommandID,
		AllowExternalCommands: req.AllowExternalCommands,
	}
	if err := s.store.CreateCommand(cmd); err != nil {
		respondCommandWriteErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "commandId": cmd.ID})
}

func (s *Server) handleUpdateCommand(c *gin.Context) {
	cmdID, err := parseID(c, "cmdId")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор команды"})
		return
	}
	existing, err := s.store.Command(cmdID)
	if err != nil {
		respondNotFound(c, err)
		return
	}
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Некорректное тело запроса"})
		return
	}
	existing.Name = req.Name
	existing.Description = req.Description
	if len(req.JSONCode) > 0 {
		existing.JSONCode = datatypes.JSON(req.JSONCode)
	}
	existing.IsActive = req.IsActive
	existing.IsMultiCommand = req.IsMultiCommand
	existing.ParentMultiCommandID = req.ParentMultiCommandID
	existing.AllowExternalCommands = req.AllowExternalCommands
	if err := s.store.UpdateCommand(existing); err != nil {
		respondCommandWriteErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleDeleteCommand(c *gin.Context) {
	cmdID, err := parseID(c, "cmdId")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор команды"})
		return
	}
	if err := s.store.DeleteCommand(cmdID); err != nil {
		respondNotFound(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleClearMultiCommandContext(c *gin.Context) {
	botID, err := parseID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор бота"})
		return
	}
	cmdID, err := parseID(c, "cmdId")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Неверный идентификатор команды"})
		return
	}
	cleared := s.registry.ClearByCommand(botID, cmdID)
	c.JSON(http.StatusOK, gin.H{"success": true, "clearedCount": cleared})
}

func respondCommandWriteErr(c *gin.Context, err error) {
	if errors.Is(err, store.ErrDuplicateCommandName) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Не удалось сохранить команду: " + err.Error()})
}
