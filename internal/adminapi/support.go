package adminapi

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"controlplane/internal/llm"
	"controlplane/internal/logbuf"
)

type supportChatRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

// handleSupportChat replies from the settings-configured support AI,
// either as one JSON body or, when stream is true, as an SSE stream
// grounded in next-ai's agent_handler streaming loop: one "data:" line
// per chunk, terminated by a final done event.
func (s *Server) handleSupportChat(c *gin.Context) {
	var req supportChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Пустое сообщение"})
		return
	}

	apiURL, _ := s.store.Setting("support_ai_api_url")
	apiKey, _ := s.store.Setting("support_ai_api_key")
	model, _ := s.store.Setting("support_ai_model")
	systemPrompt, _ := s.store.Setting("support_ai_system_prompt")

	if apiURL == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "Чат поддержки не настроен"})
		return
	}

	cfg := llm.ChatConfig{APIURL: apiURL, APIKey: apiKey, Model: model, SystemPrompt: systemPrompt}
	messages := []llm.Message{{Role: llm.RoleUser, Content: req.Message}}

	if !req.Stream {
		reply, err := s.llm.Complete(c.Request.Context(), cfg, messages)
		if err != nil {
			s.logs.Append(logbuf.LevelError, logbuf.CategorySupport, "ошибка чата поддержки", err.Error())
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": "Ошибка при обращении к AI"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "reply": reply})
		return
	}

	out := make(chan llm.Chunk)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go s.llm.Stream(ctx, cfg, messages, out)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-out
		if !ok {
			return false
		}
		if chunk.Err != nil {
			s.logs.Append(logbuf.LevelError, logbuf.CategorySupport, "ошибка чата поддержки", chunk.Err.Error())
			c.SSEvent("error", gin.H{"message": "Ошибка при обращении к AI"})
			return false
		}
		if chunk.Done {
			c.SSEvent("done", gin.H{})
			return false
		}
		c.SSEvent("message", gin.H{"text": chunk.Text})
		return true
	})
}
