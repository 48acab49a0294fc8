// Package adminapi implements the administrator HTTP/JSON surface
// consumed by the browser UI (spec.md §6, out of the runtime core). Uses
// gin, the only JSON API framework anywhere in the retrieved example
// corpus (the next-ai repo).
package adminapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"controlplane/internal/llm"
	"controlplane/internal/logbuf"
	"controlplane/internal/registry"
	"controlplane/internal/stats"
	"controlplane/internal/store"
	"controlplane/internal/supervisor"
)

const sessionCookie = "cp_session"

type Server struct {
	store      *store.Store
	supervisor *supervisor.Supervisor
	registry   *registry.Registry
	logs       *logbuf.Buffer
	stats      *stats.Stats
	llm        *llm.Adapter
	sessions   *sessionStore

	engine *gin.Engine
}

func New(st *store.Store, sup *supervisor.Supervisor, reg *registry.Registry, logs *logbuf.Buffer, stt *stats.Stats, adapter *llm.Adapter, sessionTTL time.Duration, mode string) *Server {
	gin.SetMode(mode)
	s := &Server{
		store:      st,
		supervisor: sup,
		registry:   reg,
		logs:       logs,
		stats:      stt,
		llm:        adapter,
		sessions:   newSessionStore(sessionTTL),
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) Handler() *gin.Engine {
	return s.engine
}

func (s *Server) routes() {
	api := s.engine.Group("/api")

	auth := api.Group("/auth")
	auth.POST("/login", s.handleLogin)
	auth.POST("/logout", s.handleLogout)
	auth.GET("/check", s.handleAuthCheck)

	protected := api.Group("")
	protected.Use(s.requireAuth)

	protected.GET("/bots", s.handleListBots)
	protected.POST("/bots", s.handleCreateBot)
	protected.PUT("/bots/:id", s.handleUpdateBot)
	protected.POST("/bots/:id/toggle", s.handleToggleBot)
	protected.POST("/bots/:id/refresh-info", s.handleRefreshBotInfo)
	protected.DELETE("/bots/:id", s.handleDeleteBot)

	protected.GET("/databases", s.handleListDatabases)
	protected.POST("/databases", s.handleCreateDatabase)
	protected.GET("/databases/:id", s.handleGetDatabase)
	protected.PUT("/databases/:id", s.handleUpdateDatabase)
	protected.DELETE("/databases/:id", s.handleDeleteDatabase)

	protected.GET("/bots/:id/commands", s.handleListCommands)
	protected.POST("/bots/:id/commands", s.handleCreateCommand)
	protected.GET("/bots/:id/commands/:cmdId", s.handleGetCommand)
	protected.PUT("/bots/:id/commands/:cmdId", s.handleUpdateCommand)
	protected.DELETE("/bots/:id/commands/:cmdId", s.handleDeleteCommand)

	protected.DELETE("/bots/:id/multi-command-context/:cmdId", s.handleClearMultiCommandContext)

	protected.GET("/bots/:id/chat-history", s.handleListChatHistory)
	protected.DELETE("/bots/:id/chat-history", s.handleClearChatHistory)
	protected.DELETE("/bots/:id/chat-history/:msgId", s.handleDeleteChatHistoryEntry)

	protected.GET("/dashboard/stats", s.handleDashboardStats)
	protected.GET("/dashboard/charts/messages", s.handleChartMessages)
	protected.GET("/dashboard/charts/ai-requests", s.handleChartAIRequests)
	protected.GET("/dashboard/charts/system", s.handleChartSystem)

	protected.GET("/debug/logs", s.handleDebugLogs)
	protected.GET("/debug/stats", s.handleDebugStats)

	protected.GET("/settings", s.handleGetSettings)
	protected.PUT("/settings", s.handlePutSettings)

	// Public: fed to an anonymous support widget, not the admin panel,
	// so it does not sit behind session auth like the rest of this group.
	api.POST("/support/chat", s.handleSupportChat)
}
