package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"controlplane/internal/apierr"
	"controlplane/internal/logbuf"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Укажите email и пароль"})
		return
	}

	user, err := s.store.UserByEmail(req.Email)
	if err != nil {
		s.logs.Append(logbuf.LevelWarning, logbuf.CategoryAuth, "неудачная попытка входа", req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Неверный email или пароль"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil || !user.IsActive {
		s.logs.Append(logbuf.LevelWarning, logbuf.CategoryAuth, "неудачная попытка входа", req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Неверный email или пароль"})
		return
	}

	token := s.sessions.create(user.ID)
	c.SetCookie(sessionCookie, token, int(s.sessions.ttl.Seconds()), "/", "", false, true)
	s.logs.Append(logbuf.LevelSuccess, logbuf.CategoryAuth, "вход выполнен", req.Email)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "OK"})
}

func (s *Server) handleLogout(c *gin.Context) {
	if token, err := c.Cookie(sessionCookie); err == nil {
		s.sessions.destroy(token)
	}
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleAuthCheck(c *gin.Context) {
	token, err := c.Cookie(sessionCookie)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	_, ok := s.sessions.lookup(token)
	c.JSON(http.StatusOK, gin.H{"authenticated": ok})
}

// requireAuth is gin middleware guarding every route except /auth/* and
// /support/chat.
func (s *Server) requireAuth(c *gin.Context) {
	token, err := c.Cookie(sessionCookie)
	if err != nil {
		abort(c, apierr.Unauthorized("Требуется авторизация"))
		return
	}
	userID, ok := s.sessions.lookup(token)
	if !ok {
		abort(c, apierr.Unauthorized("Сессия истекла"))
		return
	}
	c.Set("userID", userID)
	c.Next()
}

func abort(c *gin.Context, err *apierr.Error) {
	c.AbortWithStatusJSON(err.Status, gin.H{"success": false, "message": err.Message})
}
