package devserver

import (
	"net/http"
	"strings"

	"DMProject/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ctxUserKey = "userId"

// bearer reads the token from "Authorization: Bearer" or, for socket
// handshakes, the token query parameter.
func bearer(c *gin.Context) string {
	if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	return strings.TrimSpace(c.Query("token"))
}

func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := security.Verify(s.jwt, token)
		if err != nil {
			s.log.Debug("token rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID := claims.Subject()
		if _, ok := s.store.user(userID); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		c.Set(ctxUserKey, userID)
		c.Next()
	}
}

func userOf(c *gin.Context) string { return c.GetString(ctxUserKey) }

type tokenRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// issueToken is the dev stand-in for the login flow.
func (s *Server) issueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errBadInput.Because(err, "token request"))
		return
	}
	token, exp, err := s.Token(req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	u, _ := s.store.user(req.UserID)
	c.JSON(http.StatusOK, gin.H{"token": token, "userId": u.ID, "societyId": u.SocietyID, "expiresAt": exp.UTC()})
}
