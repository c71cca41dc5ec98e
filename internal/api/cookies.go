package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/mail-gateway/internal/auth"
)

func (s *Server) setAuthCookies(c *gin.Context, pair *auth.TokenPair) {
	c.SetSameSite(http.SameSiteLaxMode)
	secure := s.cfg.Production()
	c.SetCookie(auth.AccessTokenCookie, pair.AccessToken, int(auth.AccessTokenTTL.Seconds()), "/", "", secure, true)
	c.SetCookie(auth.RefreshTokenCookie, pair.RefreshToken, int(auth.RefreshTokenTTL.Seconds()), "/", "", secure, true)
}

func (s *Server) clearAuthCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	secure := s.cfg.Production()
	c.SetCookie(auth.AccessTokenCookie, "", -1, "/", "", secure, true)
	c.SetCookie(auth.RefreshTokenCookie, "", -1, "/", "", secure, true)
}

func (s *Server) frontendURL(path string, query url.Values) string {
	return strings.TrimRight(s.cfg.FrontendURL, "/") + path + "?" + query.Encode()
}
