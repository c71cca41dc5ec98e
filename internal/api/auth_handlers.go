package api

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/mail-gateway/internal/auth"
	"github.com/Martian-dev/mail-gateway/internal/model"
	"github.com/Martian-dev/mail-gateway/internal/oauth"
)

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// SessionResponse is returned by every credential endpoint.
type SessionResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         AccountView `json:"user"`
}

func (s *Server) beginOAuth(c *gin.Context) {
	target, err := s.oauth.Begin(c.Param("provider"), c.Query("redirect"))
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (s *Server) oauthCallback(provider model.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := s.oauth.Complete(c.Request.Context(), string(provider), oauth.Callback{
			Code:             c.Query("code"),
			State:            c.Query("state"),
			Error:            c.Query("error"),
			ErrorDescription: c.Query("error_description"),
		})

		if res.Outcome != oauth.Linked {
			c.Redirect(http.StatusFound, s.frontendURL("/auth/error", url.Values{"message": {res.Message}}))
			return
		}

		pair := res.Link.Tokens
		s.setAuthCookies(c, pair)
		c.Redirect(http.StatusFound, s.frontendURL("/auth/callback", url.Values{
			"accessToken":  {pair.AccessToken},
			"refreshToken": {pair.RefreshToken},
			"redirect":     {res.Redirect},
		}))
	}
}

func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, invalidBody(err))
		return
	}

	account, pair, err := s.local.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, s.log, err)
		return
	}

	s.session(c, http.StatusOK, account, pair)
}

func (s *Server) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, invalidBody(err))
		return
	}

	account, pair, err := s.local.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		respondError(c, s.log, err)
		return
	}

	s.session(c, http.StatusCreated, account, pair)
}

func (s *Server) refresh(c *gin.Context) {
	var req RefreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, s.log, invalidBody(err))
			return
		}
	}
	if req.RefreshToken == "" {
		req.RefreshToken, _ = c.Cookie(auth.RefreshTokenCookie)
	}
	if req.RefreshToken == "" {
		respondError(c, s.log, &model.ValidationError{Field: "refreshToken", Message: "is required"})
		return
	}

	pair, account, err := s.tokens.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, s.log, err)
		return
	}

	s.session(c, http.StatusOK, account, pair)
}

func (s *Server) yahooLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, invalidBody(err))
		return
	}

	res, err := s.oauth.PasswordLogin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, s.log, err)
		return
	}

	s.session(c, http.StatusOK, res.Account, res.Tokens)
}

func (s *Server) logout(c *gin.Context) {
	if err := s.tokens.Revoke(c.Request.Context(), auth.AccountID(c)); err != nil {
		respondError(c, s.log, err)
		return
	}

	s.clearAuthCookies(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (s *Server) session(c *gin.Context, status int, account *model.Account, pair *auth.TokenPair) {
	s.setAuthCookies(c, pair)
	c.JSON(status, SessionResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         NewAccountView(account),
	})
}
