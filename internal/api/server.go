package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Martian-dev/mail-gateway/internal/auth"
	"github.com/Martian-dev/mail-gateway/internal/config"
	"github.com/Martian-dev/mail-gateway/internal/logger"
	"github.com/Martian-dev/mail-gateway/internal/mail"
	"github.com/Martian-dev/mail-gateway/internal/model"
	"github.com/Martian-dev/mail-gateway/internal/oauth"
)

// Events receives account lifecycle events.
type Events interface {
	AccountDeleted(ctx context.Context, id uuid.UUID, email string) error
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Config   *config.Config
	Accounts model.AccountStore
	Waitlist model.WaitlistStore
	Tokens   *auth.TokenService
	Local    *auth.LocalService
	OAuth    *oauth.Controller
	Mail     *mail.Service
	Events   Events
	Log      *logger.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	cfg      *config.Config
	accounts model.AccountStore
	waitlist model.WaitlistStore
	tokens   *auth.TokenService
	local    *auth.LocalService
	oauth    *oauth.Controller
	mail     *mail.Service
	events   Events
	log      *logger.Logger
	limiter  *IPRateLimiter
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:      d.Config,
		accounts: d.Accounts,
		waitlist: d.Waitlist,
		tokens:   d.Tokens,
		local:    d.Local,
		oauth:    d.OAuth,
		mail:     d.Mail,
		events:   d.Events,
		log:      d.Log,
		limiter:  NewIPRateLimiter(rate.Limit(d.Config.RateLimit.RPS), d.Config.RateLimit.Burst),
	}
}

// Router builds the gin engine with every route.
func (s *Server) Router() *gin.Engine {
	if s.cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// OAuth
	r.GET("/oauth/:provider", s.beginOAuth)
	for _, p := range s.oauth.Providers() {
		r.GET("/"+string(p)+"/callback", s.oauthCallback(p))
	}

	// Credentials
	limited := r.Group("/", RateLimit(s.limiter, s.log))
	limited.POST("/login", s.login)
	limited.POST("/register", s.register)
	limited.POST("/refresh", s.refresh)
	limited.POST("/yahoo/login", s.yahooLogin)

	// Protected routes
	authorized := r.Group("/", auth.Middleware(s.tokens))
	authorized.GET("/logout", s.logout)
	authorized.GET("/me", s.me)
	authorized.PUT("/me/keywords", s.setKeywords)

	authorized.GET("/fetch-emails", s.fetchEmails)
	authorized.GET("/search-emails", s.searchEmails)
	authorized.POST("/read-email", s.readEmail)
	authorized.POST("/send-email", s.sendEmail)
	authorized.POST("/reply-to-email", s.replyToEmail)
	authorized.POST("/trash-email", s.trashEmail)
	authorized.POST("/mark-email-as-read", s.markEmailAsRead)
	authorized.POST("/move-to-folder", s.moveToFolder)
	authorized.POST("/create-folder", s.createFolder)
	authorized.POST("/summarize-email", s.summarizeEmail)

	admin := authorized.Group("/admin", auth.RequireAdmin())
	admin.POST("/waitlist", s.upsertWaitlist)
	admin.DELETE("/accounts/:id", s.deleteAccount)

	return r
}
