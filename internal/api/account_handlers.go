package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Martian-dev/mail-gateway/internal/auth"
	"github.com/Martian-dev/mail-gateway/internal/model"
)

// AccountView is the public shape of an account. It carries no secrets.
type AccountView struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	Name               string     `json:"name"`
	Role               string     `json:"role"`
	AuthProvider       string     `json:"authProvider"`
	Picture            string     `json:"picture,omitempty"`
	Status             string     `json:"status"`
	Verified           bool       `json:"verified"`
	HasGoogleAuth      bool       `json:"hasGoogleAuth"`
	HasMicrosoftAuth   bool       `json:"hasMicrosoftAuth"`
	HasYahooAuth       bool       `json:"hasYahooAuth"`
	InboxList          []string   `json:"inboxList"`
	ImportantKeywords  []string   `json:"importantKeywords"`
	SubscriptionPlan   string     `json:"subscriptionPlan"`
	SubscriptionStatus string     `json:"subscriptionStatus"`
	LastSync           *time.Time `json:"lastSync,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

func NewAccountView(a *model.Account) AccountView {
	return AccountView{
		ID:                 a.ID.String(),
		Email:              a.Email,
		Name:               a.Name,
		Role:               string(a.Role),
		AuthProvider:       string(a.AuthProvider),
		Picture:            a.Picture,
		Status:             string(a.Status),
		Verified:           a.Verified,
		HasGoogleAuth:      a.HasProviderAuth(model.ProviderGoogle),
		HasMicrosoftAuth:   a.HasProviderAuth(model.ProviderMicrosoft),
		HasYahooAuth:       a.HasProviderAuth(model.ProviderYahoo),
		InboxList:          append([]string{}, a.InboxList...),
		ImportantKeywords:  a.Keywords(),
		SubscriptionPlan:   a.SubscriptionPlan,
		SubscriptionStatus: a.SubscriptionStatus,
		LastSync:           a.LastSync,
		CreatedAt:          a.CreatedAt,
	}
}

type KeywordsRequest struct {
	Keywords []string `json:"keywords"`
}

type WaitlistRequest struct {
	Email  string `json:"email" binding:"required,email"`
	Status string `json:"status" binding:"required"`
	Inbox  string `json:"inbox"`
}

type WaitlistResponse struct {
	Email  string `json:"email"`
	Status string `json:"status"`
	Inbox  string `json:"inbox,omitempty"`
}

func (s *Server) me(c *gin.Context) {
	account, err := s.accounts.GetByID(c.Request.Context(), auth.AccountID(c))
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, NewAccountView(account))
}

func (s *Server) setKeywords(c *gin.Context) {
	var req KeywordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, invalidBody(err))
		return
	}

	ctx := c.Request.Context()
	id := auth.AccountID(c)
	if err := s.accounts.SetImportantKeywords(ctx, id, model.MergeKeywords(req.Keywords)); err != nil {
		respondError(c, s.log, err)
		return
	}

	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, NewAccountView(account))
}

func (s *Server) upsertWaitlist(c *gin.Context) {
	var req WaitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, invalidBody(err))
		return
	}

	status, err := model.ParseWaitlistStatus(req.Status)
	if err != nil {
		respondError(c, s.log, err)
		return
	}

	entry := &model.WaitlistEntry{Email: model.NormalizeEmail(req.Email), Status: status, Inbox: req.Inbox}
	if err := s.waitlist.UpsertWaitlistEntry(c.Request.Context(), entry); err != nil {
		respondError(c, s.log, err)
		return
	}

	s.log.Info("waitlist entry updated", "email", entry.Email, "status", entry.Status, "by", auth.AccountID(c))
	c.JSON(http.StatusOK, WaitlistResponse{Email: entry.Email, Status: string(entry.Status), Inbox: entry.Inbox})
}

func (s *Server) deleteAccount(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, s.log, &model.ValidationError{Field: "id", Message: "must be a UUID"})
		return
	}

	ctx := c.Request.Context()
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	if err := s.accounts.Delete(ctx, id); err != nil {
		respondError(c, s.log, err)
		return
	}

	if err := s.events.AccountDeleted(ctx, id, account.Email); err != nil {
		s.log.Warn("failed to publish account deletion", "account_id", id, "error", err)
	}
	s.log.Info("account deleted", "account_id", id, "by", auth.AccountID(c))
	c.Status(http.StatusNoContent)
}
