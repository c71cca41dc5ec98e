package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/mail-gateway/internal/auth"
	"github.com/Martian-dev/mail-gateway/internal/mail"
	"github.com/Martian-dev/mail-gateway/internal/model"
)

type MessageRequest struct {
	ID string `json:"id" binding:"required"`
}

type MoveRequest struct {
	ID     string `json:"id" binding:"required"`
	Folder string `json:"folder" binding:"required"`
}

type FolderRequest struct {
	Name string `json:"name" binding:"required"`
}

type ReplyRequest struct {
	ID string `json:"id" binding:"required"`
	mail.OutgoingMessage
}

func listOptions(c *gin.Context) (mail.ListOptions, error) {
	opts := mail.ListOptions{
		Folder: c.Query("folder"),
		Query:  c.Query("query"),
		Cursor: c.Query("cursor"),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, &model.ValidationError{Field: "limit", Message: "must be a positive integer"}
		}
		opts.Limit = n
	}
	return opts, nil
}

func (s *Server) fetchEmails(c *gin.Context) {
	opts, err := listOptions(c)
	if err != nil {
		respondError(c, s.log, err)
		return
	}

	page, err := s.mail.Fetch(c.Request.Context(), auth.AccountID(c), opts)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) searchEmails(c *gin.Context) {
	opts, err := listOptions(c)
	if err != nil {
		respondError(c, s.log, err)
		return
	}

	page, err := s.mail.Search(c.Request.Context(), auth.AccountID(c), opts)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) readEmail(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, invalidBody(err))
		return
	}

	msg, err := s.mail.Read(c.Request.Context(), auth.AccountID(c), req.ID)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) sendEmail(c *gin.Context) {
	var req mail.OutgoingMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, invalidBody(err))
		return
	}

	if err := s.mail.Send(c.Request.Context(), auth.AccountID(c), req); err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email sent"})
}

func (s *Server) replyToEmail(c *gin.Context) {
	var req ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, invalidBody(err))
		return
	}

	if err := s.mail.Reply(c.Request.Context(), auth.AccountID(c), req.ID, req.OutgoingMessage); err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Reply sent"})
}

func (s *Server) trashEmail(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, invalidBody(err))
		return
	}

	if err := s.mail.Trash(c.Request.Context(), auth.AccountID(c), req.ID); err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email moved to trash"})
}

func (s *Server) markEmailAsRead(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, invalidBody(err))
		return
	}

	if err := s.mail.MarkRead(c.Request.Context(), auth.AccountID(c), req.ID); err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email marked as read"})
}

func (s *Server) moveToFolder(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, invalidBody(err))
		return
	}

	if err := s.mail.Move(c.Request.Context(), auth.AccountID(c), req.ID, req.Folder); err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email moved"})
}

func (s *Server) createFolder(c *gin.Context) {
	var req FolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, invalidBody(err))
		return
	}

	folder, err := s.mail.CreateFolder(c.Request.Context(), auth.AccountID(c), req.Name)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, folder)
}

func (s *Server) summarizeEmail(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, invalidBody(err))
		return
	}

	summary, err := s.mail.Summarize(c.Request.Context(), auth.AccountID(c), req.ID)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
