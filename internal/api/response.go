package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/Martian-dev/mail-gateway/internal/logger"
	"github.com/Martian-dev/mail-gateway/internal/model"
)

const (
	CodeInvalidInput          = "INVALID_INPUT"
	CodeUnsupportedProvider   = "UNSUPPORTED_PROVIDER"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeWaitlistDenied        = "WAITLIST_DENIED"
	CodeProviderReauth        = "PROVIDER_REAUTH_REQUIRED"
	CodeProviderError         = "PROVIDER_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeRateLimited           = "RATE_LIMITED"
	CodeInternal              = "INTERNAL_ERROR"
	msgInternal               = "Internal server error"
	msgProviderFailed         = "The email provider request failed. Please try again."
	msgProviderReauthTemplate = "Your %s session has expired. Please sign in again."
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// classify maps the error taxonomy to a status, a code and a message that
// is safe to show. Causes never reach the message.
func classify(err error) (int, string, string) {
	var (
		verr        *model.ValidationError
		unsupported *model.UnsupportedProviderError
		denied      *model.AuthorizationDenied
		reauth      *model.ProviderAuthExpiredError
		providerErr *model.ProviderOperationError
		authErr     *model.AuthenticationError
	)

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, CodeInvalidInput, verr.Error()
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, CodeUnsupportedProvider, unsupported.Error()
	case errors.As(err, &denied):
		return http.StatusForbidden, CodeWaitlistDenied, denied.Reason
	case errors.As(err, &reauth):
		return http.StatusUnauthorized, CodeProviderReauth, fmt.Sprintf(msgProviderReauthTemplate, reauth.Provider)
	case errors.As(err, &providerErr):
		if errors.Is(err, model.ErrNotFound) {
			return http.StatusNotFound, CodeNotFound, "Message or folder not found"
		}
		return http.StatusBadGateway, CodeProviderError, msgProviderFailed
	case errors.As(err, &authErr):
		msg := "Authentication failed"
		if authErr.Err != nil {
			msg = authErr.Err.Error()
		}
		return http.StatusUnauthorized, CodeUnauthorized, msg
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, "Not found"
	default:
		return http.StatusInternalServerError, CodeInternal, msgInternal
	}
}

func respondError(c *gin.Context, log *logger.Logger, err error) {
	status, code, msg := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	} else {
		log.Debug("request rejected", "method", c.Request.Method, "path", c.FullPath(), "code", code, "error", err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code})
}

func invalidBody(err error) error {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		fe := fields[0]
		return &model.ValidationError{Field: lowerFirst(fe.Field()), Message: fmt.Sprintf("failed %q validation", fe.Tag())}
	}
	return &model.ValidationError{Message: "malformed JSON body"}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
