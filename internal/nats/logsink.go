package natsjs

import (
	"context"

	"github.com/google/uuid"

	"github.com/Martian-dev/mail-gateway/internal/logger"
	"github.com/Martian-dev/mail-gateway/internal/model"
)

// LogSink records account events in the log when no NATS server is
// configured.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) NotifyWelcome(_ context.Context, a *model.Account) error {
	s.log.Info("welcome notification", "account_id", a.ID, "provider", a.AuthProvider)
	return nil
}

func (s *LogSink) AccountDeleted(_ context.Context, id uuid.UUID, _ string) error {
	s.log.Info("account deleted", "account_id", id)
	return nil
}
