package yahoo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/Martian-dev/mail-gateway/internal/logger"
	"github.com/Martian-dev/mail-gateway/internal/mail"
	"github.com/Martian-dev/mail-gateway/internal/model"
)

// Sender submits a composed message.
type Sender func(ctx context.Context, creds mail.Credentials, to []string, raw []byte) error

// SMTPSender submits over implicit TLS with the same credential scheme as
// IMAPDialer.
func SMTPSender(addr string, log *logger.Logger) Sender {
	return func(ctx context.Context, creds mail.Credentials, to []string, raw []byte) error {
		c, err := smtp.DialTLS(addr, nil)
		if err != nil {
			return fmt.Errorf("connecting to SMTP %s: %w", addr, err)
		}
		defer c.Close()

		if deadline, ok := ctx.Deadline(); ok {
			c.CommandTimeout = time.Until(deadline)
			c.SubmissionTimeout = c.CommandTimeout
		}

		if err := c.Auth(authClient(creds)); err != nil {
			return classifySMTP("authenticate", err)
		}

		if err := c.SendMail(creds.Email, to, bytes.NewReader(raw)); err != nil {
			return classifySMTP("send message", err)
		}
		quit(c.Quit, creds.Email, log)
		return nil
	}
}

// quit ends a session whose message was already accepted, so a failure is
// only logged.
func quit(fn func() error, account string, log *logger.Logger) {
	if err := fn(); err != nil {
		log.Warn("smtp quit failed after delivery", "account", account, "provider", model.ProviderYahoo, "error", err)
	}
}

func classifySMTP(op string, err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && (smtpErr.Code == 535 || smtpErr.Code == 534 || smtpErr.Code == 530) {
		return fmt.Errorf("%s: %w", op, model.ErrProviderUnauthorized)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
