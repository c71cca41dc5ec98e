package yahoo

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/Martian-dev/mail-gateway/internal/mail"
	"github.com/Martian-dev/mail-gateway/internal/model"
)

// Summary is the envelope-level view of one message.
type Summary struct {
	UID      imap.UID
	Flags    []imap.Flag
	Envelope *imap.Envelope
	Size     int64
}

// Session is an authenticated IMAP connection. Operations after Select
// apply to the selected mailbox.
type Session interface {
	Select(mailbox string) error
	SearchUIDs(criteria *imap.SearchCriteria) ([]imap.UID, error)
	FetchSummaries(uids []imap.UID) ([]Summary, error)
	FetchRaw(uid imap.UID) ([]byte, error)
	AddFlags(uid imap.UID, flags ...imap.Flag) error
	Move(uid imap.UID, mailbox string) error
	Create(mailbox string) error
	Append(mailbox string, raw []byte, flags ...imap.Flag) error
	Close() error
}

// Dialer opens a Session for creds.
type Dialer func(ctx context.Context, creds mail.Credentials) (Session, error)

// IMAPDialer connects over implicit TLS. App passwords go through LOGIN,
// OAuth access tokens through OAUTHBEARER.
func IMAPDialer(addr string) Dialer {
	return func(ctx context.Context, creds mail.Credentials) (Session, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid IMAP address %q: %w", addr, err)
		}

		dialer := &tls.Dialer{Config: &tls.Config{ServerName: host}}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}

		client := imapclient.New(conn, nil)
		if creds.Password {
			err = client.Login(creds.Email, creds.AccessToken).Wait()
		} else {
			err = client.Authenticate(authClient(creds))
		}
		if err != nil {
			_ = client.Close()
			return nil, classifyIMAP("authenticate", err)
		}

		return &imapSession{client: client}, nil
	}
}

// authClient presents app passwords through PLAIN and OAuth access tokens
// through OAUTHBEARER. The choice follows the credential, not whether the
// Yahoo OAuth login is enabled.
func authClient(creds mail.Credentials) sasl.Client {
	if creds.Password {
		return sasl.NewPlainClient("", creds.Email, creds.AccessToken)
	}
	return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{Username: creds.Email, Token: creds.AccessToken})
}

type imapSession struct {
	client *imapclient.Client
}

func (s *imapSession) Select(mailbox string) error {
	if _, err := s.client.Select(mailbox, nil).Wait(); err != nil {
		return classifyIMAP(fmt.Sprintf("select %s", mailbox), err)
	}
	return nil
}

func (s *imapSession) SearchUIDs(criteria *imap.SearchCriteria) ([]imap.UID, error) {
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, classifyIMAP("search", err)
	}
	return data.AllUIDs(), nil
}

func (s *imapSession) FetchSummaries(uids []imap.UID) ([]Summary, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	msgs, err := s.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:        true,
		Flags:      true,
		Envelope:   true,
		RFC822Size: true,
	}).Collect()
	if err != nil {
		return nil, classifyIMAP("fetch envelopes", err)
	}

	out := make([]Summary, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Summary{UID: m.UID, Flags: m.Flags, Envelope: m.Envelope, Size: m.RFC822Size})
	}
	return out, nil
}

func (s *imapSession) FetchRaw(uid imap.UID) ([]byte, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	msgs, err := s.client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, classifyIMAP("fetch message", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message %d: %w", uid, model.ErrNotFound)
	}

	raw := msgs[0].FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("message %d has no body: %w", uid, model.ErrNotFound)
	}
	return raw, nil
}

func (s *imapSession) AddFlags(uid imap.UID, flags ...imap.Flag) error {
	err := s.client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  flags,
	}, nil).Close()
	if err != nil {
		return classifyIMAP("store flags", err)
	}
	return nil
}

func (s *imapSession) Move(uid imap.UID, mailbox string) error {
	if _, err := s.client.Move(imap.UIDSetNum(uid), mailbox).Wait(); err != nil {
		return classifyIMAP(fmt.Sprintf("move to %s", mailbox), err)
	}
	return nil
}

func (s *imapSession) Create(mailbox string) error {
	if err := s.client.Create(mailbox, nil).Wait(); err != nil {
		return classifyIMAP(fmt.Sprintf("create %s", mailbox), err)
	}
	return nil
}

func (s *imapSession) Append(mailbox string, raw []byte, flags ...imap.Flag) error {
	cmd := s.client.Append(mailbox, int64(len(raw)), &imap.AppendOptions{Flags: flags})
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("failed to close append: %w", err)
	}
	if _, err := cmd.Wait(); err != nil {
		return classifyIMAP(fmt.Sprintf("append to %s", mailbox), err)
	}
	return nil
}

func (s *imapSession) Close() error {
	if err := s.client.Logout().Wait(); err != nil {
		_ = s.client.Close()
		return err
	}
	return s.client.Close()
}

// classifyIMAP maps AUTHENTICATIONFAILED and friends to the unauthorized
// sentinel.
func classifyIMAP(op string, err error) error {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		switch imapErr.Code {
		case imap.ResponseCodeAuthenticationFailed, imap.ResponseCodeAuthorizationFailed, imap.ResponseCodeExpired:
			return fmt.Errorf("%s: %w", op, model.ErrProviderUnauthorized)
		case imap.ResponseCodeNonExistent:
			return fmt.Errorf("%s: %w", op, model.ErrNotFound)
		}
		if op == "authenticate" && imapErr.Type == imap.StatusResponseTypeNo {
			return fmt.Errorf("%s: %w", op, model.ErrProviderUnauthorized)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
