package yahoo

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/Martian-dev/mail-gateway/internal/logger"
	"github.com/Martian-dev/mail-gateway/internal/mail"
	"github.com/Martian-dev/mail-gateway/internal/model"
)

const (
	folderTrash = "Trash"
	folderSent  = "Sent"
)

// Adapter is the IMAP/SMTP Mailbox. Each operation opens its own session
// and closes it before returning. Message ids have the form "<folder>:<uid>".
type Adapter struct {
	creds mail.Credentials
	dial  Dialer
	send  Sender
	log   *logger.Logger
	now   func() time.Time
}

func New(creds mail.Credentials, dial Dialer, send Sender, log *logger.Logger) *Adapter {
	return &Adapter{
		creds: creds,
		dial:  dial,
		send:  send,
		log:   log.With("account", creds.Email, "provider", model.ProviderYahoo),
		now:   time.Now,
	}
}

// Factory binds dial and send into a mail.Factory.
func Factory(dial Dialer, send Sender, log *logger.Logger) mail.Factory {
	return func(_ context.Context, creds mail.Credentials) (mail.Mailbox, error) {
		return New(creds, dial, send, log), nil
	}
}

// Verify opens and closes one session, proving the credentials work.
func Verify(ctx context.Context, dial Dialer, creds mail.Credentials) error {
	s, err := dial(ctx, creds)
	if err != nil {
		return err
	}
	return s.Close()
}

func (a *Adapter) withSession(ctx context.Context, fn func(Session) error) error {
	s, err := a.dial(ctx, a.creds)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			a.log.Warn("imap logout failed", "error", err)
		}
	}()
	return fn(s)
}

func (a *Adapter) List(ctx context.Context, opts mail.ListOptions) (*mail.Page, error) {
	return a.page(ctx, opts, &imap.SearchCriteria{})
}

func (a *Adapter) Search(ctx context.Context, opts mail.ListOptions) (*mail.Page, error) {
	return a.page(ctx, opts, &imap.SearchCriteria{Text: []string{opts.Query}})
}

func (a *Adapter) page(ctx context.Context, opts mail.ListOptions, criteria *imap.SearchCriteria) (*mail.Page, error) {
	folder := opts.Folder
	if folder == "" {
		folder = mail.DefaultFolder
	}
	before, err := decodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}

	var page mail.Page
	err = a.withSession(ctx, func(s Session) error {
		if err := s.Select(folder); err != nil {
			return err
		}
		uids, err := s.SearchUIDs(criteria)
		if err != nil {
			return err
		}

		selected, next := paginateUIDs(uids, before, opts.Limit)
		summaries, err := s.FetchSummaries(selected)
		if err != nil {
			return err
		}

		byUID := make(map[imap.UID]Summary, len(summaries))
		for _, sum := range summaries {
			byUID[sum.UID] = sum
		}
		page.Messages = make([]mail.Message, 0, len(selected))
		for _, uid := range selected {
			if sum, ok := byUID[uid]; ok {
				page.Messages = append(page.Messages, normalizeSummary(folder, sum))
			}
		}
		if next != 0 {
			page.NextCursor = encodeCursor(next)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (a *Adapter) Get(ctx context.Context, id string) (*mail.Message, error) {
	folder, uid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var msg *mail.Message
	err = a.withSession(ctx, func(s Session) error {
		if err := s.Select(folder); err != nil {
			return err
		}
		raw, err := s.FetchRaw(uid)
		if err != nil {
			return err
		}
		msg, err = mail.ParseMIME(raw)
		if err != nil {
			return err
		}
		msg.ID = id
		msg.ThreadID = threadID(msg)
		return nil
	})
	return msg, err
}

func (a *Adapter) Send(ctx context.Context, out mail.OutgoingMessage) error {
	raw, err := mail.BuildMIME(a.creds.Email, out, nil, a.now())
	if err != nil {
		return err
	}
	return a.submit(ctx, out.Recipients(), raw)
}

// Reply threads onto the parent and answers its sender unless explicit
// recipients are given.
func (a *Adapter) Reply(ctx context.Context, id string, out mail.OutgoingMessage) error {
	parent, err := a.Get(ctx, id)
	if err != nil {
		return err
	}
	if len(out.To) == 0 && parent.From.Email != "" {
		out.To = []string{parent.From.Email}
	}

	raw, err := mail.BuildMIME(a.creds.Email, out, parent, a.now())
	if err != nil {
		return err
	}
	return a.submit(ctx, out.Recipients(), raw)
}

// submit sends raw and then files a copy in Sent. The copy is best effort:
// the message is already delivered when it fails.
func (a *Adapter) submit(ctx context.Context, recipients []string, raw []byte) error {
	var to []string
	for _, r := range recipients {
		for _, addr := range mail.HeaderAddresses(r) {
			to = append(to, addr.Email)
		}
	}
	if err := a.send(ctx, a.creds, to, raw); err != nil {
		return err
	}

	err := a.withSession(ctx, func(s Session) error {
		return s.Append(folderSent, raw, imap.FlagSeen)
	})
	if err != nil {
		a.log.Warn("failed to file sent copy", "folder", folderSent, "error", err)
	}
	return nil
}

func (a *Adapter) Trash(ctx context.Context, id string) error {
	return a.Move(ctx, id, folderTrash)
}

func (a *Adapter) MarkRead(ctx context.Context, id string) error {
	folder, uid, err := parseID(id)
	if err != nil {
		return err
	}
	return a.withSession(ctx, func(s Session) error {
		if err := s.Select(folder); err != nil {
			return err
		}
		return s.AddFlags(uid, imap.FlagSeen)
	})
}

func (a *Adapter) Move(ctx context.Context, id, dest string) error {
	folder, uid, err := parseID(id)
	if err != nil {
		return err
	}
	return a.withSession(ctx, func(s Session) error {
		if err := s.Select(folder); err != nil {
			return err
		}
		return s.Move(uid, dest)
	})
}

func (a *Adapter) CreateFolder(ctx context.Context, name string) (*mail.Folder, error) {
	err := a.withSession(ctx, func(s Session) error {
		return s.Create(name)
	})
	if err != nil {
		return nil, err
	}
	return &mail.Folder{ID: name, Name: name}, nil
}

// paginateUIDs returns up to limit uids below before, newest first, and the
// bound for the following page (zero when there is none).
func paginateUIDs(uids []imap.UID, before imap.UID, limit int) ([]imap.UID, imap.UID) {
	sorted := slices.Clone(uids)
	slices.Sort(sorted)
	if before != 0 {
		n, _ := slices.BinarySearch(sorted, before)
		sorted = sorted[:n]
	}
	if limit <= 0 {
		limit = mail.DefaultLimit
	}

	start := max(len(sorted)-limit, 0)
	page := slices.Clone(sorted[start:])
	slices.Reverse(page)

	var next imap.UID
	if start > 0 && len(page) > 0 {
		next = page[len(page)-1]
	}
	return page, next
}

func encodeCursor(before imap.UID) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatUint(uint64(before), 10)))
}

func decodeCursor(cursor string) (imap.UID, error) {
	if cursor == "" {
		return 0, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, &model.ValidationError{Field: "cursor", Message: "malformed cursor"}
	}
	n, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil || n == 0 {
		return 0, &model.ValidationError{Field: "cursor", Message: "malformed cursor"}
	}
	return imap.UID(n), nil
}

func messageID(folder string, uid imap.UID) string {
	return folder + ":" + strconv.FormatUint(uint64(uid), 10)
}

func parseID(id string) (string, imap.UID, error) {
	folder, num := mail.DefaultFolder, id
	if i := strings.LastIndex(id, ":"); i >= 0 {
		folder, num = id[:i], id[i+1:]
	}
	n, err := strconv.ParseUint(num, 10, 32)
	if err != nil || n == 0 || folder == "" {
		return "", 0, &model.ValidationError{Field: "id", Message: fmt.Sprintf("invalid message id %q", id)}
	}
	return folder, imap.UID(n), nil
}

func normalizeSummary(folder string, s Summary) mail.Message {
	msg := mail.Message{
		ID:     messageID(folder, s.UID),
		Unread: !slices.Contains(s.Flags, imap.FlagSeen),
	}
	for _, f := range s.Flags {
		if !strings.HasPrefix(string(f), `\`) {
			msg.Labels = append(msg.Labels, string(f))
		}
	}

	env := s.Envelope
	if env == nil {
		return msg
	}
	msg.MessageID = env.MessageID
	msg.Subject = env.Subject
	msg.Date = env.Date
	if len(env.From) > 0 {
		msg.From = toAddress(env.From[0])
	}
	for _, a := range env.To {
		msg.To = append(msg.To, toAddress(a))
	}
	for _, a := range env.Cc {
		msg.Cc = append(msg.Cc, toAddress(a))
	}
	if len(env.InReplyTo) > 0 {
		msg.ThreadID = env.InReplyTo[0]
	} else {
		msg.ThreadID = env.MessageID
	}
	return msg
}

func toAddress(a imap.Address) mail.Address {
	return mail.Address{Name: a.Name, Email: a.Addr()}
}

// threadID matches the envelope view: the direct parent, or the message
// itself.
func threadID(m *mail.Message) string {
	if n := len(m.References); n > 0 {
		return m.References[n-1]
	}
	return m.MessageID
}
